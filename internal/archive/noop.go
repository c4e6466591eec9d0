// Package archive provides the no-op ArchiveStore used when raw HTML
// archiving is disabled. Backend implementations live in subpackages.
package archive

import "context"

// Noop discards all writes. The importer treats archiving as best effort, so
// disabling it costs nothing.
type Noop struct{}

// NewNoop returns a Noop archive store.
func NewNoop() Noop {
	return Noop{}
}

// Put discards the data and returns an empty URI.
func (Noop) Put(context.Context, string, string, []byte) (string, error) {
	return "", nil
}
