package importer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
)

// archivePath derives a stable object path for a fetched page from its URL:
// <host>/<sha256-of-url>.html. Host prefixing keeps the archive browsable per
// source site.
func archivePath(rawURL string) string {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	sum := sha256.Sum256([]byte(rawURL))
	return fmt.Sprintf("%s/%s.html", host, hex.EncodeToString(sum[:]))
}
