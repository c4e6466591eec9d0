// Package api exposes the HTTP interface for the import service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"novelkeeper/internal/config"
	"novelkeeper/internal/extract"
	"novelkeeper/internal/importer"
	"novelkeeper/internal/novel"
	"novelkeeper/internal/reconcile"
)

// wordsPerChapterEstimate seeds a novel's word count at discovery time; the
// processor replaces it with measured counts as chapters import.
const wordsPerChapterEstimate = 2000

// Server wires HTTP handlers to the stores and the batch processor.
type Server struct {
	router     chi.Router
	novels     novel.NovelStore
	chapters   novel.ChapterStore
	tasks      novel.TaskStore
	queue      novel.ChapterQueue
	processor  *importer.Processor
	reconciler *reconcile.Reconciler
	fetcher    novel.Fetcher
	index      *extract.IndexParser
	idGen      novel.IDGenerator
	clock      novel.Clock
	registry   *prometheus.Registry
	trigger    *rate.Limiter
	logger     *zap.Logger
	cfg        config.Config
}

// Deps carries the server's collaborators.
type Deps struct {
	Novels     novel.NovelStore
	Chapters   novel.ChapterStore
	Tasks      novel.TaskStore
	Queue      novel.ChapterQueue
	Processor  *importer.Processor
	Reconciler *reconcile.Reconciler
	Fetcher    novel.Fetcher
	Index      *extract.IndexParser
	IDGen      novel.IDGenerator
	Clock      novel.Clock
	Registry   *prometheus.Registry
	Logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		novels:     deps.Novels,
		chapters:   deps.Chapters,
		tasks:      deps.Tasks,
		queue:      deps.Queue,
		processor:  deps.Processor,
		reconciler: deps.Reconciler,
		fetcher:    deps.Fetcher,
		index:      deps.Index,
		idGen:      deps.IDGen,
		clock:      deps.Clock,
		registry:   deps.Registry,
		// The trigger endpoints are unauthenticated; a small token bucket
		// keeps an over-eager external cron from stampeding the queue.
		trigger: rate.NewLimiter(rate.Every(time.Second), 3),
		logger:  logger,
		cfg:     cfg,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/metrics", s.metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/import", func(r chi.Router) {
			r.With(apiKeyGuard(cfg.Auth)).Post("/preview", s.previewImport)
			r.With(apiKeyGuard(cfg.Auth)).Post("/start", s.startImport)
			r.With(triggerRateLimit(s.trigger)).Post("/process", s.processQueue)
			r.With(triggerRateLimit(s.trigger)).Get("/process", s.processQueue)
		})
		r.With(triggerRateLimit(s.trigger)).Get("/cron/process", s.cronProcess)
		r.Route("/tasks", func(r chi.Router) {
			r.Use(apiKeyGuard(cfg.Auth))
			r.Get("/", s.listTasks)
			r.Route("/{task_id}", func(r chi.Router) {
				r.Get("/", s.getTask)
				r.Delete("/", s.deleteTask)
			})
		})
		r.Route("/novels", func(r chi.Router) {
			r.Get("/", s.listNovels)
			r.Route("/{novel_id}", func(r chi.Router) {
				r.Get("/", s.getNovel)
				r.Get("/chapters", s.listChapters)
				r.Get("/chapters/{number}", s.getChapter)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.tasks.ListPending(r.Context(), 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "task store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

type importRequest struct {
	URL string `json:"url"`
}

type previewResponse struct {
	Existing  bool                  `json:"existing"`
	NovelID   string                `json:"novel_id,omitempty"`
	Info      novel.NovelInfo       `json:"info"`
	Reconcile novel.ReconcileResult `json:"reconcile"`
}

func (s *Server) previewImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "missing source url")
		return
	}

	info, _, err := s.scrapeIndex(r.Context(), req.URL)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if len(info.Chapters) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no chapters found on index page")
		return
	}

	resp := previewResponse{Info: info}
	existing, err := s.novels.FindByTitleAuthor(r.Context(), info.Title, info.Author)
	switch {
	case err == nil:
		resp.Existing = true
		resp.NovelID = existing.ID
		resp.Reconcile = s.reconciler.Reconcile(r.Context(), existing.ID, existing.ChapterCount, info.Chapters)
	case errors.Is(err, novel.ErrNotFound):
		resp.Reconcile = s.reconciler.Reconcile(r.Context(), "", 0, info.Chapters)
	default:
		writeError(w, http.StatusInternalServerError, "novel lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type startResponse struct {
	TaskID        string `json:"task_id,omitempty"`
	NovelID       string `json:"novel_id"`
	NovelCreated  bool   `json:"novel_created"`
	TotalChapters int    `json:"total_chapters"`
	Message       string `json:"message"`
}

func (s *Server) startImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "missing source url")
		return
	}
	ctx := r.Context()

	info, body, err := s.scrapeIndex(ctx, req.URL)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if len(info.Chapters) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no chapters found on index page")
		return
	}

	nov, created, err := s.findOrCreateNovel(ctx, info)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	previousCount := nov.ChapterCount
	if created {
		previousCount = 0
	}
	recon := s.reconciler.Reconcile(ctx, nov.ID, previousCount, info.Chapters)
	toEnqueue := append(append([]novel.IndexChapter{}, recon.Pending...), recon.New...)
	if len(toEnqueue) == 0 {
		writeJSON(w, http.StatusOK, startResponse{
			NovelID:       nov.ID,
			NovelCreated:  created,
			TotalChapters: recon.TotalChapters,
			Message:       "already up to date",
		})
		return
	}

	taskType := novel.TaskTypeImport
	if !created {
		taskType = novel.TaskTypeUpdate
	}
	taskID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate task id failed")
		return
	}
	now := s.clock.Now()
	task := novel.ImportTask{
		ID:            taskID,
		NovelID:       nov.ID,
		Type:          taskType,
		Status:        novel.TaskPending,
		TotalChapters: len(toEnqueue),
		SourceURL:     req.URL,
		IndexHTML:     string(body),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if task, err = s.tasks.Create(ctx, task); err != nil {
		writeError(w, http.StatusInternalServerError, "create import task failed")
		return
	}
	if err := s.queue.Enqueue(ctx, task.ID, nov.ID, toEnqueue); err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue chapters failed")
		return
	}

	s.logger.Info("import task created",
		zap.String("task_id", task.ID),
		zap.String("novel_id", nov.ID),
		zap.String("type", string(taskType)),
		zap.Int("chapters", len(toEnqueue)),
	)
	writeJSON(w, http.StatusAccepted, startResponse{
		TaskID:        task.ID,
		NovelID:       nov.ID,
		NovelCreated:  created,
		TotalChapters: len(toEnqueue),
		Message:       fmt.Sprintf("queued %d chapters", len(toEnqueue)),
	})
}

type processRequest struct {
	MaxTasks    *int     `json:"max_tasks"`
	MaxChapters *int     `json:"max_chapters"`
	TaskIDs     []string `json:"task_ids"`
}

func (s *Server) processQueue(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if r.Method == http.MethodPost {
		// A bare POST with no body is a valid "use defaults" trigger.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	maxTasks := valueOrDefault(req.MaxTasks, s.cfg.Import.MaxTasksPerCall)
	maxChapters := valueOrDefault(req.MaxChapters, s.cfg.Import.BatchSize)

	if err := s.probeStore(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	summary := s.processor.ProcessQueue(r.Context(), maxTasks, maxChapters, req.TaskIDs)
	writeJSON(w, http.StatusOK, summary)
}

// probeStore distinguishes "store down" from "chapters failed": the trigger
// reports per-chapter failures inside a 200 summary, but an unreachable or
// unconfigured store is a 5xx.
func (s *Server) probeStore(ctx context.Context) error {
	if _, err := s.tasks.ListPending(ctx, 1); err != nil {
		return fmt.Errorf("task store unavailable: %w", err)
	}
	return nil
}

func (s *Server) cronProcess(w http.ResponseWriter, r *http.Request) {
	if secret := s.cfg.Cron.Secret; secret != "" {
		if r.Header.Get("Authorization") != "Bearer "+secret {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}
	if err := s.probeStore(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	summary := s.processor.ProcessQueue(r.Context(), s.cfg.Cron.MaxTasks, s.cfg.Cron.MaxChapters, nil)
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list tasks failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if err := s.tasks.Delete(r.Context(), taskID); err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": "deleted"})
}

func (s *Server) listNovels(w http.ResponseWriter, r *http.Request) {
	novels, err := s.novels.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list novels failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"novels": novels, "count": len(novels)})
}

func (s *Server) getNovel(w http.ResponseWriter, r *http.Request) {
	nov, err := s.novels.Get(r.Context(), chi.URLParam(r, "novel_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "novel not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"novel": nov})
}

func (s *Server) listChapters(w http.ResponseWriter, r *http.Request) {
	chapters, err := s.chapters.List(r.Context(), chi.URLParam(r, "novel_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list chapters failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chapters": chapters, "count": len(chapters)})
}

func (s *Server) getChapter(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number < 1 {
		writeError(w, http.StatusBadRequest, "invalid chapter number")
		return
	}
	ch, err := s.chapters.Get(r.Context(), chi.URLParam(r, "novel_id"), number)
	if err != nil {
		writeError(w, http.StatusNotFound, "chapter not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chapter": ch})
}

// scrapeIndex fetches the index page and assembles NovelInfo including the
// chapter listing.
func (s *Server) scrapeIndex(ctx context.Context, pageURL string) (novel.NovelInfo, []byte, error) {
	resp, err := s.fetcher.Fetch(ctx, novel.FetchRequest{URL: pageURL})
	if err != nil {
		return novel.NovelInfo{}, nil, fmt.Errorf("fetch index page: %w", err)
	}
	info, err := s.index.Info(resp.Body, pageURL)
	if err != nil {
		return novel.NovelInfo{}, nil, err
	}
	chapters, err := s.index.Chapters(resp.Body, pageURL)
	if err != nil {
		return novel.NovelInfo{}, nil, err
	}
	info.Chapters = chapters
	if len(chapters) > 0 {
		info.LatestChapter = chapters[len(chapters)-1].Title
		info.WordCount = int64(len(chapters)) * wordsPerChapterEstimate
	}
	return info, resp.Body, nil
}

func (s *Server) findOrCreateNovel(ctx context.Context, info novel.NovelInfo) (novel.Novel, bool, error) {
	existing, err := s.novels.FindByTitleAuthor(ctx, info.Title, info.Author)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, novel.ErrNotFound) {
		return novel.Novel{}, false, fmt.Errorf("novel lookup failed: %w", err)
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return novel.Novel{}, false, fmt.Errorf("generate novel id: %w", err)
	}
	now := s.clock.Now()
	nov := novel.Novel{
		ID:            id,
		Title:         info.Title,
		Author:        info.Author,
		Description:   info.Description,
		Category:      info.Category,
		Cover:         info.Cover,
		Status:        novel.NovelSerializing,
		SourceURL:     info.SourceURL,
		WordCount:     info.WordCount,
		LatestChapter: info.LatestChapter,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	nov, err = s.novels.Create(ctx, nov)
	if err != nil {
		return novel.Novel{}, false, fmt.Errorf("create novel: %w", err)
	}
	return nov, true, nil
}

func valueOrDefault[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}
