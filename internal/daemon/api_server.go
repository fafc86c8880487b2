package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"telecine/internal/config"
	"telecine/internal/errkind"
	"telecine/internal/events"
	"telecine/internal/logging"
	"telecine/internal/parallel"
	"telecine/internal/queue"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// addRequest is the enqueue payload.
type addRequest struct {
	InputPath  string         `json:"input_path"`
	OutputPath string         `json:"output_path,omitempty"`
	Settings   queue.Settings `json:"settings,omitempty"`
}

type queueListResponse struct {
	Items []*queue.Item `json:"items"`
}

type queueItemResponse struct {
	Item *queue.Item `json:"item"`
}

type actionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// limitRequest adjusts a concurrency limit. An empty pool targets the
// single-queue scheduler; "video" and "audio" target the batch pools.
type limitRequest struct {
	Pool          string `json:"pool,omitempty"`
	MaxConcurrent int    `json:"max_concurrent"`
}

// batchRequest submits batch items. Replace performs a hard reset first.
type batchRequest struct {
	BatchID string                     `json:"batch_id,omitempty"`
	Replace bool                       `json:"replace,omitempty"`
	Items   []parallel.BatchImportItem `json:"items"`
}

type batchResponse struct {
	BatchID string   `json:"batch_id"`
	ItemIDs []string `json:"item_ids"`
}

type batchStatusResponse struct {
	Aggregated events.Aggregated       `json:"aggregated"`
	Items      []parallel.ItemSnapshot `json:"items"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.WithComponent(logger, "api"),
		daemon: d,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/queue", srv.handleQueue)
	mux.HandleFunc("/api/queue/", srv.handleQueueItem)
	mux.HandleFunc("/api/batch", srv.handleBatch)
	mux.HandleFunc("/api/pause", srv.handlePauseAll)
	mux.HandleFunc("/api/resume", srv.handleResumeAll)
	mux.HandleFunc("/api/limit", srv.handleLimit)
	mux.HandleFunc("/api/history", srv.handleHistory)
	mux.HandleFunc("/api/notifications/test", srv.handleTestNotification)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr returns the bound address, useful when the bind used port zero.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items := s.daemon.Manager().Queue()
		if statuses := parseStatusFilter(r); len(statuses) > 0 {
			filtered := items[:0]
			for _, item := range items {
				for _, status := range statuses {
					if item.Status == status {
						filtered = append(filtered, item)
						break
					}
				}
			}
			items = filtered
		}
		s.writeJSON(w, http.StatusOK, queueListResponse{Items: items})
	case http.MethodPost:
		var req addRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		item, err := s.daemon.AddFile(req.InputPath, req.OutputPath, req.Settings)
		if err != nil {
			s.writeError(w, statusFor(err), errkind.DisplayMessage(err))
			return
		}
		s.writeJSON(w, http.StatusCreated, queueItemResponse{Item: item})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleQueueItem serves /api/queue/{id} and /api/queue/{id}/{action}.
func (s *apiServer) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, http.StatusNotFound, "queue item not found")
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			item, ok := s.daemon.Manager().Item(id)
			if !ok {
				s.writeError(w, http.StatusNotFound, "queue item not found")
				return
			}
			s.writeJSON(w, http.StatusOK, queueItemResponse{Item: item})
		case http.MethodDelete:
			if err := s.daemon.Manager().RemoveItem(id); err != nil {
				s.writeError(w, statusFor(err), errkind.DisplayMessage(err))
				return
			}
			s.writeJSON(w, http.StatusOK, actionResponse{OK: true})
		default:
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if len(parts) != 2 || r.Method != http.MethodPost {
		s.writeError(w, http.StatusNotFound, "unknown queue action")
		return
	}
	manager := s.daemon.Manager()
	var err error
	switch parts[1] {
	case "pause":
		err = manager.PauseItem(id)
	case "resume":
		err = manager.ResumeItem(id)
	case "cancel":
		err = manager.CancelItem(id)
	case "retry":
		err = manager.RetryItem(id)
		if err == nil {
			s.daemon.ensureProcessing()
		}
	default:
		s.writeError(w, http.StatusNotFound, "unknown queue action")
		return
	}
	if err != nil {
		s.writeError(w, statusFor(err), errkind.DisplayMessage(err))
		return
	}
	s.writeJSON(w, http.StatusOK, actionResponse{OK: true})
}

// handleBatch serves the dual-pool surface: submit or replace a batch,
// inspect aggregated progress, cancel everything.
func (s *apiServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, batchStatusResponse{
			Aggregated: s.daemon.Batch().AggregatedProgress(),
			Items:      s.daemon.Batch().Items(),
		})
	case http.MethodPost:
		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		var (
			batchID string
			ids     []string
			err     error
		)
		if req.Replace {
			batchID, ids, err = s.daemon.Batch().StartNewBatch(req.BatchID, req.Items)
		} else {
			batchID, ids, err = s.daemon.Batch().AddBatchWithID(req.BatchID, req.Items)
		}
		if err != nil {
			s.writeError(w, statusFor(err), errkind.DisplayMessage(err))
			return
		}
		s.daemon.ensureBatchProcessing()
		s.writeJSON(w, http.StatusCreated, batchResponse{BatchID: batchID, ItemIDs: ids})
	case http.MethodDelete:
		s.daemon.Batch().CancelAll()
		s.writeJSON(w, http.StatusOK, actionResponse{OK: true, Message: "batch cancelled"})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handlePauseAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.daemon.PauseAll()
	s.writeJSON(w, http.StatusOK, actionResponse{OK: true, Message: "queue paused"})
}

func (s *apiServer) handleResumeAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.daemon.ResumeAll()
	s.writeJSON(w, http.StatusOK, actionResponse{OK: true, Message: "queue resumed"})
}

func (s *apiServer) handleLimit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req limitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var applied int
	switch strings.ToLower(strings.TrimSpace(req.Pool)) {
	case "":
		applied = s.daemon.Manager().SetMaxConcurrent(req.MaxConcurrent)
	case "video":
		applied = s.daemon.Batch().SetVideoLimit(req.MaxConcurrent)
	case "audio":
		applied = s.daemon.Batch().SetAudioLimit(req.MaxConcurrent)
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown pool %q", req.Pool))
		return
	}
	s.writeJSON(w, http.StatusOK, actionResponse{OK: true, Message: strconv.Itoa(applied)})
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	journal := s.daemon.Journal()
	if journal == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"entries": nil})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := journal.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *apiServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sent, message, err := s.daemon.TestNotification(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, actionResponse{OK: sent, Message: message})
}

func parseStatusFilter(r *http.Request) []queue.Status {
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		if status, ok := queue.ParseStatus(value); ok {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

// statusFor maps error markers onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errkind.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errkind.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errkind.ErrInvalidOperation):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("api response encoding failed", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
