package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/maauso/scenechain/internal/run"
	"github.com/maauso/scenechain/internal/scene"
	"github.com/maauso/scenechain/internal/script"
)

// maxBodyBytes bounds request bodies; reference images travel inline.
const maxBodyBytes = 64 << 20

// RunService is the run use-case surface the handlers need.
type RunService interface {
	Create(ctx context.Context, in run.CreateInput) (*run.Run, error)
	Get(ctx context.Context, runID string) (*run.Run, error)
	List(ctx context.Context) ([]*run.Run, error)
	Stop(ctx context.Context, runID string) (*run.Run, error)
	Estimate(in run.EstimateInput) (float64, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   RunService
	validator *validator.Validate
	logger    *slog.Logger
	providers []string

	upgrader      websocket.Upgrader
	watchInterval time.Duration
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithProviders sets the provider names reported by the health check.
func WithProviders(names []string) HandlerOption {
	return func(h *Handlers) {
		h.providers = names
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service RunService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		watchInterval: DefaultWatchInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Providers: h.providers})
}

// CreateRun handles POST /runs requests.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := run.CreateInput{
		Provider:         req.Provider,
		Model:            req.Model,
		AspectRatio:      req.AspectRatio,
		NegativePrompt:   req.NegativePrompt,
		GenerateAudio:    req.GenerateAudio,
		DurationSec:      req.DurationSec,
		Resolution:       req.Resolution,
		Seed:             req.Seed,
		FrameChaining:    req.FrameChaining == nil || *req.FrameChaining,
		SubjectImages:    req.SubjectImages,
		BackgroundImages: req.BackgroundImages,
		PushToS3:         req.PushToS3,
		Join:             req.Join,
	}
	switch {
	case len(req.Scenes) > 0 && req.Script != "":
		writeError(w, http.StatusBadRequest, "set either scenes or script, not both", "VALIDATION_ERROR")
		return
	case len(req.Scenes) > 0:
		for _, s := range req.Scenes {
			in.Scenes = append(in.Scenes, run.SceneInput{ID: s.ID, Prompt: s.Prompt, EnhancedPrompt: s.EnhancedPrompt})
		}
	default:
		for _, s := range script.Parse(req.Script) {
			in.Scenes = append(in.Scenes, run.SceneInput{ID: s.ID, Prompt: s.Prompt})
		}
	}

	created, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err, "failed to create run", slog.String("provider", req.Provider))
		return
	}

	h.logger.Info("run created",
		slog.String("run_id", created.ID),
		slog.String("provider", created.Provider),
		slog.Int("scenes", len(created.Scenes)),
	)

	writeJSON(w, http.StatusAccepted, CreateRunResponse{
		ID:            created.ID,
		Status:        string(created.Status),
		Scenes:        len(created.Scenes),
		EstimatedCost: created.EstimatedCost,
	})
}

// ListRuns handles GET /runs requests.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.service.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "failed to list runs")
		return
	}

	resp := RunListResponse{Runs: make([]RunListItem, 0, len(runs))}
	for _, rr := range runs {
		resp.Runs = append(resp.Runs, RunListItem{
			ID:        rr.ID,
			Provider:  rr.Provider,
			Status:    string(rr.Status),
			Summary:   toSummary(rr.Summary),
			CreatedAt: rr.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRun handles GET /runs/{id} requests. The optional log_tail query
// parameter limits how many log lines are returned.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	found, err := h.service.Get(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, err, "failed to get run", slog.String("run_id", runID))
		return
	}

	tail := -1
	if v := r.URL.Query().Get("log_tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "log_tail must be a non-negative integer", "VALIDATION_ERROR")
			return
		}
		tail = n
	}

	writeJSON(w, http.StatusOK, toRunResponse(found, tail))
}

// StopRun handles POST /runs/{id}/stop requests.
func (h *Handlers) StopRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	stopped, err := h.service.Stop(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, err, "failed to stop run", slog.String("run_id", runID))
		return
	}

	h.logger.Info("run stop requested", slog.String("run_id", runID))
	writeJSON(w, http.StatusAccepted, toRunResponse(stopped, -1))
}

// SceneVideo handles GET /runs/{id}/scenes/{scene}/video requests.
func (h *Handlers) SceneVideo(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	sceneID, err := strconv.Atoi(r.PathValue("scene"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "scene must be an integer", "VALIDATION_ERROR")
		return
	}

	found, err := h.service.Get(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, err, "failed to get run", slog.String("run_id", runID))
		return
	}

	for _, s := range found.Scenes {
		if s.ID != sceneID {
			continue
		}
		if s.State != scene.StateCompleted {
			writeError(w, http.StatusConflict, "scene has no video yet", "VIDEO_NOT_READY")
			return
		}
		h.serveVideo(w, r, s.LocalVideoPath)
		return
	}
	writeError(w, http.StatusNotFound, "scene not found", "SCENE_NOT_FOUND")
}

// Film handles GET /runs/{id}/film requests.
func (h *Handlers) Film(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	found, err := h.service.Get(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, err, "failed to get run", slog.String("run_id", runID))
		return
	}
	if found.FilmPath == "" {
		writeError(w, http.StatusNotFound, "run has no joined film", "FILM_NOT_FOUND")
		return
	}
	h.serveVideo(w, r, found.FilmPath)
}

// CreateEstimate handles POST /estimates requests.
func (h *Handlers) CreateEstimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if !h.decode(w, r, &req) {
		return
	}

	cost, err := h.service.Estimate(run.EstimateInput{
		Provider:    req.Provider,
		Model:       req.Model,
		DurationSec: req.DurationSec,
		Resolution:  req.Resolution,
		SceneCount:  req.SceneCount,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to estimate cost")
		return
	}

	writeJSON(w, http.StatusOK, EstimateResponse{
		Provider:   req.Provider,
		SceneCount: req.SceneCount,
		CostUSD:    cost,
	})
}

// decode reads and validates a JSON body, writing the error response itself.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

func (h *Handlers) serveVideo(w http.ResponseWriter, r *http.Request, path string) {
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "video file not found", "VIDEO_NOT_FOUND")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}

// writeServiceError maps service errors to HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error, msg string, attrs ...any) {
	switch {
	case errors.Is(err, run.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found", "RUN_NOT_FOUND")
	case errors.Is(err, run.ErrRunNotActive):
		writeError(w, http.StatusConflict, "run is not active", "RUN_NOT_ACTIVE")
	case errors.Is(err, run.ErrNoScenes), errors.Is(err, run.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_RUN")
	case errors.Is(err, run.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "server is shutting down", "SHUTTING_DOWN")
	default:
		h.logger.Error(msg, append(attrs, slog.String("error", err.Error()))...)
		writeError(w, http.StatusInternalServerError, msg, "INTERNAL_ERROR")
	}
}

func toSummary(s scene.Summary) SummaryResponse {
	return SummaryResponse{
		Total:     s.Total,
		Completed: s.Completed,
		Failed:    s.Failed,
		Remaining: s.Remaining,
		Text:      s.String(),
	}
}

// toRunResponse converts a run snapshot; tail < 0 keeps every log line.
func toRunResponse(rr *run.Run, tail int) RunResponse {
	resp := RunResponse{
		ID:            rr.ID,
		Provider:      rr.Provider,
		Model:         rr.Model,
		Status:        string(rr.Status),
		Summary:       toSummary(rr.Summary),
		EstimatedCost: rr.EstimatedCost,
		Scenes:        make([]SceneResponse, 0, len(rr.Scenes)),
		Logs:          make([]LogLineResponse, 0, len(rr.Logs)),
		FilmPath:      rr.FilmPath,
		FilmURL:       rr.FilmURL,
		Error:         rr.Error,
		CreatedAt:     rr.CreatedAt,
		StartedAt:     timePtr(rr.StartedAt),
		CompletedAt:   timePtr(rr.CompletedAt),
	}

	for _, s := range rr.Scenes {
		resp.Scenes = append(resp.Scenes, SceneResponse{
			ID:              s.ID,
			OriginalPrompt:  s.OriginalPrompt,
			EffectivePrompt: s.EffectivePrompt,
			State:           string(s.State),
			AttemptCount:    s.AttemptCount,
			RemoteJobID:     s.RemoteJobID,
			LastError:       s.LastError,
			VideoPath:       s.LocalVideoPath,
			VideoURL:        rr.SceneURLs[s.ID],
		})
	}

	logs := rr.Logs
	if tail >= 0 && len(logs) > tail {
		logs = logs[len(logs)-tail:]
	}
	for _, l := range logs {
		resp.Logs = append(resp.Logs, LogLineResponse{Time: l.Time, SceneID: l.SceneID, Message: l.Message})
	}
	return resp
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
