package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/config"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/graph"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/ingest"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/keyword"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/storage"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/vector"
	"github.com/onetwothreethreetwoone/FeedSpace/pkg/utils"
)

const defaultLimit = 10

type nodesRequest struct {
	Nodes []models.Node `json:"nodes" validate:"dive"`
}

type linksRequest struct {
	Links []models.Link `json:"links" validate:"dive"`
}

type graphRequest struct {
	Nodes []models.Node `json:"nodes" validate:"dive"`
	Links []models.Link `json:"links" validate:"dive"`
}

type removeRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

type thresholdRequest struct {
	Threshold *float64 `json:"threshold" validate:"required,min=0,max=1"`
}

type linkColorsRequest struct {
	Low  string `json:"low" validate:"required,hexcolor"`
	High string `json:"high" validate:"required,hexcolor"`
}

// decode reads a JSON body into v and validates it when v is a struct.
func (s *Server) decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	if err := s.validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var items []models.EmbeddedNode
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for i := range items {
		if err := s.validate.Struct(&items[i]); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.logger.Debug("ingest request", zap.Int("items", len(items)))
	summary, err := s.service.Ingest(r.Context(), items)
	if err != nil {
		s.respondServiceError(w, "ingest failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleAddNodes(w http.ResponseWriter, r *http.Request) {
	var req nodesRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.service.AddNodes(r.Context(), req.Nodes); err != nil {
		s.respondServiceError(w, "add nodes failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]int{"nodes": len(req.Nodes)})
}

func (s *Server) handleAddLinks(w http.ResponseWriter, r *http.Request) {
	var req linksRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.service.AddLinks(r.Context(), req.Links); err != nil {
		s.respondServiceError(w, "add links failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]int{"links": len(req.Links)})
}

func (s *Server) handleAddBoth(w http.ResponseWriter, r *http.Request) {
	var req graphRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.service.AddBoth(r.Context(), models.GraphData{Nodes: req.Nodes, Links: req.Links}); err != nil {
		s.respondServiceError(w, "add graph failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]int{"nodes": len(req.Nodes), "links": len(req.Links)})
}

func (s *Server) handleRemoveNodes(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("remove nodes request", zap.Strings("ids", req.IDs))
	if err := s.service.Remove(r.Context(), req.IDs); err != nil {
		s.respondServiceError(w, "remove failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "removed", "ids": req.IDs})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Clear(r.Context()); err != nil {
		s.respondServiceError(w, "clear failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleRedrawLinks(w http.ResponseWriter, r *http.Request) {
	var req linksRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.service.RedrawLinks(r.Context(), req.Links); err != nil {
		s.respondServiceError(w, "redraw failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"links": len(req.Links)})
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.service.SetThreshold(r.Context(), *req.Threshold); err != nil {
		s.respondServiceError(w, "set threshold failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]float64{"threshold": *req.Threshold})
}

func (s *Server) handleLinkColors(w http.ResponseWriter, r *http.Request) {
	var req linkColorsRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.service.Restyle(r.Context(), req.Low, req.High); err != nil {
		s.respondServiceError(w, "restyle failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, req)
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	k, err := intParam(r, "k", defaultLimit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	neighbors, err := s.service.Similar(id, k)
	if err != nil {
		s.respondServiceError(w, "similar failed", err)
		return
	}
	if neighbors == nil {
		neighbors = []vector.Neighbor{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "neighbors": neighbors})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := &keyword.SearchOptions{Fuzzy: r.URL.Query().Get("fuzzy") == "true"}
	s.logger.Debug("search request", zap.String("query", utils.Truncate(q, 80)), zap.Int("limit", limit))
	hits, err := s.service.Search(r.Context(), q, limit, opts)
	if err != nil {
		s.respondServiceError(w, "search failed", err)
		return
	}
	if hits == nil {
		hits = []keyword.Hit{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"query": q, "hits": hits})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var task models.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pairs, err := s.scorer.Score(r.Context(), task)
	if err != nil {
		s.respondServiceError(w, "score failed", err)
		return
	}
	if pairs == nil {
		pairs = models.PairSet{}
	}
	s.respondJSON(w, http.StatusOK, pairs)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var dirs []string
	if s.watch != nil {
		dirs = s.watch.Directories()
	}
	status, err := CollectStatus(r.Context(), s.service, s.storage, s.config, dirs)
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleWatchDirectories(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

// StatusConfig is the configuration echoed by the status endpoint.
type StatusConfig struct {
	Backend          string   `json:"backend"`
	DatabasePath     string   `json:"database_path,omitempty"`
	KeywordIndexPath string   `json:"keyword_index_path,omitempty"`
	Workers          int      `json:"workers"`
	IncludeNewPairs  bool     `json:"include_new_pairs"`
	WatchDirectories []string `json:"watch_directories,omitempty"`
}

// Status is the shape of GET /api/v1/status.
type Status struct {
	Graph          ingest.Stats   `json:"graph"`
	Stored         *storage.Stats `json:"stored,omitempty"`
	DiskUsageBytes *int64         `json:"disk_usage_bytes,omitempty"`
	Config         *StatusConfig  `json:"config,omitempty"`
}

// CollectStatus gathers the service state, stored row counts and disk usage.
// st and cfg may be nil.
func CollectStatus(ctx context.Context, svc *ingest.Service, st storage.Storage, cfg *config.Config, dirs []string) (*Status, error) {
	status := &Status{Graph: svc.Stats()}
	if st != nil {
		stored, err := st.Stats(ctx)
		if err != nil {
			return nil, err
		}
		status.Stored = &stored
	}
	if cfg != nil {
		status.Config = &StatusConfig{
			Backend:          cfg.Storage.Backend,
			DatabasePath:     cfg.Storage.DatabasePath,
			KeywordIndexPath: cfg.Storage.KeywordIndexPath,
			Workers:          cfg.Similarity.Workers,
			IncludeNewPairs:  cfg.Similarity.IncludeNewPairs,
			WatchDirectories: dirs,
		}
		if diskBytes, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.KeywordIndexPath); err == nil {
			status.DiskUsageBytes = &diskBytes
		}
	}
	return status, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrInvalidEmbedding),
		errors.Is(err, vector.ErrDimensionMismatch),
		errors.Is(err, vector.ErrDegenerateVector):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ingest.ErrUnknownNode):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrInvalidSetting),
		errors.Is(err, graph.ErrInvalidNode),
		errors.Is(err, graph.ErrInvalidLink),
		errors.Is(err, graph.ErrDuplicateNode),
		errors.Is(err, graph.ErrUnknownEndpoint):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondServiceError(w http.ResponseWriter, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, code, err.Error())
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return n, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
