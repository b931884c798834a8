// Package httpapi exposes a synced catalog over HTTP: readiness (polled or
// streamed over a websocket), the catalog graph, circle search, block groups
// and images.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agentic-research/cominavi/api"
	"github.com/agentic-research/cominavi/internal/catalog"
	"github.com/agentic-research/cominavi/internal/snapshot"
	"github.com/agentic-research/cominavi/internal/syncer"
	"github.com/agentic-research/cominavi/internal/syncerr"
)

// Backend is the query surface served; *syncer.Orchestrator implements it.
type Backend interface {
	Current() syncer.Readiness
	Subscribe(fn func(syncer.Readiness)) (cancel func())
	Catalog() *api.CatalogGraph
	Index() (*catalog.Index, error)
	SearchCircles(keyword string) ([]snapshot.Circle, error)
	BlockGroups(circles []snapshot.Circle) ([]catalog.BlockGroup, error)
	CircleImage(ctx context.Context, circleID int) ([]byte, error)
	CommonImage(ctx context.Context, name string) (*snapshot.CommonImage, error)
	FloorMap(ctx context.Context, layer syncer.FloorLayer, day int, areaFragment string) (*snapshot.CommonImage, error)
}

var _ Backend = (*syncer.Orchestrator)(nil)

type Server struct {
	backend Backend
	log     *slog.Logger
}

// New returns the router serving b.
func New(b Backend, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{backend: b, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/readiness", s.handleReadiness)
		r.Get("/readiness/stream", s.handleReadinessStream)
		r.Get("/catalog", s.handleCatalog)
		r.Get("/circles", s.handleCircles)
		r.Get("/circles/{id}", s.handleCircle)
		r.Get("/circles/{id}/image", s.handleCircleImage)
		r.Get("/block-groups", s.handleBlockGroups)
		r.Get("/images/{name}", s.handleCommonImage)
		r.Get("/floor-maps/{layer}/{day}/{fragment}", s.handleFloorMap)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http: request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"bytes", ww.BytesWritten(), "dur", time.Since(start),
			"req_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Current())
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	g := s.backend.Catalog()
	if g == nil {
		s.writeError(w, syncer.ErrNotReady)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleCircles lists every circle, or the matches of ?q= when set.
func (s *Server) handleCircles(w http.ResponseWriter, r *http.Request) {
	circles, err := s.backend.SearchCircles(r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, circles)
}

func (s *Server) handleCircle(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	ix, err := s.backend.Index()
	if err != nil {
		s.writeError(w, err)
		return
	}
	c, found := ix.Circle(id)
	if !found {
		s.writeError(w, syncer.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		snapshot.Circle
		HasImage bool `json:"has_image"`
	}{c, ix.HasImage(id)})
}

func (s *Server) handleCircleImage(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	data, err := s.backend.CircleImage(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writePNG(w, data)
}

func (s *Server) handleBlockGroups(w http.ResponseWriter, r *http.Request) {
	circles, err := s.backend.SearchCircles(r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	groups, err := s.backend.BlockGroups(circles)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if groups == nil {
		groups = []catalog.BlockGroup{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleCommonImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.backend.CommonImage(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writePNG(w, img.Image)
}

func (s *Server) handleFloorMap(w http.ResponseWriter, r *http.Request) {
	layer, err := syncer.ParseFloorLayer(chi.URLParam(r, "layer"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "bad_request"})
		return
	}
	day, ok := intParam(w, r, "day")
	if !ok {
		return
	}
	img, err := s.backend.FloorMap(r.Context(), layer, day, chi.URLParam(r, "fragment"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writePNG(w, img.Image)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps not-ready to 503, not-found to 404 and everything else to
// 500 with its classified code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, syncer.ErrNotReady):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: "not_ready"})
	case errors.Is(err, syncer.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"})
	default:
		code := syncerr.Classify(err)
		s.log.Error("http: query failed", "code", code, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Code: string(code)})
	}
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid " + name, Code: "bad_request"})
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
