package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/laion/papermap/internal/metrics"
	"github.com/laion/papermap/internal/nearest"
	"github.com/laion/papermap/internal/paper"
	"github.com/laion/papermap/internal/storage"
)

// Query defaults.
const (
	DefaultNearestLimit = nearest.DefaultK
	DefaultSearchLimit  = 100
	DefaultMinYear      = 1990
	DefaultMaxYear      = 2025
)

// TimelinesResponse is the body of GET /api/temporal-data.
type TimelinesResponse struct {
	Clusters []paper.ClusterTimeline `json:"clusters"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// PapersResponse wraps a list of paper summaries.
type PapersResponse struct {
	Papers []paper.Summary `json:"papers"`
}

// PaperDetailResponse is a full paper plus its stored neighbors.
type PaperDetailResponse struct {
	paper.Paper
	NearestPapers []paper.Summary `json:"nearest_papers"`
}

// ClustersResponse wraps the cluster list.
type ClustersResponse struct {
	Clusters []paper.Cluster `json:"clusters"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleListPapers serves the positioned papers, optionally restricted to
// one cluster and limited, or sampled per cluster with ?sample_size.
func (s *Server) handleListPapers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var clusterID *int64
	if raw := q.Get("cluster_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.respondWithError(w, http.StatusBadRequest, "cluster_id must be an integer")
			return
		}
		clusterID = &id
	}
	limit, ok := s.limitParam(w, r, -1)
	if !ok {
		return
	}

	var (
		papers []paper.Paper
		err    error
	)
	if raw := q.Get("sample_size"); raw != "" && clusterID == nil {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 0 {
			s.respondWithError(w, http.StatusBadRequest, "sample_size must be a non-negative integer")
			return
		}
		papers, err = s.store.SamplePapers(r.Context(), n)
	} else {
		papers, err = s.store.ListPapers(r.Context(), storage.ListOptions{ClusterID: clusterID, Limit: limit})
	}
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, PapersResponse{Papers: summaries(papers)})
}

func (s *Server) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	id, ok := s.paperID(w, r)
	if !ok {
		return
	}

	p, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}

	neighbors := []paper.Summary{}
	ids, err := s.store.NearestIDs(r.Context(), id)
	switch {
	case err == nil:
		papers, err := s.store.GetByIDs(r.Context(), ids)
		if err != nil {
			s.respondWithStoreError(w, r, err)
			return
		}
		neighbors = summaries(papers)
	case errors.Is(err, storage.ErrNoNeighbors), errors.Is(err, storage.ErrMissingColumns):
		// Detail is still served before precomputation has run.
	default:
		s.respondWithStoreError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, PaperDetailResponse{Paper: *p, NearestPapers: neighbors})
}

// handleNearest serves the precomputed neighbor list of a paper, closest
// first, truncated to ?limit. Distances are never recomputed here.
func (s *Server) handleNearest(w http.ResponseWriter, r *http.Request) {
	id, ok := s.paperID(w, r)
	if !ok {
		return
	}
	limit, ok := s.limitParam(w, r, DefaultNearestLimit)
	if !ok {
		return
	}

	ids, err := s.store.NearestIDs(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNoNeighbors) || errors.Is(err, storage.ErrPaperNotFound) {
			metrics.NearestLookupsTotal.WithLabelValues("missing").Inc()
		}
		s.respondWithStoreError(w, r, err)
		return
	}
	metrics.NearestLookupsTotal.WithLabelValues("hit").Inc()

	if len(ids) > limit {
		ids = ids[:limit]
	}

	papers, err := s.store.GetByIDs(r.Context(), ids)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, PapersResponse{Papers: summaries(papers)})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q, present := r.URL.Query()["q"]
	if !present {
		s.respondWithError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	limit, ok := s.limitParam(w, r, DefaultSearchLimit)
	if !ok {
		return
	}

	papers, err := s.store.Search(r.Context(), q[0], limit)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, PapersResponse{Papers: summaries(papers)})
}

func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.store.Clusters(r.Context())
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ClustersResponse{Clusters: clusters})
}

func (s *Server) handleTimelines(w http.ResponseWriter, r *http.Request) {
	minYear, ok := s.yearParam(w, r, "min_year", DefaultMinYear)
	if !ok {
		return
	}
	maxYear, ok := s.yearParam(w, r, "max_year", DefaultMaxYear)
	if !ok {
		return
	}

	timelines, err := s.store.Timelines(r.Context(), minYear, maxYear)
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, TimelinesResponse{Clusters: timelines})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.respondWithStoreError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, stats)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.respondWithError(w, http.StatusNotFound, "Not Found")
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.respondWithError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
}

// paperID parses the {id} path variable, writing a 400 when it is invalid.
func (s *Server) paperID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, "invalid paper id")
		return 0, false
	}
	return id, true
}

// limitParam parses ?limit, writing a 400 when it is not a non-negative
// integer.
func (s *Server) limitParam(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		s.respondWithError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

func (s *Server) yearParam(w http.ResponseWriter, r *http.Request, name string, def int64) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	year, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, name+" must be an integer")
		return 0, false
	}
	return year, true
}

func summaries(papers []paper.Paper) []paper.Summary {
	out := make([]paper.Summary, len(papers))
	for i, p := range papers {
		out[i] = p.Summary()
	}
	return out
}
