package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laion/papermap/internal/config"
	"github.com/laion/papermap/internal/logging"
	"github.com/laion/papermap/internal/paper"
	"github.com/laion/papermap/internal/storage"
)

func strp(s string) *string   { return &s }
func f64p(f float64) *float64 { return &f }
func i64p(i int64) *int64     { return &i }

// setupTestStore builds a database where papers 1-3 have neighbor lists
// and paper 4 does not.
func setupTestStore(t *testing.T) *storage.DB {
	t.Helper()

	db, err := storage.Create(filepath.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	papers := []paper.Paper{
		{ID: 1, Title: strp("Protein folding"), X: f64p(0), Y: f64p(0), ClusterID: i64p(0), ClusterLabel: strp("Biology")},
		{ID: 2, Title: strp("Graph networks"), X: f64p(1), Y: f64p(0), ClusterID: i64p(1), ClusterLabel: strp("ML"), PublicationYear: i64p(2020)},
		{ID: 3, Title: strp("Sparse attention"), X: f64p(2), Y: f64p(0), ClusterID: i64p(1), ClusterLabel: strp("ML"), PublicationYear: i64p(2020)},
		{ID: 4, Title: strp("Ocean currents"), X: f64p(9), Y: f64p(9), ClusterID: i64p(-1)},
	}
	_, err = db.ReplacePapers(ctx, papers)
	require.NoError(t, err)

	err = db.SaveNeighbors(ctx,
		[]int64{1, 2, 3},
		[][]int64{{2, 3, 4}, {1, 3, 4}, {2, 1, 4}},
		100, nil)
	require.NoError(t, err)
	return db
}

func newTestServer(t *testing.T, cfg config.ServerConfig) *Server {
	t.Helper()
	return NewServer(setupTestStore(t), cfg, logging.Discard())
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func paperIDs(resp PapersResponse) []int64 {
	ids := make([]int64, len(resp.Papers))
	for i, p := range resp.Papers {
		ids[i] = p.ID
	}
	return ids
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, config.Default().Server)

	rr := doGet(t, s, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decode[HealthResponse](t, rr).Status)
}

func TestNearest(t *testing.T) {
	s := newTestServer(t, config.Default().Server)

	tests := []struct {
		name string
		path string
		want []int64
	}{
		{"default limit", "/api/papers/1/nearest", []int64{2, 3, 4}},
		{"truncated", "/api/papers/1/nearest?limit=2", []int64{2, 3}},
		{"stored order kept", "/api/papers/3/nearest?limit=2", []int64{2, 1}},
		{"limit above stored", "/api/papers/2/nearest?limit=50", []int64{1, 3, 4}},
		{"zero limit", "/api/papers/2/nearest?limit=0", []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doGet(t, s, tt.path)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			assert.Equal(t, tt.want, paperIDs(decode[PapersResponse](t, rr)))
		})
	}
}

func TestNearest_Errors(t *testing.T) {
	s := newTestServer(t, config.Default().Server)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"negative limit", "/api/papers/1/nearest?limit=-1", http.StatusBadRequest},
		{"non-integer limit", "/api/papers/1/nearest?limit=ten", http.StatusBadRequest},
		{"bad id", "/api/papers/abc/nearest", http.StatusBadRequest},
		{"no stored list", "/api/papers/4/nearest", http.StatusNotFound},
		{"unknown paper", "/api/papers/999/nearest", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doGet(t, s, tt.path)
			assert.Equal(t, tt.code, rr.Code)
			assert.NotEmpty(t, decode[errorResponse](t, rr).Detail)
		})
	}
}

func TestGetPaper(t *testing.T) {
	s := newTestServer(t, config.Default().Server)

	rr := doGet(t, s, "/api/papers/1")
	require.Equal(t, http.StatusOK, rr.Code)

	detail := decode[PaperDetailResponse](t, rr)
	assert.Equal(t, int64(1), detail.ID)
	assert.Equal(t, "Protein folding", *detail.Title)
	require.Len(t, detail.NearestPapers, 3)
	assert.Equal(t, int64(2), detail.NearestPapers[0].ID)

	rr = doGet(t, s, "/api/papers/4")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[PaperDetailResponse](t, rr).NearestPapers)

	rr = doGet(t, s, "/api/papers/404")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Paper not found", decode[errorResponse](t, rr).Detail)
}

func TestListPapers(t *testing.T) {
	s := newTestServer(t, config.Default().Server)

	tests := []struct {
		path string
		want []int64
	}{
		{"/api/papers", []int64{1, 2, 3, 4}},
		{"/api/papers?limit=1", []int64{1}},
		{"/api/papers?cluster_id=1", []int64{2, 3}},
		{"/api/papers?cluster_id=-1", []int64{4}},
		{"/api/papers?sample_size=1", []int64{4, 1, 3}},
		{"/api/papers?sample_size=1&cluster_id=1", []int64{2, 3}},
	}
	for _, tt := range tests {
		rr := doGet(t, s, tt.path)
		require.Equal(t, http.StatusOK, rr.Code, tt.path)
		assert.Equal(t, tt.want, paperIDs(decode[PapersResponse](t, rr)), tt.path)
	}

	assert.Equal(t, http.StatusBadRequest, doGet(t, s, "/api/papers?cluster_id=ml").Code)
	assert.Equal(t, http.StatusBadRequest, doGet(t, s, "/api/papers?limit=-1").Code)
	assert.Equal(t, http.StatusBadRequest, doGet(t, s, "/api/papers?sample_size=-3").Code)
}

func TestTimelines(t *testing.T) {
	s := newTestServer(t, config.Default().Server)

	rr := doGet(t, s, "/api/temporal-data")
	require.Equal(t, http.StatusOK, rr.Code)
	timelines := decode[TimelinesResponse](t, rr).Clusters
	require.Len(t, timelines, 1)
	assert.Equal(t, int64(1), timelines[0].ID)
	assert.Equal(t, "ML", timelines[0].Label)
	assert.Equal(t, []paper.YearCount{{Year: 2020, Count: 2}}, timelines[0].Counts)

	rr = doGet(t, s, "/api/temporal-data?min_year=2021")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[TimelinesResponse](t, rr).Clusters)

	assert.Equal(t, http.StatusBadRequest, doGet(t, s, "/api/temporal-data?max_year=soon").Code)
}

func TestSearch(t *testing.T) {
	s := newTestServer(t, config.Default().Server)

	rr := doGet(t, s, "/api/search?q=attention")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []int64{3}, paperIDs(decode[PapersResponse](t, rr)))

	rr = doGet(t, s, "/api/search?q=&limit=2")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []int64{1, 2}, paperIDs(decode[PapersResponse](t, rr)))

	assert.Equal(t, http.StatusBadRequest, doGet(t, s, "/api/search").Code)
	assert.Equal(t, http.StatusBadRequest, doGet(t, s, "/api/search?q=x&limit=-5").Code)
}

func TestClustersAndStats(t *testing.T) {
	s := newTestServer(t, config.Default().Server)

	rr := doGet(t, s, "/api/clusters")
	require.Equal(t, http.StatusOK, rr.Code)
	clusters := decode[ClustersResponse](t, rr).Clusters
	require.Len(t, clusters, 3)
	assert.Equal(t, int64(-1), clusters[0].ID)
	assert.Equal(t, paper.UnclusteredColor, clusters[0].Color)
	assert.Equal(t, 2, clusters[2].Count)

	rr = doGet(t, s, "/api/stats")
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decode[storage.Stats](t, rr)
	assert.Equal(t, 4, stats.TotalPapers)
	assert.Equal(t, 4, stats.PapersWithCoordinates)
	assert.Equal(t, 3, stats.NumClusters)
	assert.Equal(t, 3, stats.PapersWithNearest)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, config.Default().Server)
	doGet(t, s, "/health")

	rr := doGet(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, rr.Body.String(), "papermap_http_requests_total")
}

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t, config.Default().Server)

	rr := doGet(t, s, "/api/unknown")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Not Found", decode[errorResponse](t, rr).Detail)
}
