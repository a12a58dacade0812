package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	handler "github.com/samirrijal/riskgrid/internal/adapters/http"
	"github.com/samirrijal/riskgrid/internal/core/domain"
	"github.com/samirrijal/riskgrid/internal/core/usecases"
)

// ---- Mock repository ----

type mockObsRepo struct {
	insertFn   func(ctx context.Context, o *domain.Observation) error
	batchFn    func(ctx context.Context, obs []domain.Observation) error
	listFn     func(ctx context.Context, r domain.DateRange) ([]domain.Observation, error)
	listPageFn func(ctx context.Context, r domain.DateRange, offset, limit int) ([]domain.Observation, int, error)
	inBoxFn    func(ctx context.Context, box domain.Bounds, limit int) ([]domain.Observation, error)
}

func (m *mockObsRepo) Insert(ctx context.Context, o *domain.Observation) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, o)
	}
	return nil
}
func (m *mockObsRepo) InsertBatch(ctx context.Context, obs []domain.Observation) error {
	if m.batchFn != nil {
		return m.batchFn(ctx, obs)
	}
	return nil
}
func (m *mockObsRepo) List(ctx context.Context, r domain.DateRange) ([]domain.Observation, error) {
	if m.listFn != nil {
		return m.listFn(ctx, r)
	}
	return nil, nil
}
func (m *mockObsRepo) ListPage(ctx context.Context, r domain.DateRange, offset, limit int) ([]domain.Observation, int, error) {
	if m.listPageFn != nil {
		return m.listPageFn(ctx, r, offset, limit)
	}
	return nil, 0, nil
}
func (m *mockObsRepo) InBox(ctx context.Context, box domain.Bounds, limit int) ([]domain.Observation, error) {
	if m.inBoxFn != nil {
		return m.inBoxFn(ctx, box, limit)
	}
	return nil, nil
}
func (m *mockObsRepo) Version(ctx context.Context) (string, error) { return "v1", nil }

// ---- Test helpers ----

var observedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func bilbaoObservations() []domain.Observation {
	return []domain.Observation{
		{ID: "o1", Location: domain.GeoPoint{Lat: 43.25, Lon: -2.95}, RiskScore: 0.9, PopulationAtRisk: 300, Confidence: 0.9, Timestamp: observedAt},
		{ID: "o2", Location: domain.GeoPoint{Lat: 43.30, Lon: -2.90}, RiskScore: 0.1, PopulationAtRisk: 20, Confidence: 0.6, Timestamp: observedAt},
	}
}

func setupApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return app
}

func makeDeps(repo *mockObsRepo) *handler.Dependencies {
	opts := usecases.DefaultHeatmapOptions()
	opts.DefaultResolution = 4
	opts.MaxResolution = 64
	return &handler.Dependencies{
		Heatmap:      usecases.NewHeatmapService(repo, nil, nil, opts),
		Observations: usecases.NewObservationService(repo, nil),
	}
}

func withObservations() *mockObsRepo {
	return &mockObsRepo{
		listFn: func(ctx context.Context, r domain.DateRange) ([]domain.Observation, error) {
			return bilbaoObservations(), nil
		},
	}
}

func readBody(t *testing.T, body io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return b
}

func expectAPIError(t *testing.T, body io.Reader, code string) {
	t.Helper()
	var apiErr struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(body).Decode(&apiErr); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if apiErr.Code != code {
		t.Errorf("expected error code %s, got %s", code, apiErr.Code)
	}
}

// ---- Heatmap handler tests ----

func TestHeatmap_Success(t *testing.T) {
	app := setupApp(makeDeps(withObservations()))

	req := httptest.NewRequest("GET", "/v1/heatmap?mode=population", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp.Body))
	}
	if resp.Header.Get("ETag") == "" {
		t.Error("expected an ETag header")
	}

	var result handler.HeatmapResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Resolution != 4 {
		t.Errorf("expected default resolution 4, got %d", result.Resolution)
	}
	if len(result.Cells) != 16 {
		t.Fatalf("expected 16 cells, got %d", len(result.Cells))
	}
	if result.Mode != "population" {
		t.Errorf("expected mode population, got %s", result.Mode)
	}
	if result.Report.Observations != 2 {
		t.Errorf("expected 2 observations in report, got %d", result.Report.Observations)
	}

	var maxIntensity float64
	for _, c := range result.Cells {
		if c.Row*4+c.Col < 0 || c.Row >= 4 || c.Col >= 4 {
			t.Errorf("cell index out of range: %d,%d", c.Row, c.Col)
		}
		if c.Intensity > maxIntensity {
			maxIntensity = c.Intensity
		}
	}
	if maxIntensity != 1 {
		t.Errorf("population mode should normalise the densest cell to 1, got %v", maxIntensity)
	}
}

func TestHeatmap_NotModified(t *testing.T) {
	app := setupApp(makeDeps(withObservations()))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/heatmap", nil), -1)
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}

	req := httptest.NewRequest("GET", "/v1/heatmap", nil)
	req.Header.Set("If-None-Match", etag)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 304 {
		t.Fatalf("expected 304, got %d", resp.StatusCode)
	}
}

func TestHeatmap_BadParams(t *testing.T) {
	app := setupApp(makeDeps(withObservations()))

	for _, target := range []string{
		"/v1/heatmap?resolution=1",
		"/v1/heatmap?resolution=abc",
		"/v1/heatmap?resolution=65",
		"/v1/heatmap?mode=rainbow",
		"/v1/heatmap?from=yesterday",
		"/v1/heatmap?from=2025-03-02&to=2025-03-01",
	} {
		resp, _ := app.Test(httptest.NewRequest("GET", target, nil), -1)
		if resp.StatusCode != 400 {
			t.Errorf("%s: expected 400, got %d", target, resp.StatusCode)
			continue
		}
		expectAPIError(t, resp.Body, "bad_request")
	}
}

func TestHeatmap_DateFilterPassedToRepo(t *testing.T) {
	var got domain.DateRange
	repo := &mockObsRepo{
		listFn: func(ctx context.Context, r domain.DateRange) ([]domain.Observation, error) {
			got = r
			return bilbaoObservations(), nil
		},
	}
	app := setupApp(makeDeps(repo))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/heatmap?from=2025-03-01&to=2025-03-01", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !got.From.Equal(observedAt.Truncate(24 * time.Hour)) {
		t.Errorf("unexpected from %v", got.From)
	}
	if !got.Contains(observedAt) || got.Contains(observedAt.Add(24*time.Hour)) {
		t.Errorf("bare to date should cover exactly that day, got %v", got.To)
	}
}

func TestHeatmap_RepoError(t *testing.T) {
	repo := &mockObsRepo{
		listFn: func(ctx context.Context, r domain.DateRange) ([]domain.Observation, error) {
			return nil, errors.New("connection refused")
		},
	}
	app := setupApp(makeDeps(repo))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/heatmap", nil), -1)
	if resp.StatusCode != 500 {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	expectAPIError(t, resp.Body, "internal_error")
}

func TestHeatmapCell(t *testing.T) {
	app := setupApp(makeDeps(withObservations()))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/heatmap/cell?lat=43.25&lon=-2.95", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp.Body))
	}
	var result handler.CellResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Cell.SampleCount != 1 || result.Cell.Interpolated {
		t.Errorf("expected the measured cell, got %+v", result.Cell)
	}
	if result.Cell.RiskLevel != domain.RiskCritical {
		t.Errorf("expected critical, got %s", result.Cell.RiskLevel)
	}
}

func TestHeatmapCell_Errors(t *testing.T) {
	app := setupApp(makeDeps(withObservations()))

	tests := []struct {
		target string
		status int
		code   string
	}{
		{"/v1/heatmap/cell?lon=-2.95", 400, "bad_request"},
		{"/v1/heatmap/cell?lat=abc&lon=-2.95", 400, "bad_request"},
		{"/v1/heatmap/cell?lat=95&lon=-2.95", 400, "bad_request"},
		{"/v1/heatmap/cell?lat=0&lon=0", 404, "not_found"},
	}
	for _, tt := range tests {
		resp, _ := app.Test(httptest.NewRequest("GET", tt.target, nil), -1)
		if resp.StatusCode != tt.status {
			t.Errorf("%s: expected %d, got %d", tt.target, tt.status, resp.StatusCode)
			continue
		}
		expectAPIError(t, resp.Body, tt.code)
	}
}

func TestHeatmapSummary(t *testing.T) {
	app := setupApp(makeDeps(withObservations()))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/heatmap/summary?resolution=8", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result handler.SummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	l := result.Levels
	if total := l.Low + l.Medium + l.High + l.Critical + l.Unfilled; total != 64 {
		t.Errorf("expected 64 cells counted, got %d", total)
	}
	if result.Report.Measured != 2 {
		t.Errorf("expected 2 measured cells, got %d", result.Report.Measured)
	}
}

func TestLegacyGrid_Deprecated(t *testing.T) {
	app := setupApp(makeDeps(withObservations()))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/grid", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Deprecation") != "true" {
		t.Error("expected Deprecation header")
	}
	if !strings.Contains(resp.Header.Get("Link"), "/v1/heatmap") {
		t.Errorf("expected successor link, got %q", resp.Header.Get("Link"))
	}
	if resp.Header.Get("Sunset") == "" {
		t.Error("expected Sunset header")
	}
}

// ---- Observation handler tests ----

func TestCreateObservation(t *testing.T) {
	var stored *domain.Observation
	repo := &mockObsRepo{
		insertFn: func(ctx context.Context, o *domain.Observation) error {
			stored = o
			return nil
		},
	}
	app := setupApp(makeDeps(repo))

	body := `{"location":{"lat":43.26,"lon":-2.93},"risk_score":0.4,"population_at_risk":12,"confidence":0.8,"source":"field"}`
	req := httptest.NewRequest("POST", "/v1/observations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, readBody(t, resp.Body))
	}
	if stored == nil || stored.ID == "" {
		t.Fatal("expected observation stored with an ID")
	}

	var o domain.Observation
	json.NewDecoder(resp.Body).Decode(&o)
	if o.ID != stored.ID {
		t.Errorf("response ID %q differs from stored %q", o.ID, stored.ID)
	}
}

func TestCreateObservation_Invalid(t *testing.T) {
	app := setupApp(makeDeps(&mockObsRepo{}))

	for _, body := range []string{
		``,
		`{not json`,
		`{"location":{"lat":43.26,"lon":-2.93},"risk_score":1.5,"confidence":0.8}`,
		`{"location":{"lat":120,"lon":-2.93},"risk_score":0.5,"confidence":0.8}`,
		`[{"location":{"lat":43.2,"lon":-2.9},"risk_score":0.5,"confidence":0.8},{"location":{"lat":43.2,"lon":-2.9},"risk_score":0.5,"confidence":-1}]`,
	} {
		req := httptest.NewRequest("POST", "/v1/observations", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req, -1)
		if resp.StatusCode != 400 {
			t.Errorf("body %q: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestCreateObservation_Batch(t *testing.T) {
	var n int
	repo := &mockObsRepo{
		batchFn: func(ctx context.Context, obs []domain.Observation) error {
			n = len(obs)
			return nil
		},
	}
	app := setupApp(makeDeps(repo))

	body := `[{"location":{"lat":43.2,"lon":-2.9},"risk_score":0.5,"confidence":0.8},
	          {"location":{"lat":43.3,"lon":-2.8},"risk_score":0.7,"confidence":0.9}]`
	req := httptest.NewRequest("POST", "/v1/observations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if n != 2 {
		t.Errorf("expected batch of 2, got %d", n)
	}
}

func TestCreateObservation_BatchRebuildsEveryCoveredGrid(t *testing.T) {
	var mu sync.Mutex
	builds := map[string]int{}
	repo := &mockObsRepo{
		listFn: func(ctx context.Context, r domain.DateRange) ([]domain.Observation, error) {
			mu.Lock()
			builds[r.From.Format("2006-01-02")]++
			mu.Unlock()
			return nil, nil
		},
	}
	deps := makeDeps(repo)
	deps.RebuildOnWrite = true
	defer deps.Heatmap.Close()
	app := setupApp(deps)

	for _, day := range []string{"2025-03-01", "2025-03-02"} {
		resp, _ := app.Test(httptest.NewRequest("GET", "/v1/heatmap?from="+day+"&to="+day, nil), -1)
		if resp.StatusCode != 200 {
			t.Fatalf("heatmap %s: expected 200, got %d", day, resp.StatusCode)
		}
	}

	// The first observation falls on day one, the last on day two.
	body := `[{"location":{"lat":43.2,"lon":-2.9},"risk_score":0.5,"confidence":0.8,"timestamp":"2025-03-01T09:00:00Z"},
	          {"location":{"lat":43.3,"lon":-2.8},"risk_score":0.7,"confidence":0.9,"timestamp":"2025-03-02T09:00:00Z"}]`
	req := httptest.NewRequest("POST", "/v1/observations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		day1, day2 := builds["2025-03-01"], builds["2025-03-02"]
		mu.Unlock()
		if day1 == 2 && day2 == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected both grids rebuilt once, got day1=%d day2=%d", day1, day2)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListObservations_Pagination(t *testing.T) {
	repo := &mockObsRepo{
		listPageFn: func(ctx context.Context, r domain.DateRange, offset, limit int) ([]domain.Observation, int, error) {
			if offset != 2 || limit != 2 {
				t.Errorf("expected offset 2 limit 2, got %d %d", offset, limit)
			}
			return bilbaoObservations(), 5, nil
		},
	}
	app := setupApp(makeDeps(repo))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/observations?from=2025-01-01&offset=2&limit=2", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	link := resp.Header.Get("Link")
	for _, want := range []string{`rel="next"`, `rel="prev"`, "from=2025-01-01", "offset=4"} {
		if !strings.Contains(link, want) {
			t.Errorf("Link header %q missing %q", link, want)
		}
	}

	var result struct {
		Data       []domain.Observation `json:"data"`
		Pagination handler.Pagination   `json:"pagination"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Pagination.Total != 5 || len(result.Data) != 2 {
		t.Errorf("unexpected page: total=%d len=%d", result.Pagination.Total, len(result.Data))
	}
}

func TestNearbyObservations(t *testing.T) {
	repo := &mockObsRepo{
		inBoxFn: func(ctx context.Context, box domain.Bounds, limit int) ([]domain.Observation, error) {
			return []domain.Observation{
				{ID: "near", Location: domain.GeoPoint{Lat: 43.2631, Lon: -2.935}},
			}, nil
		},
	}
	app := setupApp(makeDeps(repo))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/observations/nearby?lat=43.263&lon=-2.935&radius=500", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result []usecases.NearbyObservation
	json.NewDecoder(resp.Body).Decode(&result)
	if len(result) != 1 || result[0].ID != "near" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestNearbyObservations_BadParams(t *testing.T) {
	app := setupApp(makeDeps(&mockObsRepo{}))

	for _, target := range []string{
		"/v1/observations/nearby",
		"/v1/observations/nearby?lat=43.26&lon=-2.93&radius=90000",
		"/v1/observations/nearby?lat=43.26&lon=-2.93&radius=-1",
	} {
		resp, _ := app.Test(httptest.NewRequest("GET", target, nil), -1)
		if resp.StatusCode != 400 {
			t.Errorf("%s: expected 400, got %d", target, resp.StatusCode)
		}
	}
}

// ---- Health, GraphQL ----

func TestHealth(t *testing.T) {
	app := setupApp(makeDeps(&mockObsRepo{}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/health", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "public, max-age=10" {
		t.Errorf("unexpected Cache-Control %q", cc)
	}
}

func TestReady_NoDatabase(t *testing.T) {
	app := setupApp(makeDeps(&mockObsRepo{}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/ready", nil), -1)
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503 without a database, got %d", resp.StatusCode)
	}
}

func TestGraphQL_Heatmap(t *testing.T) {
	app := setupApp(makeDeps(withObservations()))

	body := `{"query":"{ heatmap(resolution: 2, mode: \"risk_score\") { resolution levels { critical unfilled } cells { row col risk_level color_key } } }"}`
	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Heatmap struct {
				Resolution int `json:"resolution"`
				Cells      []struct {
					RiskLevel string `json:"risk_level"`
					ColorKey  string `json:"color_key"`
				} `json:"cells"`
			} `json:"heatmap"`
		} `json:"data"`
		Errors []interface{} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.Errors) > 0 {
		t.Fatalf("graphql errors: %v", result.Errors)
	}
	if result.Data.Heatmap.Resolution != 2 || len(result.Data.Heatmap.Cells) != 4 {
		t.Errorf("unexpected heatmap %+v", result.Data.Heatmap)
	}
}

func TestGraphQL_Cell(t *testing.T) {
	app := setupApp(makeDeps(withObservations()))

	body := `{"query":"{ cell(lat: 43.25, lon: -2.95) { sample_count risk_level interpolated } }"}`
	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)

	var result struct {
		Data struct {
			Cell struct {
				SampleCount int    `json:"sample_count"`
				RiskLevel   string `json:"risk_level"`
			} `json:"cell"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Data.Cell.SampleCount != 1 || result.Data.Cell.RiskLevel != "critical" {
		t.Errorf("unexpected cell %+v", result.Data.Cell)
	}
}
