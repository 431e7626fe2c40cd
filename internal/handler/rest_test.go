package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/flybeeper/drone-sim/internal/config"
	"github.com/flybeeper/drone-sim/internal/filter"
	"github.com/flybeeper/drone-sim/internal/geo"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/internal/repository"
	"github.com/flybeeper/drone-sim/internal/service"
	"github.com/flybeeper/drone-sim/internal/simulation"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

// MockHistoryRepository для тестирования
type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) Ping(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockHistoryRepository) Close() error                   { return nil }
func (m *MockHistoryRepository) EnsureSchema(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockHistoryRepository) StartRun(ctx context.Context, run models.Run) error {
	return m.Called(ctx, run).Error(0)
}

func (m *MockHistoryRepository) FinishRun(ctx context.Context, runID string, status models.Status, endedAt time.Time) error {
	return m.Called(ctx, runID, status, endedAt).Error(0)
}

func (m *MockHistoryRepository) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Run), args.Error(1)
}

func (m *MockHistoryRepository) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Run), args.Error(1)
}

func (m *MockHistoryRepository) GetTelemetry(ctx context.Context, runID string, limit int) ([]models.Telemetry, error) {
	args := m.Called(ctx, runID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Telemetry), args.Error(1)
}

func (m *MockHistoryRepository) CleanupOldRuns(ctx context.Context, olderThan time.Duration) error {
	return m.Called(ctx, olderThan).Error(0)
}

func (m *MockHistoryRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{Address: ":0", MaxUploadBytes: 1 << 20},
		Performance: config.PerformanceConfig{
			SubscriberBuffer:      16,
			WebSocketPingInterval: time.Second,
			WebSocketPongTimeout:  5 * time.Second,
			RateLimitRPS:          1000,
			RateLimitBurst:        1000,
		},
		Monitoring: config.MonitoringConfig{MetricsEnabled: true},
	}
}

type testEnv struct {
	sim     *simulation.Simulator
	history *MockHistoryRepository
	server  *Server
}

func setupTestServer(t *testing.T, withHistory bool, path ...models.Coordinate) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := utils.Nop()
	sim := simulation.New(geo.Planar{}, 1, time.Second, logger)
	if len(path) > 0 {
		sim.ReplacePath(path)
	}

	env := &testEnv{sim: sim}
	deps := Dependencies{
		Simulation: sim,
		Validation: service.NewValidationService(logger, &service.ValidationConfig{MaxWaypoints: 5}),
		Progress:   service.NewProgressTracker(geo.Planar{}),
		Version:    "test",
	}
	if withHistory {
		env.history = &MockHistoryRepository{}
		deps.History = env.history
	}
	env.server = NewServer(testConfig(), deps, logger)
	return env
}

func (e *testEnv) do(method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response), w.Body.String())
	return response
}

var testRoute = []models.Coordinate{{Latitude: 0, Longitude: 0}, {Latitude: 0, Longitude: 3}}

func TestRESTHandler_GetSimulation(t *testing.T) {
	env := setupTestServer(t, false, testRoute...)

	w := env.do("GET", "/api/v1/simulation", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	response := decode(t, w)
	assert.Equal(t, "idle", response["status"])
	assert.Len(t, response["waypoints"], 2)
	assert.Len(t, response["path"], 2)
	assert.Len(t, response["trail"], 2)
	assert.Contains(t, response, "position")
	assert.NotEmpty(t, response["geohash"])
}

func TestRESTHandler_GetSimulation_Protobuf(t *testing.T) {
	env := setupTestServer(t, false, testRoute...)

	w := env.do("GET", "/api/v1/simulation", nil, map[string]string{"Accept": "application/x-protobuf"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-protobuf", w.Header().Get("Content-Type"))

	var msg structpb.Struct
	require.NoError(t, proto.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, "idle", msg.GetFields()["status"].GetStringValue())
	assert.Equal(t, testRoute, protoToCoordinates(msg.GetFields()["waypoints"].GetListValue()))
}

func TestRESTHandler_Lifecycle(t *testing.T) {
	env := setupTestServer(t, false, testRoute...)

	w := env.do("POST", "/api/v1/simulation/start", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, true, response["changed"])
	sim := response["simulation"].(map[string]interface{})
	assert.Equal(t, "running", sim["status"])
	assert.NotEmpty(t, sim["run_id"])

	// Повторный start ничего не меняет
	w = env.do("POST", "/api/v1/simulation/start", nil, nil)
	assert.Equal(t, false, decode(t, w)["changed"])

	env.sim.Tick(context.Background())

	w = env.do("POST", "/api/v1/simulation/pause", nil, nil)
	response = decode(t, w)
	assert.Equal(t, true, response["changed"])
	assert.Equal(t, "idle", response["simulation"].(map[string]interface{})["status"])

	w = env.do("POST", "/api/v1/simulation/reset", nil, nil)
	response = decode(t, w)
	sim = response["simulation"].(map[string]interface{})
	assert.Empty(t, sim["waypoints"])
	assert.Equal(t, "", sim["run_id"])
}

func TestRESTHandler_Progress(t *testing.T) {
	env := setupTestServer(t, false, testRoute...)
	env.sim.Start(context.Background())
	env.sim.Tick(context.Background())

	w := env.do("GET", "/api/v1/simulation/progress", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.InDelta(t, 3, response["total"], 1e-9)
	assert.InDelta(t, 1, response["traveled"], 1e-9)
	assert.InDelta(t, 2, response["eta_seconds"], 1e-9)
}

func TestRESTHandler_AppendWaypoint(t *testing.T) {
	env := setupTestServer(t, false)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedCode   string
	}{
		{"valid", `{"lat":18.56,"lng":-68.40}`, http.StatusCreated, ""},
		{"zero is allowed", `{"lat":0,"lng":0}`, http.StatusCreated, ""},
		{"missing lng", `{"lat":18.56}`, http.StatusBadRequest, "invalid_request"},
		{"latitude too high", `{"lat":91,"lng":0}`, http.StatusBadRequest, "invalid_latitude"},
		{"longitude too low", `{"lat":0,"lng":-181}`, http.StatusBadRequest, "invalid_longitude"},
		{"malformed", `{"lat":`, http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("POST", "/api/v1/path/waypoints", []byte(tt.body), nil)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, decode(t, w)["code"])
			}
		})
	}

	assert.Len(t, env.sim.Waypoints(), 2)
}

func TestRESTHandler_AppendWaypoint_Limit(t *testing.T) {
	env := setupTestServer(t, false)
	for i := 0; i < 5; i++ {
		w := env.do("POST", "/api/v1/path/waypoints", []byte(`{"lat":1,"lng":1}`), nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := env.do("POST", "/api/v1/path/waypoints", []byte(`{"lat":1,"lng":1}`), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "too_many_waypoints", decode(t, w)["code"])
}

func TestRESTHandler_ReplaceAndClearPath(t *testing.T) {
	env := setupTestServer(t, false)

	w := env.do("PUT", "/api/v1/path", []byte(`{"waypoints":[{"lat":1,"lng":2},{"lat":3,"lng":4}]}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.Coordinate{{Latitude: 1, Longitude: 2}, {Latitude: 3, Longitude: 4}}, env.sim.Waypoints())

	w = env.do("GET", "/api/v1/path", nil, nil)
	assert.Len(t, decode(t, w)["waypoints"], 2)

	w = env.do("PUT", "/api/v1/path", []byte(`{"waypoints":[{"lat":1,"lng":200}]}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, env.sim.Waypoints(), 2)

	w = env.do("DELETE", "/api/v1/path", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, env.sim.Waypoints())
}

func TestRESTHandler_ReplacePath_Protobuf(t *testing.T) {
	env := setupTestServer(t, false)

	msg, err := structpb.NewStruct(map[string]interface{}{
		"waypoints": []interface{}{
			map[string]interface{}{"lat": 5.0, "lng": 6.0},
			map[string]interface{}{"lat": 7.0, "lng": 8.0},
		},
	})
	require.NoError(t, err)
	body, err := proto.Marshal(msg)
	require.NoError(t, err)

	w := env.do("PUT", "/api/v1/path", body, map[string]string{"Content-Type": "application/x-protobuf"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []models.Coordinate{{Latitude: 5, Longitude: 6}, {Latitude: 7, Longitude: 8}}, env.sim.Waypoints())
}

func uploadCSV(t *testing.T, env *testEnv, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "route.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/v1/path/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	return w
}

func TestRESTHandler_ImportPath(t *testing.T) {
	env := setupTestServer(t, false, testRoute...)

	w := uploadCSV(t, env, "name,Latitude,Longitude\na,18.56,-68.40\nb,0,-68.39\nc,18.55,-68.38\n")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	response := decode(t, w)
	assert.Equal(t, float64(3), response["rows"])
	assert.Equal(t, float64(2), response["imported"])
	assert.Equal(t, float64(1), response["dropped"])
	assert.Len(t, env.sim.Waypoints(), 2)
	assert.Equal(t, 18.56, env.sim.Waypoints()[0].Latitude)
}

func TestRESTHandler_ImportPath_Cleanup(t *testing.T) {
	env := setupTestServer(t, false, testRoute...)
	env.server.restHandler.cleanup = filter.NewFilterChain(&filter.FilterConfig{
		MinDistance:           0.01,
		OutlierThreshold:      5,
		EnableDuplicateFilter: true,
		EnableOutlierFilter:   true,
	}, geo.Planar{}, utils.Nop())

	w := uploadCSV(t, env, "latitude,longitude\n10,10\n10,10\n10,11\n60,11\n10,12\n")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	response := decode(t, w)
	assert.Equal(t, float64(3), response["imported"])
	assert.Equal(t, float64(1), response["duplicates"])
	assert.Equal(t, float64(1), response["outliers"])
	assert.Equal(t, []models.Coordinate{{Latitude: 10, Longitude: 10}, {Latitude: 10, Longitude: 11}, {Latitude: 10, Longitude: 12}}, env.sim.Waypoints())
}

func TestRESTHandler_ImportPath_Rejected(t *testing.T) {
	env := setupTestServer(t, false, testRoute...)

	// Файл без пригодных точек не трогает текущий маршрут
	w := uploadCSV(t, env, "latitude,longitude\n0,0\n")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "no_coordinates", decode(t, w)["code"])
	assert.Equal(t, testRoute, env.sim.Waypoints())

	req := httptest.NewRequest("POST", "/api/v1/path/import", strings.NewReader(""))
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_file", decode(t, rec)["code"])
}

func TestRESTHandler_HistoryDisabled(t *testing.T) {
	env := setupTestServer(t, false)

	for _, target := range []string{"/api/v1/runs", "/api/v1/runs/abc", "/api/v1/runs/abc/telemetry"} {
		w := env.do("GET", target, nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, target)
		assert.Equal(t, "history_disabled", decode(t, w)["code"])
	}
}

func TestRESTHandler_Runs(t *testing.T) {
	env := setupTestServer(t, true)
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	run := &models.Run{RunID: "run-1", StartedAt: started, Waypoints: 4}

	env.history.On("ListRuns", mock.Anything, 10).Return([]models.Run{*run}, nil)
	env.history.On("GetRun", mock.Anything, "run-1").Return(run, nil)
	env.history.On("GetRun", mock.Anything, "missing").Return(nil, repository.ErrNotFound)
	env.history.On("GetTelemetry", mock.Anything, "run-1", 100).Return([]models.Telemetry{
		{RunID: "run-1", Sequence: 1, Status: models.StatusRunning, Latitude: 1, Longitude: 2, RecordedAt: started},
		{RunID: "run-1", Sequence: 2, Status: models.StatusRunning, Latitude: 1, Longitude: 3, RecordedAt: started},
	}, nil)

	w := env.do("GET", "/api/v1/runs?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["runs"], 1)

	w = env.do("GET", "/api/v1/runs/run-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "run-1", decode(t, w)["run_id"])

	w = env.do("GET", "/api/v1/runs/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("GET", "/api/v1/runs/missing/telemetry", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("GET", "/api/v1/runs/run-1/telemetry", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, float64(2), response["count"])
	points := response["telemetry"].([]interface{})
	assert.Equal(t, float64(1), points[0].(map[string]interface{})["seq"])

	w = env.do("GET", "/api/v1/runs?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_limit", decode(t, w)["code"])

	env.history.AssertExpectations(t)
}

func TestServer_Health(t *testing.T) {
	env := setupTestServer(t, false)

	w := env.do("GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, "test", response["version"])
	assert.Equal(t, "idle", response["simulation"])

	env.server.deps.Health = map[string]Pinger{"redis": failingPinger{}}
	w = env.do("GET", "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", decode(t, w)["status"])
}

func TestServer_Stats(t *testing.T) {
	env := setupTestServer(t, false)
	env.server.deps.Stats = map[string]StatsSource{
		"clock": func(context.Context) (interface{}, error) {
			return map[string]interface{}{"ticks": 3}, nil
		},
		"mysql": func(context.Context) (interface{}, error) {
			return nil, errors.New("connection refused")
		},
	}
	env.do("POST", "/api/v1/path/waypoints", []byte(`{"lat":1,"lng":2}`), nil)

	w := env.do("GET", "/api/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	components := decode(t, w)["components"].(map[string]interface{})

	assert.Equal(t, 3.0, components["clock"].(map[string]interface{})["ticks"])
	assert.Equal(t, "connection refused", components["mysql"].(map[string]interface{})["error"])
	assert.Equal(t, 0.0, components["websocket"].(map[string]interface{})["clients"])
	assert.Equal(t, 1.0, components["validation"].(map[string]interface{})["accepted"])
}

func TestServer_Metrics(t *testing.T) {
	env := setupTestServer(t, false)
	env.do("GET", "/api/v1/simulation", nil, nil)

	w := env.do("GET", "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dronesim_http_requests_total")
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(1, 1))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
