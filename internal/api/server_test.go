package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"mindlink/internal/analytics"
	"mindlink/internal/auth"
	"mindlink/internal/instrument"
	"mindlink/internal/room"
	"mindlink/internal/session"
	fakes "mindlink/internal/testutil"
	"mindlink/pkg/types"
)

const testSecret = "api-secret"

type fakeSockets struct{}

func (fakeSockets) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}

func (fakeSockets) ActiveConnections() int { return 3 }

func newTestServer(t *testing.T, timeout time.Duration) (*Server, *fakes.MemStore) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := fakes.NewMemStore()
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	store.AddSession(types.Session{ID: "s1", ClassID: "c1", TeacherID: "t1", Status: types.SessionActive, StartTime: &start})
	store.AddStudent("c1", types.StudentProfile{ID: "st1", Name: "Ada"})
	store.AddStudent("c1", types.StudentProfile{ID: "st2", Name: "Bo"})
	for i := 0; i < 4; i++ {
		store.AddSamples(
			types.EEGSample{ID: fmt.Sprintf("a%d", i), SessionID: "s1", StudentID: "st1", Timestamp: start.Add(time.Duration(i) * time.Second), Attention: 80, Relaxation: 50},
			types.EEGSample{ID: fmt.Sprintf("b%d", i), SessionID: "s1", StudentID: "st2", Timestamp: start.Add(time.Duration(i) * time.Second), Attention: 30, Relaxation: 50},
		)
	}

	metrics := instrument.New()
	aggregator := analytics.NewAggregator(store, nil, analytics.Config{Timeout: timeout}, logger, metrics)
	server := NewServer(store, room.NewRegistry(), session.NewManager(store, logger), aggregator,
		auth.NewAuthenticator(testSecret, "", logger), fakeSockets{}, metrics, logger)
	return server, store
}

func token(t *testing.T, id string, role types.Role) string {
	t.Helper()
	tok, err := auth.IssueToken([]byte(testSecret), "", &types.Identity{ID: id, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	return tok
}

func do(t *testing.T, s *Server, method, path, tok string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) (Envelope, map[string]interface{}) {
	t.Helper()
	var raw map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("invalid JSON %q: %v", w.Body.String(), err)
	}
	env := Envelope{Success: raw["success"] == true}
	if e, ok := raw["error"].(string); ok {
		env.Error = e
	}
	data, _ := raw["data"].(map[string]interface{})
	return env, data
}

func TestServer_Health(t *testing.T) {
	s, store := newTestServer(t, time.Second)

	w := do(t, s, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	env, data := decodeEnvelope(t, w)
	if !env.Success || data["status"] != "healthy" || data["connections"] != float64(3) {
		t.Errorf("unexpected health %s", w.Body.String())
	}

	store.HealthErr = errors.New("disk gone")
	w = do(t, s, http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	if env, data := decodeEnvelope(t, w); env.Success || data["status"] != "unhealthy" {
		t.Errorf("unexpected health %s", w.Body.String())
	}
}

func TestServer_MetricsRequireAuth(t *testing.T) {
	s, _ := newTestServer(t, time.Second)

	w := do(t, s, http.MethodPost, "/metrics/sessions/s1/calculate", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if env, _ := decodeEnvelope(t, w); env.Error != "authentication token required" {
		t.Errorf("unexpected error %q", env.Error)
	}

	w = do(t, s, http.MethodPost, "/metrics/sessions/s1/calculate", "garbage")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad token, got %d", w.Code)
	}
}

func TestServer_MetricsAuthorization(t *testing.T) {
	s, _ := newTestServer(t, time.Second)

	tests := []struct {
		name string
		tok  string
		path string
		want int
	}{
		{"owner", token(t, "t1", types.RoleTeacher), "/metrics/sessions/s1/calculate", http.StatusOK},
		{"admin", token(t, "a1", types.RoleAdmin), "/metrics/sessions/s1/calculate", http.StatusOK},
		{"other teacher", token(t, "t2", types.RoleTeacher), "/metrics/sessions/s1/calculate", http.StatusForbidden},
		{"student", token(t, "st1", types.RoleStudent), "/metrics/sessions/s1/calculate", http.StatusForbidden},
		{"unknown session", token(t, "t1", types.RoleTeacher), "/metrics/sessions/nope/calculate", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, tt.path, tt.tok)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestServer_CalculateAndGet(t *testing.T) {
	s, _ := newTestServer(t, time.Second)
	tok := token(t, "t1", types.RoleTeacher)

	w := do(t, s, http.MethodPost, "/metrics/sessions/s1/calculate", tok)
	if w.Code != http.StatusOK {
		t.Fatalf("calculate failed: %d %s", w.Code, w.Body.String())
	}
	var body struct {
		Success bool                 `json:"success"`
		Data    types.SessionMetrics `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Overall.TotalStudents != 2 || body.Data.Overall.TotalSamples != 8 {
		t.Errorf("unexpected overall %+v", body.Data.Overall)
	}
	if body.Data.Students[0].StudentID != "st1" {
		t.Errorf("students not sorted by attention: %+v", body.Data.Students)
	}

	w = do(t, s, http.MethodGet, "/metrics/sessions/s1", tok)
	if w.Code != http.StatusOK {
		t.Fatalf("get failed: %d %s", w.Code, w.Body.String())
	}
	_, data := decodeEnvelope(t, w)
	if data["sessionId"] != "s1" {
		t.Errorf("unexpected metrics %v", data)
	}
}

func TestServer_Export(t *testing.T) {
	s, _ := newTestServer(t, time.Second)
	w := do(t, s, http.MethodGet, "/metrics/sessions/s1/export", token(t, "t1", types.RoleTeacher))
	if w.Code != http.StatusOK {
		t.Fatalf("export failed: %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("unexpected content type %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="session-s1-metrics.csv"` {
		t.Errorf("unexpected disposition %q", cd)
	}
	records, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 3 || records[1][0] != "st1" || records[2][0] != "st2" {
		t.Errorf("unexpected rows %v", records)
	}
}

func TestServer_CalculateTimeout(t *testing.T) {
	s, store := newTestServer(t, 20*time.Millisecond)
	store.ListBlocks = make(chan struct{})

	w := do(t, s, http.MethodPost, "/metrics/sessions/s1/calculate", token(t, "t1", types.RoleTeacher))
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d: %s", w.Code, w.Body.String())
	}
}

func TestServer_PrometheusAndSocketRoutes(t *testing.T) {
	s, _ := newTestServer(t, time.Second)

	w := do(t, s, http.MethodGet, "/internal/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Errorf("unexpected metrics response %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/ws", ""); w.Code != http.StatusTeapot {
		t.Errorf("/ws not routed to socket handler, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{types.NotFoundError("x"), http.StatusNotFound},
		{types.PermissionError("x"), http.StatusForbidden},
		{types.AuthError("x", nil), http.StatusUnauthorized},
		{types.ValidationError("x", nil), http.StatusBadRequest},
		{types.AggregationError("x", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{types.AggregationError("x", errors.New("boom")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, got)
		}
	}
}
