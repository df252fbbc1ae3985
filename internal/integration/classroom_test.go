package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"mindlink/internal/app"
	"mindlink/internal/auth"
	"mindlink/internal/config"
	"mindlink/pkg/types"
)

const (
	testSecret  = "integration-secret"
	sessionID   = "sess-e2e"
	teacherID   = "teacher-1"
	aliceID     = "student-alice"
	bobID       = "student-bob"
	samplesEach = 10
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func startApplication(t *testing.T) *app.Application {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "e2e.db")
	cfg.Database.RetryDelay = 10 * time.Millisecond
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Auth.JWTSecret = testSecret

	application, err := app.NewApplication(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return application
}

func seed(t *testing.T, application *app.Application) {
	t.Helper()
	ctx := context.Background()
	store := application.Store()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
	must(store.CreateUser(ctx, teacherID, "teacher@school.edu", "Ms. Rivera", types.RoleTeacher))
	must(store.CreateUser(ctx, aliceID, "alice@school.edu", "Alice", types.RoleStudent))
	must(store.CreateUser(ctx, bobID, "bob@school.edu", "Bob", types.RoleStudent))
	must(store.CreateClass(ctx, "class-1", "Biology", teacherID))
	must(store.EnrollStudent(ctx, "class-1", aliceID))
	must(store.EnrollStudent(ctx, "class-1", bobID))
	start := time.Now().UTC().Add(-time.Minute)
	must(store.CreateSession(ctx, &types.Session{
		ID:        sessionID,
		ClassID:   "class-1",
		TeacherID: teacherID,
		Title:     "Cell division",
		Status:    types.SessionActive,
		StartTime: &start,
	}))
}

func issue(t *testing.T, id, name string, role types.Role) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), "", &types.Identity{ID: id, Name: name, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	return token
}

func dial(t *testing.T, addr, token string) *client {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(event string, data interface{}) {
	c.t.Helper()
	if err := c.conn.WriteJSON(types.Envelope{Event: event, Data: data}); err != nil {
		c.t.Fatalf("send %s failed: %v", event, err)
	}
}

// expect reads frames until one named event arrives, skipping the rest.
func (c *client) expect(event string) frame {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.t.Fatalf("waiting for %s: %v", event, err)
		}
		if f.Event == types.EventError {
			c.t.Fatalf("waiting for %s: got error frame %s", event, f.Data)
		}
		if f.Event == event {
			return f
		}
	}
}

func TestClassroomSession_EndToEnd(t *testing.T) {
	application := startApplication(t)
	seed(t, application)
	addr := application.GetAddr()

	teacher := dial(t, addr, issue(t, teacherID, "Ms. Rivera", types.RoleTeacher))
	teacher.send(types.EventTeacherJoin, map[string]string{"sessionId": sessionID})
	teacher.expect(types.EventTeacherJoined)

	alice := dial(t, addr, issue(t, aliceID, "Alice", types.RoleStudent))
	bob := dial(t, addr, issue(t, bobID, "Bob", types.RoleStudent))
	for _, student := range []*client{alice, bob} {
		student.send(types.EventStudentJoin, map[string]string{"sessionId": sessionID})
		student.expect(types.EventStudentJoined)
		teacher.expect(types.EventStudentConnected)
	}

	base := time.Now().UTC().Add(-30 * time.Second).Truncate(time.Millisecond)
	for i := 0; i < samplesEach; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		alice.send(types.EventEEGData, map[string]interface{}{
			"attention": 70 + i, "relaxation": 40, "signalQuality": 95, "timestamp": ts,
		})
		bob.send(types.EventEEGData, map[string]interface{}{
			"attention": 20 + i, "relaxation": 60, "signalQuality": 90, "timestamp": ts,
		})
	}
	for i := 0; i < samplesEach; i++ {
		alice.expect(types.EventEEGReceived)
		bob.expect(types.EventEEGReceived)
	}

	t.Run("teacher receives every sample in order", func(t *testing.T) {
		seen := map[string][]float64{}
		for i := 0; i < 2*samplesEach; i++ {
			var update struct {
				StudentID   string  `json:"studentId"`
				StudentName string  `json:"studentName"`
				SessionID   string  `json:"sessionId"`
				Attention   float64 `json:"attention"`
			}
			if err := json.Unmarshal(teacher.expect(types.EventEEGUpdate).Data, &update); err != nil {
				t.Fatalf("bad eeg:update payload: %v", err)
			}
			if update.SessionID != sessionID {
				t.Errorf("update for wrong session %q", update.SessionID)
			}
			seen[update.StudentID] = append(seen[update.StudentID], update.Attention)
		}
		for id, first := range map[string]float64{aliceID: 70, bobID: 20} {
			got := seen[id]
			if len(got) != samplesEach {
				t.Fatalf("%s: expected %d updates, got %d", id, samplesEach, len(got))
			}
			for i, v := range got {
				if v != first+float64(i) {
					t.Errorf("%s: update %d has attention %v, want %v", id, i, v, first+float64(i))
				}
			}
		}
	})

	t.Run("metrics cover both students", func(t *testing.T) {
		waitForSamples(t, application, 2*samplesEach)

		req, _ := http.NewRequest(http.MethodPost, "http://"+addr+"/metrics/sessions/"+sessionID+"/calculate", nil)
		req.Header.Set("Authorization", "Bearer "+issue(t, teacherID, "Ms. Rivera", types.RoleTeacher))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("calculate request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		var body struct {
			Success bool                 `json:"success"`
			Data    types.SessionMetrics `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("bad metrics body: %v", err)
		}
		if !body.Success {
			t.Fatal("expected success")
		}
		m := body.Data
		if m.Overall.TotalStudents != 2 || m.Overall.TotalSamples != 2*samplesEach {
			t.Errorf("unexpected overall %+v", m.Overall)
		}
		if len(m.Students) != 2 || m.Students[0].StudentID != aliceID || m.Students[0].StudentName != "Alice" {
			t.Errorf("expected Alice ranked first, got %+v", m.Students)
		}
		if m.Students[1].AvgAttention != 24.5 {
			t.Errorf("expected Bob avg 24.5, got %v", m.Students[1].AvgAttention)
		}
	})

	t.Run("dropping a socket notifies the teacher", func(t *testing.T) {
		bob.conn.Close()

		var presence struct {
			StudentID string `json:"studentId"`
		}
		if err := json.Unmarshal(teacher.expect(types.EventStudentDisconnected).Data, &presence); err != nil {
			t.Fatalf("bad presence payload: %v", err)
		}
		if presence.StudentID != bobID {
			t.Errorf("expected %s to disconnect, got %s", bobID, presence.StudentID)
		}
	})
}

func TestClassroomSession_RejectsUnenrolledStudent(t *testing.T) {
	application := startApplication(t)
	seed(t, application)
	if err := application.Store().CreateUser(context.Background(), "stranger", "s@x.edu", "Stranger", types.RoleStudent); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	stranger := dial(t, application.GetAddr(), issue(t, "stranger", "Stranger", types.RoleStudent))
	stranger.send(types.EventStudentJoin, map[string]string{"sessionId": sessionID})

	_ = stranger.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	if err := stranger.conn.ReadJSON(&f); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var payload struct {
		Message string `json:"message"`
		Event   string `json:"event"`
	}
	if err := json.Unmarshal(f.Data, &payload); err != nil {
		t.Fatalf("bad error payload: %v", err)
	}
	if f.Event != types.EventError || payload.Event != types.EventStudentJoin {
		t.Errorf("expected error frame for %s, got %s %+v", types.EventStudentJoin, f.Event, payload)
	}

	stranger.send(types.EventEEGData, map[string]interface{}{"attention": 50, "relaxation": 50})
	if err := stranger.conn.ReadJSON(&f); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if f.Event != types.EventError {
		t.Errorf("expected error for unjoined telemetry, got %s", f.Event)
	}
}

func waitForSamples(t *testing.T, application *app.Application, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		samples, err := application.Store().ListSessionSamples(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("ListSessionSamples failed: %v", err)
		}
		if len(samples) >= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d persisted samples, have %d", want, len(samples))
		}
		time.Sleep(20 * time.Millisecond)
	}
}
