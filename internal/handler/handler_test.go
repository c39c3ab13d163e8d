package handler

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"geoattend/internal/attendance"
	"geoattend/internal/reminder"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router *gin.Engine
	store  *attendance.MemoryStore
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: attendance.NewMemoryStore(),
		now:   time.Date(2026, 10, 14, 17, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	svc := attendance.NewService(attendance.Options{Store: f.store, Clock: clock})
	sched := reminder.NewScheduler(reminder.NewMemoryFlag(clock), 15*time.Second, nil)
	h := New(Config{
		Service:  svc,
		Reminder: sched,
		Health:   map[string]HealthCheck{"store": func(context.Context) bool { return true }},
	})
	f.router = gin.New()
	h.Register(f.router)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return w, out
}

const openBody = `{"code":"ABC123","classroom":{"lat":40.0,"lng":-75.0,"radius":100}}`

func TestSetSessionAndCurrent(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodGet, "/api/session", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("GET /api/session before open = %d", w.Code)
	}

	w, body := f.do(t, http.MethodPost, "/api/setsession", openBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("setsession = %d: %s", w.Code, w.Body.String())
	}
	if body["status"] != "Success" || body["code"] != "ABC123" {
		t.Errorf("setsession body = %v", body)
	}
	if body["opened_at"] != "2026-10-14T17:00:00Z" {
		t.Errorf("opened_at = %v", body["opened_at"])
	}

	w, body = f.do(t, http.MethodGet, "/api/session", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/session = %d", w.Code)
	}
	room, _ := body["classroom"].(map[string]any)
	if room["radius"] != 100.0 {
		t.Errorf("classroom = %v", body["classroom"])
	}
}

func TestSetSessionValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"missing code", `{"classroom":{"lat":1,"lng":2,"radius":3}}`, "missing code"},
		{"missing classroom", `{"code":"X"}`, "incomplete classroom information"},
		{"missing radius", `{"code":"X","classroom":{"lat":1,"lng":2}}`, "incomplete classroom information"},
		{"zero radius", `{"code":"X","classroom":{"lat":1,"lng":2,"radius":0}}`, "radius must be positive"},
		{"negative radius", `{"code":"X","classroom":{"lat":1,"lng":2,"radius":-5}}`, "radius must be positive"},
		{"bad latitude", `{"code":"X","classroom":{"lat":91,"lng":2,"radius":3}}`, "lat out of range"},
		{"code with space", `{"code":"A B","classroom":{"lat":1,"lng":2,"radius":3}}`, "code must be at most 50 characters without whitespace"},
		{"malformed", `{"code":`, "malformed request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w, body := f.do(t, http.MethodPost, "/api/setsession", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
			if body["status"] != "Error" || body["message"] != tt.msg {
				t.Errorf("body = %v, want message %q", body, tt.msg)
			}
		})
	}
}

func TestCheckInFlow(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/setsession", openBody)

	f.now = f.now.Add(10 * time.Second)
	w, body := f.do(t, http.MethodPost, "/api/attendance",
		`{"code":"ABC123","email":"A@X.com ","name":"A","classroom":{"lat":40.0,"lng":-75.0}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("attendance = %d: %s", w.Code, w.Body.String())
	}
	if body["status"] != "Valid" || body["arrival"] != "on time" {
		t.Errorf("body = %v", body)
	}
	if d, _ := body["distance"].(float64); d > 1e-6 {
		t.Errorf("distance = %v, want ~0", d)
	}

	w, body = f.do(t, http.MethodPost, "/api/attendance",
		`{"code":"ABC123","email":"b@x.com","name":"B","classroom":{"lat":41.0,"lng":-75.0}}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("out of range = %d", w.Code)
	}
	if body["status"] != "Invalid" {
		t.Errorf("status = %v", body["status"])
	}
	if d, _ := body["distance"].(float64); d < 111000 || d > 111400 {
		t.Errorf("distance = %v, want ~111195", d)
	}

	f.now = f.now.Add(20 * time.Second)
	_, body = f.do(t, http.MethodPost, "/api/attendance",
		`{"code":"ABC123","email":"a@x.com","name":"A","classroom":{"lat":40.0,"lng":-75.0}}`)
	if body["arrival"] != "late" {
		t.Errorf("arrival at 30s = %v, want late", body["arrival"])
	}

	if n := f.store.CheckInCount(); n != 2 {
		t.Errorf("CheckInCount() = %d, want 2", n)
	}
	if n := f.store.UserCount(); n != 2 {
		t.Errorf("UserCount() = %d, want 2", n)
	}
}

func TestCheckInErrors(t *testing.T) {
	tests := []struct {
		name   string
		open   bool
		body   string
		code   int
		status string
		msg    string
	}{
		{"no session", false, `{"code":"ABC123","email":"a@x.com","name":"A","classroom":{"lat":40,"lng":-75}}`, 400, "Error", "no active session"},
		{"missing code", true, `{"email":"a@x.com","name":"A","classroom":{"lat":40,"lng":-75}}`, 400, "Error", "missing code"},
		{"wrong code", true, `{"code":"NOPE","email":"a@x.com","name":"A","classroom":{"lat":40,"lng":-75}}`, 403, "Invalid", "incorrect attendance code"},
		{"missing location", true, `{"code":"ABC123","email":"a@x.com","name":"A"}`, 400, "Error", "missing location"},
		{"missing email", true, `{"code":"ABC123","name":"A","classroom":{"lat":40,"lng":-75}}`, 400, "Error", "missing email"},
		{"missing name", true, `{"code":"ABC123","email":"a@x.com","classroom":{"lat":40,"lng":-75}}`, 400, "Error", "missing name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.open {
				f.do(t, http.MethodPost, "/api/setsession", openBody)
			}
			w, body := f.do(t, http.MethodPost, "/api/attendance", tt.body)
			if w.Code != tt.code {
				t.Fatalf("status code = %d, want %d: %s", w.Code, tt.code, w.Body.String())
			}
			if body["status"] != tt.status || body["message"] != tt.msg {
				t.Errorf("body = %v", body)
			}
			if f.store.UserCount() != 0 || f.store.CheckInCount() != 0 {
				t.Error("failed check-in left state behind")
			}
		})
	}
}

func TestListCheckInsAndReport(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/setsession", openBody)
	f.now = f.now.Add(20 * time.Second)
	f.do(t, http.MethodPost, "/api/attendance",
		`{"code":"ABC123","email":"a@x.com","name":"Ann","classroom":{"lat":40.0,"lng":-75.0}}`)

	w, body := f.do(t, http.MethodGet, "/api/checkins?limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("checkins = %d", w.Code)
	}
	list, _ := body["checkins"].([]any)
	if len(list) != 1 {
		t.Fatalf("checkins = %v", body["checkins"])
	}
	first, _ := list[0].(map[string]any)
	if first["username"] != "Ann" || first["arrival"] != "late" {
		t.Errorf("checkin = %v", first)
	}

	w, _ = f.do(t, http.MethodGet, "/api/report/late.csv", "")
	if w.Code != http.StatusOK {
		t.Fatalf("report = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	rows, err := csv.NewReader(w.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 2 || rows[1][0] != "Ann" || rows[1][2] != "1" || rows[1][3] != "1" {
		t.Errorf("rows = %v", rows)
	}
}

func TestPingStatus(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, http.MethodGet, "/api/ping-status", "")
	if body["shouldPing"] != false {
		t.Fatalf("shouldPing before ping = %v", body["shouldPing"])
	}
	if w, _ := f.do(t, http.MethodPost, "/api/ping", ""); w.Code != http.StatusAccepted {
		t.Fatalf("ping = %d", w.Code)
	}
	_, body = f.do(t, http.MethodGet, "/api/ping-status", "")
	if body["shouldPing"] != true {
		t.Errorf("shouldPing after ping = %v", body["shouldPing"])
	}
	f.now = f.now.Add(16 * time.Second)
	_, body = f.do(t, http.MethodGet, "/api/ping-status", "")
	if body["shouldPing"] != false {
		t.Errorf("shouldPing after window = %v", body["shouldPing"])
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w, body := f.do(t, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || body["store"] != true {
		t.Errorf("healthz = %d %v", w.Code, body)
	}
}

func TestListCheckInsPagination(t *testing.T) {
	tests := []struct {
		name  string
		query string
		code  int
		msg   string
	}{
		{"defaults", "", http.StatusOK, ""},
		{"huge limit is capped", "?limit=100000000", http.StatusOK, ""},
		{"non-integer limit", "?limit=ten", http.StatusBadRequest, "limit must be a non-negative integer"},
		{"negative limit", "?limit=-1", http.StatusBadRequest, "limit must be a non-negative integer"},
		{"non-integer offset", "?offset=1.5", http.StatusBadRequest, "offset must be a non-negative integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w, body := f.do(t, http.MethodGet, "/api/checkins"+tt.query, "")
			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.code, w.Body.String())
			}
			if tt.msg != "" && (body["status"] != "Error" || body["message"] != tt.msg) {
				t.Errorf("body = %v, want message %q", body, tt.msg)
			}
		})
	}
}

type limitRecorder struct {
	*attendance.MemoryStore
	got attendance.CheckInFilter
}

func (l *limitRecorder) ListCheckIns(ctx context.Context, f attendance.CheckInFilter) ([]attendance.CheckInView, error) {
	l.got = f
	return l.MemoryStore.ListCheckIns(ctx, f)
}

func TestListCheckInsLimitCap(t *testing.T) {
	st := &limitRecorder{MemoryStore: attendance.NewMemoryStore()}
	svc := attendance.NewService(attendance.Options{Store: st})
	h := New(Config{Service: svc, Reminder: reminder.NewScheduler(reminder.NewMemoryFlag(nil), 0, nil)})
	r := gin.New()
	h.Register(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/checkins?limit=100000000&offset=3", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if st.got.Limit != maxListLimit || st.got.Offset != 3 {
		t.Errorf("store filter = %+v, want limit %d offset 3", st.got, maxListLimit)
	}
}
