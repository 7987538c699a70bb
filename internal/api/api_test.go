package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ecotionbuddy/binhub/internal/broker"
	"github.com/ecotionbuddy/binhub/internal/classify"
	"github.com/ecotionbuddy/binhub/internal/ctrl"
	"github.com/ecotionbuddy/binhub/internal/db"
	"github.com/ecotionbuddy/binhub/internal/db/dbtest"
	"github.com/ecotionbuddy/binhub/internal/device"
	"github.com/ecotionbuddy/binhub/internal/imagestore"
	"github.com/ecotionbuddy/binhub/internal/ledger"
	"github.com/ecotionbuddy/binhub/internal/mission"
	"github.com/ecotionbuddy/binhub/internal/session"
	"github.com/ecotionbuddy/binhub/internal/tasks"
	"github.com/ecotionbuddy/binhub/internal/upload"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var jpeg = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

type stubClassifier struct{}

func (stubClassifier) Classify(context.Context, []byte) (classify.Result, error) {
	return classify.Result{Label: "plastic", Confidence: 0.9}, nil
}

type testServer struct {
	db     *gorm.DB
	mem    *broker.Memory
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gdb := dbtest.Open(t)
	if err := db.SeedBins(gdb, map[string]string{"bin-7": "esp32cam-07"}); err != nil {
		t.Fatal(err)
	}
	mem := broker.NewMemory()
	devices := device.NewRegistry(gdb, "esp32cam-01", nil)
	cmd := ctrl.NewPublisher(mem, "ecotionbuddy/ctrl")
	sessions := session.NewManager(gdb, devices, cmd, session.Options{CountdownMs: 3000, Exclusive: true}, nil)
	images := imagestore.New(gdb, t.TempDir(), "")
	group := tasks.New(4, time.Second, nil)
	t.Cleanup(func() { group.Shutdown(context.Background()) })

	router := NewRouter(Deps{
		DB:       gdb,
		Sessions: sessions,
		Uploads: upload.New(upload.Deps{
			Store:      images,
			Sessions:   sessions,
			Classifier: classify.NewGateway(stubClassifier{}, nil),
			Devices:    devices,
			Commander:  cmd,
			Tasks:      group,
		}, nil),
		Images:            images,
		Ledger:            ledger.New(gdb, nil, nil),
		Missions:          mission.NewTracker(gdb, nil),
		ManualClaimPoints: 10,
	})
	return &testServer{db: gdb, mem: mem, router: router}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var r *http.Request
	switch b := body.(type) {
	case nil:
		r = httptest.NewRequest(method, path, nil)
	case []byte:
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	case string:
		r = httptest.NewRequest(method, path, strings.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = httptest.NewRequest(method, path, bytes.NewReader(data))
		r.Header.Set("Content-Type", "application/json")
	}
	return s.serve(t, r)
}

func (s *testServer) serve(t *testing.T, r *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	var out map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", r.Method, r.URL, w.Body.String(), err)
		}
	}
	return w, out
}

func TestMeta(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/", "/health"} {
		w, body := s.do(t, http.MethodGet, path, nil)
		if w.Code != http.StatusOK || body["status"] != "ok" || body["time"] == "" {
			t.Errorf("GET %s = %d %v", path, w.Code, body)
		}
	}
	if _, body := s.do(t, http.MethodGet, "/", nil); body["name"] != Name {
		t.Errorf("name = %v", body["name"])
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/session/start", map[string]string{"userId": "alice", "binId": "bin-7"})
	if w.Code != http.StatusOK || body["status"] != "started" || body["deviceId"] != "esp32cam-07" {
		t.Fatalf("start = %d %v", w.Code, body)
	}
	sid := body["sessionId"].(string)

	if w, _ := s.do(t, http.MethodPost, "/session/start", map[string]string{"userId": "bob", "binId": "bin-7"}); w.Code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", w.Code)
	}

	w, body = s.do(t, http.MethodGet, "/session/"+sid, nil)
	if w.Code != http.StatusOK || body["status"] != "active" || body["userId"] != "alice" {
		t.Errorf("get = %d %v", w.Code, body)
	}

	w, body = s.do(t, http.MethodPost, "/session/end", map[string]string{"sessionId": sid})
	if w.Code != http.StatusOK || body["status"] != "ended" || body["deviceId"] != "esp32cam-07" {
		t.Errorf("end = %d %v", w.Code, body)
	}
	_, body = s.do(t, http.MethodGet, "/session/"+sid, nil)
	if body["status"] != "ended" || body["endReason"] != session.ReasonClientEnd {
		t.Errorf("after end = %v", body)
	}

	if n := len(s.mem.Published()); n != 2 {
		t.Errorf("published %d commands, want activate and deactivate", n)
	}
}

func TestSessionErrors(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"start missing user", http.MethodPost, "/session/start", map[string]string{"binId": "bin-7"}, http.StatusBadRequest},
		{"start bad json", http.MethodPost, "/session/start", "{", http.StatusBadRequest},
		{"end missing id", http.MethodPost, "/session/end", map[string]string{}, http.StatusBadRequest},
		{"end unknown", http.MethodPost, "/session/end", map[string]string{"sessionId": "nope"}, http.StatusNotFound},
		{"get unknown", http.MethodGet, "/session/nope", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := s.do(t, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%v)", w.Code, tt.want, body)
			}
			if body["detail"] == nil {
				t.Errorf("missing detail: %v", body)
			}
		})
	}
}

func TestUpload_RawBody(t *testing.T) {
	s := newTestServer(t)
	_, started := s.do(t, http.MethodPost, "/session/start", map[string]string{"userId": "alice", "binId": "bin-7"})

	r := httptest.NewRequest(http.MethodPost, "/upload?binId=bin-7", bytes.NewReader(jpeg))
	r.Header.Set("Content-Type", "image/jpeg")
	w, body := s.serve(t, r)
	if w.Code != http.StatusOK {
		t.Fatalf("upload = %d %s", w.Code, w.Body.String())
	}
	if body["label"] != "plastic" || body["sessionId"] != started["sessionId"] || body["deviceId"] != "esp32cam-07" {
		t.Errorf("upload = %v", body)
	}
	sched := body["scheduled"].(map[string]interface{})
	if sched["notify"] != false || sched["mirror"] != false {
		t.Errorf("scheduled = %v", sched)
	}

	url := body["url"].(string)
	w, _ = s.serve(t, httptest.NewRequest(http.MethodGet, url, nil))
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), jpeg) {
		t.Errorf("GET %s = %d (%d bytes)", url, w.Code, w.Body.Len())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestUpload_MultipartWithHeaders(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "photo.jpg")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(jpeg)
	mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	r.Header.Set(HeaderDeviceID, "esp32cam-42")
	r.Header.Set(HeaderSessionID, "s-1")
	w, body := s.serve(t, r)
	if w.Code != http.StatusOK {
		t.Fatalf("upload = %d %s", w.Code, w.Body.String())
	}
	if body["deviceId"] != "esp32cam-42" || body["sessionId"] != "s-1" {
		t.Errorf("upload = %v", body)
	}
}

func TestUpload_Errors(t *testing.T) {
	s := newTestServer(t)
	if w, _ := s.do(t, http.MethodPost, "/upload?binId=bin-7", []byte{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty upload = %d, want 400", w.Code)
	}
	if n := len(s.mem.Published()); n != 0 {
		t.Errorf("empty upload published %d commands", n)
	}
	if w, _ := s.do(t, http.MethodGet, "/uploads/missing.jpg", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing image = %d, want 404", w.Code)
	}
}

func TestClassify(t *testing.T) {
	s := newTestServer(t)
	w, body := s.do(t, http.MethodPost, "/classify", jpeg)
	if w.Code != http.StatusOK || body["label"] != "plastic" || body["confidence"] != 0.9 {
		t.Errorf("classify = %d %v", w.Code, body)
	}
	if w, _ := s.do(t, http.MethodPost, "/classify", []byte{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty classify = %d", w.Code)
	}
}

func TestEvents(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		w, body := s.do(t, http.MethodPost, "/events", `{"userId":"alice","action":"scan","label":"plastic"}`)
		if w.Code != http.StatusOK || body["id"] == "" {
			t.Fatalf("post event = %d %v", w.Code, body)
		}
	}
	if w, _ := s.do(t, http.MethodPost, "/events", `[1,2]`); w.Code != http.StatusBadRequest {
		t.Errorf("array event = %d, want 400", w.Code)
	}

	w, body := s.do(t, http.MethodGet, "/events/latest?limit=2", nil)
	if w.Code != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("latest = %d %v", w.Code, body)
	}
	item := body["items"].([]interface{})[0].(map[string]interface{})
	if item["origin"] != "client" || item["userId"] != "alice" {
		t.Errorf("item = %v", item)
	}
	if w, _ := s.do(t, http.MethodGet, "/events/latest?limit=x", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", w.Code)
	}
}

func TestUsersAndClaims(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/users/register", map[string]string{"userId": "alice", "name": "Alice", "email": "alice@example.com"})
	if w.Code != http.StatusCreated || body["status"] != "registered" {
		t.Fatalf("register = %d %v", w.Code, body)
	}
	if w, _ := s.do(t, http.MethodPost, "/users/register", map[string]string{"userId": "alice", "name": "A", "email": "a2@example.com"}); w.Code != http.StatusConflict {
		t.Errorf("duplicate register = %d", w.Code)
	}
	if w, _ := s.do(t, http.MethodPost, "/users/register", map[string]string{"userId": "bob"}); w.Code != http.StatusBadRequest {
		t.Errorf("incomplete register = %d", w.Code)
	}

	w, body = s.do(t, http.MethodPost, "/claim", map[string]string{"userId": "alice", "binId": "bin-7"})
	if w.Code != http.StatusOK || body["awardedPoints"] != float64(10) || body["status"] != "ok" {
		t.Fatalf("claim = %d %v", w.Code, body)
	}
	if w, _ := s.do(t, http.MethodPost, "/claim", map[string]string{"userId": "alice"}); w.Code != http.StatusBadRequest {
		t.Errorf("claim without bin = %d", w.Code)
	}

	w, body = s.do(t, http.MethodGet, "/users/alice", nil)
	if w.Code != http.StatusOK || body["points"] != float64(10) || body["claimsCount"] != float64(1) || body["level"] != float64(1) {
		t.Errorf("profile = %d %v", w.Code, body)
	}
	if w, _ := s.do(t, http.MethodGet, "/users/ghost", nil); w.Code != http.StatusNotFound {
		t.Errorf("ghost profile = %d", w.Code)
	}

	w, body = s.do(t, http.MethodGet, "/users/alice/history", nil)
	hist := body["history"].([]interface{})
	if w.Code != http.StatusOK || len(hist) != 1 || hist[0].(map[string]interface{})["pointsEarned"] != float64(10) {
		t.Errorf("history = %d %v", w.Code, body)
	}
}

func TestMissions(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/users/register", map[string]string{"userId": "alice", "name": "Alice", "email": "alice@example.com"})

	w, body := s.do(t, http.MethodGet, "/missions", nil)
	if w.Code != http.StatusOK || len(body["missions"].([]interface{})) != len(mission.Catalogue) {
		t.Fatalf("catalogue = %d %v", w.Code, body)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/users/alice/missions/daily_scan_5/start", http.StatusCreated},
		{"/users/alice/missions/plastic_collector/start", http.StatusCreated},
		{"/users/alice/missions/daily_scan_5/start", http.StatusConflict},
		{"/users/alice/missions/nope/start", http.StatusNotFound},
		{"/users/ghost/missions/daily_scan_5/start", http.StatusNotFound},
	}
	for _, tt := range tests {
		if w, body := s.do(t, http.MethodPost, tt.path, nil); w.Code != tt.want {
			t.Errorf("POST %s = %d, want %d (%v)", tt.path, w.Code, tt.want, body)
		}
	}

	_, body = s.do(t, http.MethodGet, "/users/alice/missions", nil)
	active := body["active_missions"].([]interface{})
	if len(active) != 2 {
		t.Fatalf("active = %v", active)
	}
	for _, a := range active {
		m := a.(map[string]interface{})
		if m["id"] == "plastic_collector" {
			reqs, _ := m["requirements"].(map[string]interface{})
			if reqs["category"] != "plastic" {
				t.Errorf("requirements = %v", m["requirements"])
			}
		}
	}

	for i := 0; i < 5; i++ {
		s.do(t, http.MethodPost, "/events", `{"userId":"alice","action":"scan","label":"plastic"}`)
	}
	w, body = s.do(t, http.MethodPost, "/users/alice/missions/check_progress", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("check_progress = %d %v", w.Code, body)
	}
	if len(body["completed_missions"].([]interface{})) != 1 || body["points_earned"] != float64(100) {
		t.Errorf("report = %v", body)
	}
	if len(body["updated_missions"].([]interface{})) != 1 {
		t.Errorf("updated = %v", body["updated_missions"])
	}
	if w, _ := s.do(t, http.MethodPost, "/users/ghost/missions/check_progress", nil); w.Code != http.StatusNotFound {
		t.Errorf("ghost check = %d", w.Code)
	}
}

func TestStart_NoHandler(t *testing.T) {
	if err := Start(context.Background(), StartOpts{}); err == nil || !strings.Contains(err.Error(), "handler is required") {
		t.Errorf("err = %v", err)
	}
}
