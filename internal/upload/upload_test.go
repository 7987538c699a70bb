package upload

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ecotionbuddy/binhub/internal/apperr"
	"github.com/ecotionbuddy/binhub/internal/broker"
	"github.com/ecotionbuddy/binhub/internal/classify"
	"github.com/ecotionbuddy/binhub/internal/ctrl"
	"github.com/ecotionbuddy/binhub/internal/db"
	"github.com/ecotionbuddy/binhub/internal/db/dbtest"
	"github.com/ecotionbuddy/binhub/internal/device"
	"github.com/ecotionbuddy/binhub/internal/imagestore"
	"github.com/ecotionbuddy/binhub/internal/models"
	"github.com/ecotionbuddy/binhub/internal/notify"
	"github.com/ecotionbuddy/binhub/internal/session"
	"github.com/ecotionbuddy/binhub/internal/tasks"
	"gorm.io/gorm"
)

var jpeg = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

type stubClassifier struct {
	res classify.Result
	err error
}

func (s stubClassifier) Classify(context.Context, []byte) (classify.Result, error) {
	return s.res, s.err
}

type recordingSink struct {
	mu     sync.Mutex
	photos []notify.Photo
	err    error
}

func (r *recordingSink) Name() string { return "rec" }

func (r *recordingSink) Push(_ context.Context, p notify.Photo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.photos = append(r.photos, p)
	return r.err
}

type recordingTarget struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingTarget) Name() string { return "rec" }

func (r *recordingTarget) Copy(_ context.Context, name, _ string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	return nil
}

type fullScheduler struct{}

func (fullScheduler) Go(string, func(context.Context) error) bool { return false }

type fixture struct {
	db       *gorm.DB
	dir      string
	mem      *broker.Memory
	sessions *session.Manager
	tasks    *tasks.Group
	sink     *recordingSink
	target   *recordingTarget
	c        *Coordinator
}

func newFixture(t *testing.T, cls classify.Classifier) *fixture {
	t.Helper()
	gdb := dbtest.Open(t)
	if err := db.SeedBins(gdb, map[string]string{"bin-7": "esp32cam-07"}); err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		db:     gdb,
		dir:    t.TempDir(),
		mem:    broker.NewMemory(),
		tasks:  tasks.New(4, 5*time.Second, nil),
		sink:   &recordingSink{},
		target: &recordingTarget{},
	}
	devices := device.NewRegistry(gdb, "esp32cam-01", nil)
	cmd := ctrl.NewPublisher(f.mem, "ecotionbuddy/ctrl")
	f.sessions = session.NewManager(gdb, devices, cmd, session.Options{CountdownMs: 3000, Exclusive: true}, nil)
	f.c = New(Deps{
		Store:      imagestore.New(gdb, f.dir, "http://hub.local"),
		Sessions:   f.sessions,
		Classifier: classify.NewGateway(cls, nil),
		Devices:    devices,
		Commander:  cmd,
		Tasks:      f.tasks,
		Notify:     f.sink,
		Mirror:     f.target,
	}, nil)
	return f
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	if err := f.tasks.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) image(t *testing.T, id string) models.Image {
	t.Helper()
	var img models.Image
	if err := f.db.Where("id = ?", id).First(&img).Error; err != nil {
		t.Fatal(err)
	}
	return img
}

func TestHandle_EmptyBody(t *testing.T) {
	f := newFixture(t, stubClassifier{res: classify.Result{Label: "plastic", Confidence: 0.9}})

	_, err := f.c.Handle(context.Background(), Request{BinID: "bin-7"})
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	entries, _ := os.ReadDir(f.dir)
	if len(entries) != 0 {
		t.Errorf("upload dir has %d entries", len(entries))
	}
	if n := len(f.mem.Published()); n != 0 {
		t.Errorf("published %d commands", n)
	}
	var count int64
	f.db.Model(&models.Image{}).Count(&count)
	if count != 0 {
		t.Errorf("images = %d", count)
	}
}

func TestHandle_AttachesActiveSession(t *testing.T) {
	f := newFixture(t, stubClassifier{res: classify.Result{Label: "plastic", Confidence: 0.87}})
	ctx := context.Background()
	s, err := f.sessions.Start(ctx, session.StartRequest{UserID: "alice", BinID: "bin-7"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.c.Handle(ctx, Request{Data: jpeg, ContentType: "image/jpeg", BinID: "bin-7"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	f.drain(t)

	if res.SessionID != s.ID || res.DeviceID != "esp32cam-07" || res.Label != "plastic" || res.Confidence != 0.87 {
		t.Errorf("result = %+v", res)
	}
	if !res.Scheduled.Notify || !res.Scheduled.Mirror {
		t.Errorf("scheduled = %+v", res.Scheduled)
	}

	msgs := f.mem.Published()
	if len(msgs) != 2 {
		t.Fatalf("published = %+v", msgs)
	}
	var open map[string]interface{}
	if err := json.Unmarshal(msgs[1].Payload, &open); err != nil {
		t.Fatal(err)
	}
	if msgs[1].Topic != "ecotionbuddy/ctrl/esp32cam-07" || open["action"] != "open" || open["angle"] != float64(180) ||
		open["reason"] != "classification" || open["sessionId"] != s.ID || open["binId"] != "bin-7" {
		t.Errorf("open = %s %v", msgs[1].Topic, open)
	}

	img := f.image(t, res.ImageID)
	if img.SessionID == nil || *img.SessionID != s.ID || img.Label != "plastic" || img.ContentType != "image/jpeg" {
		t.Errorf("image = %+v", img)
	}
	if _, err := os.Stat(f.dir + "/" + img.StorageRef); err != nil {
		t.Errorf("stored file: %v", err)
	}
	if res.URL != "http://hub.local/uploads/"+img.StorageRef {
		t.Errorf("URL = %q", res.URL)
	}

	if len(f.sink.photos) != 1 || f.sink.photos[0].Name != img.StorageRef {
		t.Fatalf("photos = %+v", f.sink.photos)
	}
	if len(f.target.names) != 1 || f.target.names[0] != img.StorageRef {
		t.Errorf("mirrored = %v", f.target.names)
	}
}

func TestHandle_NoRetroactiveAttach(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.c.Handle(ctx, Request{Data: jpeg, BinID: "bin-7"})
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionID != "" {
		t.Errorf("SessionID = %q, want none", res.SessionID)
	}
	if _, err := f.sessions.Start(ctx, session.StartRequest{UserID: "alice", BinID: "bin-7"}); err != nil {
		t.Fatal(err)
	}
	if img := f.image(t, res.ImageID); img.SessionID != nil {
		t.Errorf("image attached to %s after the fact", *img.SessionID)
	}
	f.drain(t)
}

func TestHandle_ExplicitSessionKept(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.c.Handle(context.Background(), Request{Data: jpeg, SessionID: "s-unknown", DeviceID: "esp32cam-42"})
	if err != nil {
		t.Fatal(err)
	}
	f.drain(t)
	if res.SessionID != "s-unknown" || res.DeviceID != "esp32cam-42" {
		t.Errorf("result = %+v", res)
	}
	if res.Label != classify.Unknown || res.Confidence != 0 {
		t.Errorf("label = %s/%v, want unknown/0", res.Label, res.Confidence)
	}
}

func TestHandle_Degrades(t *testing.T) {
	f := newFixture(t, stubClassifier{err: errors.New("model down")})
	f.mem.SetPublishError(errors.New("broker down"))
	f.sink.err = errors.New("slack down")

	res, err := f.c.Handle(context.Background(), Request{Data: jpeg, BinID: "bin-9"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	f.drain(t)
	if res.Label != classify.Unknown || res.DeviceID != "esp32cam-01" {
		t.Errorf("result = %+v", res)
	}
	if got := f.image(t, res.ImageID); got.Label != classify.Unknown {
		t.Errorf("image label = %q", got.Label)
	}
}

func TestHandle_Scheduling(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fixture)
		want   Scheduled
	}{
		{"no sinks", func(f *fixture) { f.c.d.Notify = nil; f.c.d.Mirror = nil }, Scheduled{}},
		{"notify only", func(f *fixture) { f.c.d.Mirror = nil }, Scheduled{Notify: true}},
		{"group full", func(f *fixture) { f.c.d.Tasks = fullScheduler{} }, Scheduled{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			tt.mutate(f)
			res, err := f.c.Handle(context.Background(), Request{Data: jpeg})
			if err != nil {
				t.Fatal(err)
			}
			f.drain(t)
			if res.Scheduled != tt.want {
				t.Errorf("scheduled = %+v, want %+v", res.Scheduled, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	f := newFixture(t, stubClassifier{res: classify.Result{Label: "glass", Confidence: 0.5}})
	res, err := f.c.Classify(context.Background(), jpeg)
	if err != nil || res.Label != "glass" {
		t.Errorf("Classify = %+v, %v", res, err)
	}
	if _, err := f.c.Classify(context.Background(), nil); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("empty err = %v", err)
	}
	entries, _ := os.ReadDir(f.dir)
	if len(entries) != 0 {
		t.Errorf("classify stored %d files", len(entries))
	}
}
