// Package upload coordinates one photo upload: store the bytes, attach the
// upload to a session, classify it, open the bin, record the image and
// schedule the notification and mirror side effects.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecotionbuddy/binhub/internal/apperr"
	"github.com/ecotionbuddy/binhub/internal/classify"
	"github.com/ecotionbuddy/binhub/internal/ctrl"
	"github.com/ecotionbuddy/binhub/internal/imagestore"
	"github.com/ecotionbuddy/binhub/internal/logging"
	"github.com/ecotionbuddy/binhub/internal/mirror"
	"github.com/ecotionbuddy/binhub/internal/models"
	"github.com/ecotionbuddy/binhub/internal/notify"
)

// Sessions attaches uploads to sessions.
type Sessions interface {
	AttachBin(binID string) (string, error)
	Touch(id string) (bool, error)
}

// Classifier labels an image. It must not fail.
type Classifier interface {
	Classify(ctx context.Context, image []byte) classify.Result
}

// DeviceResolver picks the device that serves a bin.
type DeviceResolver interface {
	Resolve(explicit, binID string) string
}

// Commander sends control commands to devices.
type Commander interface {
	Send(ctx context.Context, deviceID string, cmd ctrl.Command) error
}

// Scheduler runs background work, reporting whether it was accepted.
type Scheduler interface {
	Go(name string, fn func(ctx context.Context) error) bool
}

// Deps are the collaborators of a Coordinator. Notify and Mirror may be nil.
type Deps struct {
	Store      *imagestore.Store
	Sessions   Sessions
	Classifier Classifier
	Devices    DeviceResolver
	Commander  Commander
	Tasks      Scheduler
	Notify     notify.Sink
	Mirror     mirror.Target
}

// Request is one upload.
type Request struct {
	Data        []byte
	ContentType string
	DeviceID    string
	BinID       string
	SessionID   string
}

// Scheduled reports which side effects were queued.
type Scheduled struct {
	Notify bool `json:"notify"`
	Mirror bool `json:"mirror"`
}

// Result is returned to the uploader.
type Result struct {
	ImageID    string    `json:"imageId"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	URL        string    `json:"url"`
	SessionID  string    `json:"sessionId,omitempty"`
	DeviceID   string    `json:"deviceId"`
	Scheduled  Scheduled `json:"scheduled"`
}

// Coordinator handles uploads.
type Coordinator struct {
	d   Deps
	log *slog.Logger
	now func() time.Time
}

// New returns a Coordinator.
func New(d Deps, log *slog.Logger) *Coordinator {
	return &Coordinator{
		d:   d,
		log: logging.OrDiscard(log).With("component", "upload"),
		now: time.Now,
	}
}

// Handle runs the upload flow. Only an empty body and storage failures are
// returned as errors; classification, publish and side-effect failures
// degrade or are logged.
func (c *Coordinator) Handle(ctx context.Context, req Request) (*Result, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("upload: empty body: %w", apperr.ErrInvalid)
	}

	now := c.now()
	stored, err := c.d.Store.Save(req.Data, req.ContentType, now)
	if err != nil {
		return nil, err
	}

	sessionID := c.attach(req)

	res := c.d.Classifier.Classify(ctx, req.Data)

	deviceID := c.d.Devices.Resolve(req.DeviceID, req.BinID)
	if err := c.d.Commander.Send(ctx, deviceID, ctrl.Open(req.BinID, sessionID)); err != nil {
		c.log.Warn("open publish failed", "device", deviceID, "bin", req.BinID, "error", err)
	}

	img := &models.Image{
		DeviceID:    deviceID,
		BinID:       req.BinID,
		StorageRef:  stored.Ref,
		URL:         stored.URL,
		Size:        stored.Size,
		ContentType: stored.ContentType,
		Label:       res.Label,
		Confidence:  res.Confidence,
		CreatedAt:   now,
	}
	if sessionID != "" {
		img.SessionID = &sessionID
	}
	if err := c.d.Store.Record(img); err != nil {
		return nil, err
	}
	c.log.Info("upload stored", "image", img.ID, "label", res.Label, "bin", req.BinID, "session", sessionID, "device", deviceID)

	photo := notify.Photo{
		Name:        stored.Ref,
		ContentType: stored.ContentType,
		Data:        req.Data,
		URL:         stored.URL,
		Caption:     notify.Caption(res.Label, res.Confidence, req.BinID, sessionID),
	}
	return &Result{
		ImageID:    img.ID,
		Label:      res.Label,
		Confidence: res.Confidence,
		URL:        stored.URL,
		SessionID:  sessionID,
		DeviceID:   deviceID,
		Scheduled:  c.schedule(photo),
	}, nil
}

// attach resolves the session an upload belongs to. An explicit id is kept
// as given and touched; otherwise the bin's active session is used, if any.
func (c *Coordinator) attach(req Request) string {
	if req.SessionID != "" {
		if ok, err := c.d.Sessions.Touch(req.SessionID); err != nil {
			c.log.Warn("session touch failed", "session", req.SessionID, "error", err)
		} else if !ok {
			c.log.Debug("upload references inactive session", "session", req.SessionID)
		}
		return req.SessionID
	}
	id, err := c.d.Sessions.AttachBin(req.BinID)
	if err != nil {
		c.log.Warn("session attach failed", "bin", req.BinID, "error", err)
		return ""
	}
	return id
}

func (c *Coordinator) schedule(p notify.Photo) Scheduled {
	var s Scheduled
	if c.d.Notify != nil {
		sink := c.d.Notify
		s.Notify = c.d.Tasks.Go("notify:"+sink.Name(), func(ctx context.Context) error {
			return sink.Push(ctx, p)
		})
	}
	if c.d.Mirror != nil {
		target := c.d.Mirror
		s.Mirror = c.d.Tasks.Go("mirror:"+target.Name(), func(ctx context.Context) error {
			return target.Copy(ctx, p.Name, p.ContentType, p.Data)
		})
	}
	return s
}

// Classify labels data without storing it.
func (c *Coordinator) Classify(ctx context.Context, data []byte) (classify.Result, error) {
	if len(data) == 0 {
		return classify.Result{}, fmt.Errorf("upload: empty body: %w", apperr.ErrInvalid)
	}
	return c.d.Classifier.Classify(ctx, data), nil
}
