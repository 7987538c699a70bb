package api

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ecotionbuddy/binhub/internal/eventlog"
	"github.com/ecotionbuddy/binhub/internal/imagestore"
	"github.com/ecotionbuddy/binhub/internal/models"
	"github.com/ecotionbuddy/binhub/internal/session"
	"github.com/ecotionbuddy/binhub/internal/upload"
	"github.com/gin-gonic/gin"
)

// Upload metadata headers, used when the query string omits a value.
const (
	HeaderDeviceID  = "X-Device-Id"
	HeaderBinID     = "X-Bin-Id"
	HeaderSessionID = "X-Session-Id"
)

// registerRoutes sets up every route on the gin router.
func registerRoutes(router *gin.Engine, d Deps) {
	// Meta.
	router.GET("/", handleRoot())
	router.GET("/health", handleHealth())

	// Uploads and classification.
	router.POST("/upload", handleUpload(d))
	router.POST("/classify", handleClassify(d))
	router.GET(strings.TrimSuffix(imagestore.URLPrefix, "/")+"/*ref", handleImage(d))

	// Sessions.
	router.POST("/session/start", handleSessionStart(d))
	router.POST("/session/end", handleSessionEnd(d))
	router.GET("/session/:id", handleSessionGet(d))

	// Events.
	router.POST("/events", handleEventCreate(d))
	router.GET("/events/latest", handleEventsLatest(d))

	// Users, rewards and missions.
	router.POST("/claim", handleClaim(d))
	router.POST("/users/register", handleRegister(d))
	router.GET("/users/:userId", handleProfile(d))
	router.GET("/users/:userId/history", handleHistory(d))
	router.GET("/missions", handleCatalogue())
	router.GET("/users/:userId/missions", handleUserMissions(d))
	router.POST("/users/:userId/missions/:missionId/start", handleMissionStart(d))
	router.POST("/users/:userId/missions/check_progress", handleCheckProgress(d))
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func handleRoot() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"name": Name, "status": "ok", "time": nowISO()})
	}
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": nowISO()})
	}
}

// param reads name from the query string, falling back to header.
func param(c *gin.Context, name, header string) string {
	if v := strings.TrimSpace(c.Query(name)); v != "" {
		return v
	}
	return strings.TrimSpace(c.GetHeader(header))
}

// readImage returns the uploaded bytes from a multipart "file" field or the
// raw body.
func readImage(c *gin.Context, limit int64) (data []byte, contentType string, err error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, "", err
		}
		f, err := fh.Open()
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		data, err = io.ReadAll(f)
		return data, fh.Header.Get("Content-Type"), err
	}
	data, err = io.ReadAll(c.Request.Body)
	return data, c.ContentType(), err
}

func handleUpload(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, contentType, err := readImage(c, d.MaxUploadBytes)
		if err != nil {
			badRequest(c, "could not read upload: "+err.Error())
			return
		}
		res, err := d.Uploads.Handle(c.Request.Context(), upload.Request{
			Data:        data,
			ContentType: contentType,
			DeviceID:    param(c, "deviceId", HeaderDeviceID),
			BinID:       param(c, "binId", HeaderBinID),
			SessionID:   param(c, "sessionId", HeaderSessionID),
		})
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func handleClassify(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, _, err := readImage(c, d.MaxUploadBytes)
		if err != nil {
			badRequest(c, "could not read image: "+err.Error())
			return
		}
		res, err := d.Uploads.Classify(c.Request.Context(), data)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"label": res.Label, "confidence": res.Confidence})
	}
}

func handleImage(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref := strings.TrimPrefix(c.Param("ref"), "/")
		data, err := d.Images.Read(ref)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ct := mime.TypeByExtension(filepath.Ext(ref))
		if ct == "" {
			ct = http.DetectContentType(data)
		}
		c.Data(http.StatusOK, ct, data)
	}
}

type sessionStartRequest struct {
	UserID      string `json:"userId"`
	BinID       string `json:"binId"`
	DeviceID    string `json:"deviceId"`
	CountdownMs int    `json:"countdownMs"`
}

func handleSessionStart(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sessionStartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON body")
			return
		}
		s, err := d.Sessions.Start(c.Request.Context(), session.StartRequest{
			UserID:      req.UserID,
			BinID:       req.BinID,
			DeviceID:    req.DeviceID,
			CountdownMs: req.CountdownMs,
		})
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "started", "sessionId": s.ID, "deviceId": s.DeviceID})
	}
}

type sessionEndRequest struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

func handleSessionEnd(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sessionEndRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON body")
			return
		}
		if req.SessionID == "" {
			badRequest(c, "sessionId is required")
			return
		}
		s, _, err := d.Sessions.End(c.Request.Context(), req.SessionID, req.Reason)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ended", "sessionId": s.ID, "deviceId": s.DeviceID})
	}
}

func handleSessionGet(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := d.Sessions.Get(c.Param("id"))
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

func handleEventCreate(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			badRequest(c, "could not read body")
			return
		}
		obj, err := eventlog.Decode(raw)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ev := eventlog.New(models.OriginClient, raw, eventlog.Extract(obj), time.Now())
		if err := eventlog.Append(d.DB, ev); err != nil {
			fail(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "id": ev.ID})
	}
}

// limitParam parses ?limit=, returning def when absent.
func limitParam(c *gin.Context, def int) (int, bool) {
	s := c.Query("limit")
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func handleEventsLatest(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := limitParam(c, eventlog.DefaultLimit)
		if !ok {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		items, err := eventlog.Latest(d.DB, limit)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
	}
}
