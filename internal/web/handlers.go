package web

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cjeanneret/picast/internal/logic/capture"
)

// maxBodyBytes caps capture request bodies.
const maxBodyBytes = 1 << 20

// Request limits.
const (
	maxDimension    = 8192
	maxFramerate    = 120
	maxStreamLength = 24 * 60 * 60 // seconds
)

// CaptureRequest is the body of POST /capture/still and /capture/video.
// Host defaults to the caller's address.
type CaptureRequest struct {
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Framerate    int     `json:"framerate,omitempty"`
	Host         string  `json:"host,omitempty"`
	Port         int     `json:"port"`
	StreamLength float64 `json:"stream_length,omitempty"` // seconds, video only
}

// FormConfig holds default values for the capture form (from config).
type FormConfig struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Framerate int    `json:"framerate"`
	Encoding  string `json:"encoding"`
	Backend   string `json:"backend"`
}

// ValidateRequest checks a request for the given mode.
func ValidateRequest(mode capture.Mode, req CaptureRequest) error {
	if req.Width <= 0 || req.Width > maxDimension || req.Height <= 0 || req.Height > maxDimension {
		return fmt.Errorf("width and height must be between 1 and %d", maxDimension)
	}
	if req.Port <= 0 || req.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if mode == capture.Video {
		if req.Framerate <= 0 || req.Framerate > maxFramerate {
			return fmt.Errorf("framerate must be between 1 and %d", maxFramerate)
		}
		if math.IsNaN(req.StreamLength) || req.StreamLength < 0 || req.StreamLength > maxStreamLength {
			return fmt.Errorf("stream_length must be between 0 and %d seconds", maxStreamLength)
		}
	}
	return nil
}

// ToConfig converts a validated request into a capture config.
func (req CaptureRequest) ToConfig(mode capture.Mode) capture.Config {
	cfg := capture.Config{
		Mode:   mode,
		Width:  req.Width,
		Height: req.Height,
		Host:   req.Host,
		Port:   req.Port,
	}
	if mode == capture.Video {
		cfg.Framerate = req.Framerate
		cfg.Duration = time.Duration(req.StreamLength * float64(time.Second))
	}
	return cfg
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster  *StatusBroadcaster
	Runner       *Runner
	FormDefaults FormConfig
	staticFS     fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If runner is nil, capture requests return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, runner *Runner, formDefaults FormConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:  broadcaster,
		Runner:       runner,
		FormDefaults: formDefaults,
		staticFS:     staticFS,
	}
}

// HandleConfig returns the form default values (from config) as JSON.
func (h *Handlers) HandleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.FormDefaults)
}

// HandleHealth reports liveness and whether the camera is busy.
func (h *Handlers) HandleHealth(c *gin.Context) {
	busy := h.Runner != nil && h.Runner.Busy()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "busy": busy})
}

// ServeIndex serves the main HTML page.
func (h *Handlers) ServeIndex(c *gin.Context) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		c.String(http.StatusNotFound, "not found")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", data)
}

// HandleStill handles POST /capture/still.
func (h *Handlers) HandleStill(c *gin.Context) { h.handleCapture(c, capture.Still) }

// HandleVideo handles POST /capture/video.
func (h *Handlers) HandleVideo(c *gin.Context) { h.handleCapture(c, capture.Video) }

func (h *Handlers) handleCapture(c *gin.Context, mode capture.Mode) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var req CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}
	if err := ValidateRequest(mode, req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Host == "" {
		// Stream back to whoever asked.
		req.Host = c.ClientIP()
	}

	if h.Runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "capture not configured"})
		return
	}
	cfg := req.ToConfig(mode)
	if err := h.Runner.Start(cfg, "http "+c.ClientIP()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "host": cfg.Host, "port": cfg.Port})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(c *gin.Context) {
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.WriteHeader(http.StatusOK)
	w.WriteString(": connected\n\n")
	w.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.WriteString("data: " + msg + "\n\n")
			w.Flush()

		case <-ticker.C:
			w.WriteString(": heartbeat\n\n")
			w.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}
