//go:build gocv

package camera

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/cjeanneret/picast/internal/debug"
)

func newGoCVOpener(device string) (Opener, error) {
	return &GoCVOpener{Device: device}, nil
}

// GoCVOpener opens a camera through OpenCV's VideoCapture.
type GoCVOpener struct {
	Device string // index ("0") or path; empty = 0
}

func (o *GoCVOpener) Open(ctx context.Context) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var id any = 0
	if o.Device != "" {
		if n, err := strconv.Atoi(o.Device); err == nil {
			id = n
		} else {
			id = o.Device
		}
	}
	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("open video capture %v: %w", id, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video capture %v not opened", id)
	}
	debug.Info("Camera: opened OpenCV device %v", id)
	return &GoCV{vc: vc, img: gocv.NewMat()}, nil
}

// GoCV grabs frames with OpenCV and encodes each one to JPEG, so it supports
// stills and MJPEG but not H.264.
type GoCV struct {
	mu         sync.Mutex
	vc         *gocv.VideoCapture
	img        gocv.Mat
	settings   Settings
	configured bool
	pump       *framePump
}

func (g *GoCV) Configure(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Encoding == H264 {
		return fmt.Errorf("gocv: %w: %s", ErrUnsupportedEncoding, s.Encoding)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.vc.Set(gocv.VideoCaptureFrameWidth, float64(s.Width))
	g.vc.Set(gocv.VideoCaptureFrameHeight, float64(s.Height))
	if s.Framerate > 0 {
		g.vc.Set(gocv.VideoCaptureFPS, float64(s.Framerate))
	}
	w := int(g.vc.Get(gocv.VideoCaptureFrameWidth))
	h := int(g.vc.Get(gocv.VideoCaptureFrameHeight))
	if w != s.Width || h != s.Height {
		return fmt.Errorf("resolution %dx%d not supported (device offered %dx%d)", s.Width, s.Height, w, h)
	}
	g.settings = s
	g.configured = true
	return nil
}

func (g *GoCV) StartPreview() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.configured {
		return ErrNotConfigured
	}
	// Reading one frame starts the sensor.
	g.vc.Read(&g.img)
	return nil
}

func (g *GoCV) StopPreview() error { return nil }

func (g *GoCV) grab() ([]byte, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ok := g.vc.Read(&g.img); !ok || g.img.Empty() {
		return nil, false, nil
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, g.img)
	if err != nil {
		return nil, false, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), true, nil
}

func (g *GoCV) Capture(w io.Writer, enc Encoding) error {
	if enc != JPEG {
		return fmt.Errorf("gocv capture: %w: %s", ErrUnsupportedEncoding, enc)
	}
	deadline := time.Now().Add(frameWait)
	for time.Now().Before(deadline) {
		frame, ok, err := g.grab()
		if err != nil {
			return err
		}
		if ok {
			_, err = w.Write(frame)
			return err
		}
	}
	return fmt.Errorf("no frame within %v", frameWait)
}

// frameWait bounds how long Capture retries empty reads.
const frameWait = 5 * time.Second

func (g *GoCV) StartRecording(w io.Writer, enc Encoding) error {
	if enc != MJPEG {
		return fmt.Errorf("gocv recording: %w: %s", ErrUnsupportedEncoding, enc)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.configured {
		return ErrNotConfigured
	}
	if g.pump != nil {
		return ErrRecording
	}
	// VideoCapture.Read blocks at the device rate, so no extra pacing.
	g.pump = startPump(w, 0, g.grab)
	return nil
}

func (g *GoCV) StopRecording() error {
	g.mu.Lock()
	p := g.pump
	g.pump = nil
	g.mu.Unlock()
	if p == nil {
		return ErrNotRecording
	}
	return p.Stop()
}

func (g *GoCV) Failed() <-chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pump == nil {
		return nil
	}
	return g.pump.Failed()
}

func (g *GoCV) Close() error {
	g.mu.Lock()
	p := g.pump
	g.pump = nil
	g.mu.Unlock()
	if p != nil {
		p.Stop()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.img.Close()
	return g.vc.Close()
}
