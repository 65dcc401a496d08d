package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"sync"
	"time"

	"github.com/cjeanneret/picast/internal/debug"
)

// SyntheticOpener opens a camera that renders a test pattern.
// It is used for development and tests when no camera is attached.
type SyntheticOpener struct{}

func (SyntheticOpener) Open(ctx context.Context) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	debug.Info("Camera: using synthetic camera (test pattern)")
	return &Synthetic{}, nil
}

// Synthetic renders JPEG frames: a colour gradient that changes every frame.
// H.264 is not supported.
type Synthetic struct {
	mu         sync.Mutex
	settings   Settings
	configured bool
	previewing bool
	closed     bool
	seq        int
	pump       *framePump
}

func (s *Synthetic) Configure(set Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	if set.Encoding == H264 {
		return fmt.Errorf("synthetic camera: %w: %s", ErrUnsupportedEncoding, set.Encoding)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if set.Framerate == 0 {
		set.Framerate = 30
	}
	s.settings = set
	s.configured = true
	return nil
}

func (s *Synthetic) StartPreview() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configured {
		return ErrNotConfigured
	}
	s.previewing = true
	return nil
}

func (s *Synthetic) StopPreview() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previewing = false
	return nil
}

func (s *Synthetic) Capture(w io.Writer, enc Encoding) error {
	if enc != JPEG {
		return fmt.Errorf("synthetic capture: %w: %s", ErrUnsupportedEncoding, enc)
	}
	frame, _, err := s.render()
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

func (s *Synthetic) StartRecording(w io.Writer, enc Encoding) error {
	if enc != MJPEG {
		return fmt.Errorf("synthetic recording: %w: %s", ErrUnsupportedEncoding, enc)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configured {
		return ErrNotConfigured
	}
	if s.pump != nil {
		return ErrRecording
	}
	interval := time.Second / time.Duration(s.settings.Framerate)
	s.pump = startPump(w, interval, s.render)
	return nil
}

func (s *Synthetic) StopRecording() error {
	s.mu.Lock()
	p := s.pump
	s.pump = nil
	s.mu.Unlock()
	if p == nil {
		return ErrNotRecording
	}
	return p.Stop()
}

// Failed reports a write failure while recording.
func (s *Synthetic) Failed() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pump == nil {
		return nil
	}
	return s.pump.Failed()
}

func (s *Synthetic) Close() error {
	s.mu.Lock()
	p := s.pump
	s.pump = nil
	s.closed = true
	s.mu.Unlock()
	if p != nil {
		return p.Stop()
	}
	return nil
}

// render creates a simple coloured frame.
func (s *Synthetic) render() ([]byte, bool, error) {
	s.mu.Lock()
	if !s.configured {
		s.mu.Unlock()
		return nil, false, ErrNotConfigured
	}
	width, height := s.settings.Width, s.settings.Height
	s.seq++
	shade := byte(s.seq * 8)
	s.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			offset := y*img.Stride + x*4
			img.Pix[offset] = shade
			img.Pix[offset+1] = byte((x * 255) / width)
			img.Pix[offset+2] = byte((y * 255) / height)
			img.Pix[offset+3] = 255
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, false, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), true, nil
}
