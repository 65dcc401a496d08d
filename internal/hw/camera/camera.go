package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Encoding selects the container/codec the device writes into the sink.
type Encoding string

const (
	H264  Encoding = "h264"  // raw Annex-B elementary stream
	MJPEG Encoding = "mjpeg" // concatenated JPEG frames
	JPEG  Encoding = "jpeg"  // single still image
)

// ParseEncoding accepts the usual spellings ("h264", "mjpeg", "jpeg"/"jpg").
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h264", "h.264":
		return H264, nil
	case "mjpeg", "mjpg":
		return MJPEG, nil
	case "jpeg", "jpg":
		return JPEG, nil
	default:
		return "", fmt.Errorf("unknown encoding %q (want h264, mjpeg or jpeg)", s)
	}
}

// IsVideo reports whether the encoding is a continuous stream.
func (e Encoding) IsVideo() bool { return e == H264 || e == MJPEG }

// Settings are applied to an open device before preview starts.
// Framerate 0 leaves the device default (stills).
type Settings struct {
	Width     int
	Height    int
	Framerate int
	Encoding  Encoding
}

// Validate checks the values every backend relies on.
func (s Settings) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", s.Width, s.Height)
	}
	if s.Framerate < 0 {
		return fmt.Errorf("invalid framerate %d", s.Framerate)
	}
	return nil
}

var (
	ErrUnsupportedEncoding = errors.New("encoding not supported by this camera")
	ErrNotConfigured       = errors.New("camera not configured")
	ErrNotPreviewing       = errors.New("camera preview not started")
	ErrRecording           = errors.New("camera is already recording")
	ErrNotRecording        = errors.New("camera is not recording")
	ErrClosed              = errors.New("camera is closed")
)

// Device is an open, exclusively owned camera handle.
// Capture and StartRecording write the encoder's native output into w with
// no framing. After StopRecording returns, the device no longer writes to w.
type Device interface {
	Configure(s Settings) error
	StartPreview() error
	StopPreview() error
	Capture(w io.Writer, enc Encoding) error
	StartRecording(w io.Writer, enc Encoding) error
	StopRecording() error
	Close() error
}

// Monitor is implemented by devices that can report an encoder failure while
// recording. The channel yields at most one error.
type Monitor interface {
	Failed() <-chan error
}

// Opener acquires a camera handle.
type Opener interface {
	Open(ctx context.Context) (Device, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Device, error)

func (f OpenerFunc) Open(ctx context.Context) (Device, error) { return f(ctx) }

// Backend names accepted by NewOpener.
const (
	BackendRPiCam    = "rpicam"
	BackendV4L2      = "v4l2"
	BackendGoCV      = "gocv"
	BackendSynthetic = "synthetic"
)

// NewOpener selects a camera implementation by backend name.
// device is backend specific: a /dev/video path for v4l2, an index or path
// for gocv, a camera index for rpicam. Empty means the backend default.
func NewOpener(backend, device string) (Opener, error) {
	switch backend {
	case BackendRPiCam, "":
		return &RPiCamOpener{Camera: device}, nil
	case BackendV4L2:
		return &V4L2Opener{Path: device}, nil
	case BackendGoCV:
		return newGoCVOpener(device)
	case BackendSynthetic:
		return &SyntheticOpener{}, nil
	default:
		return nil, fmt.Errorf("unsupported camera backend: %s", backend)
	}
}
