package capture

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cjeanneret/picast/internal/hw/camera"
)

// Mode is the kind of capture a session performs.
type Mode int

const (
	Still Mode = iota // one JPEG frame
	Video             // continuous stream for a fixed duration
)

func (m Mode) String() string {
	switch m {
	case Still:
		return "still"
	case Video:
		return "video"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "still"/"picture" and "video"/"stream".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "still", "picture", "photo":
		return Still, nil
	case "video", "stream":
		return Video, nil
	default:
		return 0, fmt.Errorf("unknown capture mode %q", s)
	}
}

// DefaultWarmup is the sensor settling time before the first capture.
const DefaultWarmup = 2 * time.Second

// Config fully describes one capture.
type Config struct {
	Mode      Mode
	Width     int
	Height    int
	Framerate int             // video only
	Encoding  camera.Encoding // empty = JPEG for stills, H264 for video
	Host      string
	Port      int
	Duration  time.Duration // video only

	Warmup         time.Duration // 0 = DefaultWarmup
	ConnectTimeout time.Duration // 0 = unbounded
	AcquireTimeout time.Duration // 0 = unbounded
}

// ErrInvalidConfig is returned by Run for a config that fails Validate.
var ErrInvalidConfig = errors.New("invalid capture config")

// WithDefaults fills in the encoding and warm-up.
func (c Config) WithDefaults() Config {
	if c.Encoding == "" {
		if c.Mode == Video {
			c.Encoding = camera.H264
		} else {
			c.Encoding = camera.JPEG
		}
	}
	if c.Warmup == 0 {
		c.Warmup = DefaultWarmup
	}
	return c
}

// Validate checks a config after WithDefaults.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("resolution must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Host == "" {
		return errors.New("destination host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", c.Port)
	}
	if c.Warmup < 0 || c.ConnectTimeout < 0 || c.AcquireTimeout < 0 {
		return errors.New("warm-up and timeouts must not be negative")
	}

	switch c.Mode {
	case Still:
		if c.Encoding != camera.JPEG {
			return fmt.Errorf("still capture requires jpeg encoding, got %s", c.Encoding)
		}
	case Video:
		if c.Framerate <= 0 {
			return fmt.Errorf("framerate must be positive, got %d", c.Framerate)
		}
		if c.Duration < 0 {
			return fmt.Errorf("duration must not be negative, got %v", c.Duration)
		}
		if !c.Encoding.IsVideo() {
			return fmt.Errorf("video capture requires h264 or mjpeg encoding, got %s", c.Encoding)
		}
	default:
		return fmt.Errorf("unknown mode %v", c.Mode)
	}
	return nil
}
