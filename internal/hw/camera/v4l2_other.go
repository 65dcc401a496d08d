//go:build !linux

package camera

import (
	"context"
	"errors"
)

// V4L2Opener is only functional on Linux.
type V4L2Opener struct {
	Path string
}

func (o *V4L2Opener) Open(ctx context.Context) (Device, error) {
	return nil, errors.New("v4l2 camera not available on this platform")
}
