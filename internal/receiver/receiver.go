// Package receiver is the listening end of a capture: it accepts one
// connection from a camera and copies the raw stream to a writer.
package receiver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/cjeanneret/picast/internal/debug"
	"github.com/cjeanneret/picast/internal/hw/camera"
)

// Stats summarizes one received capture.
type Stats struct {
	Bytes  int64
	Frames int // JPEG frames seen; 0 for h264
}

// Receiver accepts captures on Addr. Format is the expected encoding and
// only affects frame counting.
type Receiver struct {
	Addr   string
	Format camera.Encoding

	ln net.Listener
}

// Listen binds the address.
func (r *Receiver) Listen() error {
	ln, err := net.Listen("tcp", r.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.Addr, err)
	}
	r.ln = ln
	debug.Info("Receiver listening on %s (%s)", ln.Addr(), r.Format)
	return nil
}

// ListenAddr returns the bound address, or nil before Listen.
func (r *Receiver) ListenAddr() net.Addr {
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// Close stops listening.
func (r *Receiver) Close() error {
	if r.ln == nil {
		return nil
	}
	return r.ln.Close()
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// Accept waits for one sender and copies its bytes to w until the sender
// closes. Cancelling ctx aborts both the wait and the copy.
func (r *Receiver) Accept(ctx context.Context, w io.Writer) (Stats, error) {
	if r.ln == nil {
		return Stats{}, errors.New("receiver is not listening")
	}
	stopAccept := context.AfterFunc(ctx, func() { _ = r.ln.Close() })
	conn, err := r.ln.Accept()
	stopAccept()
	if err != nil {
		if ctx.Err() != nil {
			return Stats{}, ctx.Err()
		}
		return Stats{}, fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()
	debug.Live("Receiver: connection from %s", conn.RemoteAddr())

	stopRead := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopRead()

	in := &countingReader{r: conn}
	frames, err := copyStream(io.TeeReader(in, w), r.Format)
	st := Stats{Bytes: in.n.Load(), Frames: frames}
	if err != nil {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		return st, fmt.Errorf("receive: %w", err)
	}
	debug.Info("Receiver: %d bytes, %d frames from %s", st.Bytes, st.Frames, conn.RemoteAddr())
	return st, nil
}

// copyStream drains src and counts frames for the given format.
func copyStream(src io.Reader, format camera.Encoding) (int, error) {
	switch format {
	case camera.MJPEG:
		sc := bufio.NewScanner(src)
		sc.Buffer(make([]byte, 0, 512*1024), camera.MaxFrameSize)
		sc.Split(camera.SplitMJPEG)
		frames := 0
		for sc.Scan() {
			frames++
			debug.Trace("Receiver: frame %d (%d bytes)", frames, len(sc.Bytes()))
		}
		if err := sc.Err(); err != nil {
			if !errors.Is(err, bufio.ErrTooLong) {
				return frames, err
			}
			debug.Warn("Receiver: frame larger than %d bytes, counting stopped", camera.MaxFrameSize)
			_, err = io.Copy(io.Discard, src)
			return frames, err
		}
		return frames, nil
	case camera.JPEG:
		n, err := io.Copy(io.Discard, src)
		if n > 0 {
			return 1, err
		}
		return 0, err
	default:
		_, err := io.Copy(io.Discard, src)
		return 0, err
	}
}
