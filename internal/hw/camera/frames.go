package camera

// frameQueue is a driver's queue of filled capture buffers.
type frameQueue interface {
	// WaitFrame reports whether a buffer is ready within timeout seconds.
	// 0 polls without blocking.
	WaitFrame(timeout uint32) (bool, error)
	// GetFrame dequeues the oldest filled buffer. It stays valid until
	// ReleaseFrame hands it back to the driver.
	GetFrame() ([]byte, uint32, error)
	ReleaseFrame(index uint32) error
}

// maxDrainFrames bounds drainQueued on a device that refills faster than
// it is drained.
const maxDrainFrames = 512

// nextFrame waits for the oldest queued frame and returns a copy, so the
// buffer is back with the driver before the frame goes to the sink.
// ok=false means no frame arrived within timeout.
func nextFrame(q frameQueue, timeout uint32) (frame []byte, ok bool, err error) {
	ready, err := q.WaitFrame(timeout)
	if err != nil || !ready {
		return nil, false, err
	}
	buf, index, err := q.GetFrame()
	if err != nil {
		return nil, false, err
	}
	if len(buf) > 0 {
		frame = append([]byte(nil), buf...)
	}
	if err := q.ReleaseFrame(index); err != nil {
		return nil, false, err
	}
	return frame, len(frame) > 0, nil
}

// drainQueued discards every frame the driver buffered so far. Streaming
// starts before the warm-up, so these frames were exposed before the sensor
// settled.
func drainQueued(q frameQueue) (int, error) {
	n := 0
	for n < maxDrainFrames {
		ready, err := q.WaitFrame(0)
		if err != nil || !ready {
			return n, err
		}
		_, index, err := q.GetFrame()
		if err != nil {
			return n, err
		}
		if err := q.ReleaseFrame(index); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
