package camera

import "bytes"

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// SplitMJPEG splits an MJPEG byte stream into individual JPEG frames.
// Bytes before a start-of-image marker are discarded, and each token runs
// from SOI to the next end-of-image marker inclusive. A trailing partial
// frame at EOF is dropped.
// It is intended to be used as a bufio.SplitFunc:
//
//	scanner := bufio.NewScanner(conn)
//	scanner.Buffer(make([]byte, 0, 512*1024), MaxFrameSize)
//	scanner.Split(camera.SplitMJPEG)
func SplitMJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a possible split marker byte.
		if n := len(data); n > 1 {
			return n - 1, nil, nil
		}
		return 0, nil, nil
	}

	if end := bytes.Index(data[start+2:], jpegEOI); end >= 0 {
		stop := start + 2 + end + 2
		return stop, data[start:stop], nil
	}

	if atEOF {
		return len(data), nil, nil
	}
	// Drop leading garbage, then request more data.
	return start, nil, nil
}

// MaxFrameSize bounds a single MJPEG frame when scanning.
const MaxFrameSize = 10 * 1024 * 1024
