package camera

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// fakeApps installs shell-script stand-ins for rpicam-vid and rpicam-still
// at the front of PATH.
func fakeApps(t *testing.T, vid, still string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts required")
	}
	dir := t.TempDir()
	write := func(name, body string) {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	write("rpicam-vid", vid)
	write("rpicam-still", still)
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

const listCameras = `case "$*" in *--list-cameras*) echo "Available cameras"; echo "0 : imx708 [4608x2592]"; exit 0;; esac
`

func openFake(t *testing.T) *RPiCam {
	t.Helper()
	dev, err := (&RPiCamOpener{}).Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cam := dev.(*RPiCam)
	if err := cam.Configure(Settings{Width: 640, Height: 480, Framerate: 30}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return cam
}

func TestRPiCam_ArgBuilding(t *testing.T) {
	c := &RPiCam{camera: "1", settings: Settings{Width: 1280, Height: 720, Framerate: 30}, configured: true}

	still := strings.Join(c.stillArgs(), " ")
	for _, want := range []string{"--width 1280", "--height 720", "--encoding jpg", "--output -", "--camera 1", "--nopreview"} {
		if !strings.Contains(still, want) {
			t.Errorf("still args %q missing %q", still, want)
		}
	}

	h264 := strings.Join(c.videoArgs(H264), " ")
	for _, want := range []string{"--codec h264", "--timeout 0", "--framerate 30", "--inline", "--output -"} {
		if !strings.Contains(h264, want) {
			t.Errorf("h264 args %q missing %q", h264, want)
		}
	}

	mjpeg := strings.Join(c.videoArgs(MJPEG), " ")
	if !strings.Contains(mjpeg, "--codec mjpeg") {
		t.Errorf("mjpeg args %q missing codec", mjpeg)
	}
	if strings.Contains(mjpeg, "--inline") {
		t.Errorf("mjpeg args should not carry --inline: %q", mjpeg)
	}
}

func TestRPiCam_OpenNoTools(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	if _, err := (&RPiCamOpener{}).Open(context.Background()); err == nil {
		t.Fatal("expected error when rpicam tools are missing")
	}
}

func TestRPiCam_OpenNoCamera(t *testing.T) {
	fakeApps(t, `echo "No cameras available!"; exit 0`, `exit 0`)
	_, err := (&RPiCamOpener{}).Open(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no camera detected") {
		t.Fatalf("Open error = %v, want no camera detected", err)
	}
}

func TestRPiCam_CaptureWritesStdout(t *testing.T) {
	fakeApps(t, listCameras, `printf 'JPEGDATA'`)
	cam := openFake(t)
	defer cam.Close()

	var buf bytes.Buffer
	if err := cam.Capture(&buf, JPEG); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if buf.String() != "JPEGDATA" {
		t.Errorf("sink got %q, want JPEGDATA", buf.String())
	}
}

func TestRPiCam_CaptureRejectsVideoEncoding(t *testing.T) {
	fakeApps(t, listCameras, `exit 0`)
	cam := openFake(t)
	defer cam.Close()

	if err := cam.Capture(&bytes.Buffer{}, H264); !errors.Is(err, ErrUnsupportedEncoding) {
		t.Errorf("Capture(H264) = %v, want ErrUnsupportedEncoding", err)
	}
}

func TestRPiCam_CaptureFailureIncludesStderr(t *testing.T) {
	fakeApps(t, listCameras, `echo "ERROR: device busy" >&2; exit 1`)
	cam := openFake(t)
	defer cam.Close()

	err := cam.Capture(&bytes.Buffer{}, JPEG)
	if err == nil || !strings.Contains(err.Error(), "device busy") {
		t.Fatalf("Capture error = %v, want stderr text", err)
	}
}

func TestRPiCam_RecordThenStop(t *testing.T) {
	fakeApps(t, listCameras+`printf 'H264STREAM'
exec sleep 30
`, `exit 0`)
	cam := openFake(t)
	defer cam.Close()

	var buf safeBuffer
	if err := cam.StartRecording(&buf, H264); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := cam.StartRecording(&buf, H264); !errors.Is(err, ErrRecording) {
		t.Errorf("second StartRecording = %v, want ErrRecording", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(buf.String(), "H264STREAM") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if err := cam.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if buf.String() != "H264STREAM" {
		t.Errorf("sink got %q, want H264STREAM", buf.String())
	}
	if err := cam.StopRecording(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("second StopRecording = %v, want ErrNotRecording", err)
	}
}

func TestRPiCam_EncoderExitReported(t *testing.T) {
	fakeApps(t, listCameras+`echo "encoder fault" >&2; exit 3
`, `exit 0`)
	cam := openFake(t)
	defer cam.Close()

	if err := cam.StartRecording(&safeBuffer{}, MJPEG); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	failed := cam.Failed()
	select {
	case err := <-failed:
		if !strings.Contains(err.Error(), "encoder fault") {
			t.Errorf("failure = %v, want stderr text", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected encoder failure to be reported")
	}
	if err := cam.StopRecording(); err == nil {
		t.Error("StopRecording should return the encoder failure")
	}
}

func TestRPiCam_StopWithStalledSink(t *testing.T) {
	cases := []struct {
		name     string
		deadline bool
		want     error
	}{
		{"write_deadline", true, os.ErrDeadlineExceeded},
		{"no_deadline", false, ErrSinkBlocked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			shortStopTimings(t)
			fakeApps(t, listCameras+`trap '' INT
while :; do printf 'H264H264H264H264'; done
`, `exit 0`)
			cam := openFake(t)

			w := newStallingWriter()
			t.Cleanup(w.unblock)
			var sink io.Writer = w
			if tc.deadline {
				sink = deadlineWriter{w}
			}
			if err := cam.StartRecording(sink, H264); err != nil {
				t.Fatalf("StartRecording: %v", err)
			}
			<-w.entered

			done := make(chan error, 1)
			go func() { done <- cam.StopRecording() }()
			select {
			case err := <-done:
				if !errors.Is(err, tc.want) {
					t.Errorf("StopRecording = %v, want %v", err, tc.want)
				}
			case <-time.After(10 * time.Second):
				t.Fatal("StopRecording blocked on a stalled sink")
			}
		})
	}
}
