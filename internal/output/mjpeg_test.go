package output

import (
	"bufio"
	"bytes"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.viam.com/test"

	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
)

func init() {
	logger.Silence()
}

func frame(w, h int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func TestWriteFrameRequiresStart(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 64, Height: 48, FPS: 10})
	test.That(t, m.WriteFrame(frame(64, 48)), test.ShouldNotBeNil)

	test.That(t, m.Start(), test.ShouldBeNil)
	test.That(t, m.Start(), test.ShouldNotBeNil)
	test.That(t, m.WriteFrame(frame(64, 48)), test.ShouldBeNil)
	test.That(t, m.Stop(), test.ShouldBeNil)
	test.That(t, m.Stop(), test.ShouldBeNil)
}

func TestLatestFrameIsJPEG(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 64, Height: 48, FPS: 10})
	test.That(t, m.Start(), test.ShouldBeNil)
	defer m.Stop()

	test.That(t, m.Latest(), test.ShouldBeNil)
	test.That(t, m.WriteFrame(frame(64, 48)), test.ShouldBeNil)

	img, err := jpeg.Decode(bytes.NewReader(m.Latest()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 64)
	test.That(t, m.Stats().Frames, test.ShouldEqual, uint64(1))

	rec := httptest.NewRecorder()
	m.SnapshotHandler()(rec, httptest.NewRequest(http.MethodGet, "/api/frame.jpg", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Header().Get("Content-Type"), test.ShouldEqual, "image/jpeg")
}

func TestStreamSendsMultipartParts(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 32, Height: 32, FPS: 10})
	test.That(t, m.Start(), test.ShouldBeNil)
	defer m.Stop()
	test.That(t, m.WriteFrame(frame(32, 32)), test.ShouldBeNil)

	srv := httptest.NewServer(m.HTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.Header.Get("Content-Type"), test.ShouldEqual, "multipart/x-mixed-replace; boundary=frame")

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	test.That(t, line, test.ShouldEqual, "--frame\r\n")
}

func TestStreamUnavailableWhenStopped(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	rec := httptest.NewRecorder()
	m.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusServiceUnavailable)
}

func TestFanoutSkipsStoppedOutputs(t *testing.T) {
	running := NewMJPEGOutput(Config{})
	stopped := NewMJPEGOutput(Config{})
	test.That(t, running.Start(), test.ShouldBeNil)

	f := Fanout{running, stopped}
	test.That(t, f.WriteFrame(frame(8, 8)), test.ShouldBeNil)
	test.That(t, running.Stats().Frames, test.ShouldEqual, uint64(1))
	test.That(t, stopped.Stats().Frames, test.ShouldEqual, uint64(0))
	test.That(t, f.Stop(), test.ShouldBeNil)
	test.That(t, running.IsRunning(), test.ShouldBeFalse)
}
