package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.viam.com/test"

	"github.com/bryanchriswhite/LandmarkLens/internal/camera"
	"github.com/bryanchriswhite/LandmarkLens/internal/config"
	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
	"github.com/bryanchriswhite/LandmarkLens/internal/output"
	"github.com/bryanchriswhite/LandmarkLens/internal/pipeline"
)

func init() {
	logger.Silence()
}

type stubPredictor struct{}

func (stubPredictor) Predict(context.Context, string, []byte, map[string]string) ([]byte, error) {
	return []byte(`{"modelStatus":"loaded","label":"C","confidence":0.9}`), nil
}

type env struct {
	srv  *httptest.Server
	pipe *pipeline.Pipeline
	cfg  *config.Manager
}

func newEnv(t *testing.T, opener camera.Opener) *env {
	t.Helper()
	mjpeg := output.NewMJPEGOutput(output.Config{Width: 320, Height: 240, FPS: 10, Quality: 80})
	test.That(t, mjpeg.Start(), test.ShouldBeNil)

	pipe, err := pipeline.New(pipeline.Config{
		Display: pipeline.Display{Width: 320, Height: 240},
		Clock:   clock.NewMock(),
	}, camera.NewSession(opener, camera.Profile{}, camera.Profile{}), stubPredictor{}, mjpeg)
	test.That(t, err, test.ShouldBeNil)

	cfg, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	test.That(t, err, test.ShouldBeNil)

	srv := httptest.NewServer(NewServer(pipe, cfg, mjpeg).Handler())
	t.Cleanup(func() {
		srv.Close()
		pipe.Close()
		mjpeg.Stop()
	})
	return &env{srv: srv, pipe: pipe, cfg: cfg}
}

func stillOpener() camera.Opener {
	return camera.OpenerFunc(func(_ context.Context, p camera.Profile) (camera.Stream, error) {
		return camera.NewStillStream(image.NewRGBA(image.Rect(0, 0, p.Width, p.Height)), p.Name), nil
	})
}

func (e *env) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		test.That(t, json.NewEncoder(&buf).Encode(body), test.ShouldBeNil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	test.That(t, err, test.ShouldBeNil)
	resp, err := http.DefaultClient.Do(req)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeState(t *testing.T, resp *http.Response) pipeline.State {
	t.Helper()
	var st pipeline.State
	test.That(t, json.NewDecoder(resp.Body).Decode(&st), test.ShouldBeNil)
	return st
}

func TestHealth(t *testing.T) {
	e := newEnv(t, stillOpener())
	resp := e.do(t, "GET", "/api/health", nil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, resp.Header.Get("Access-Control-Allow-Origin"), test.ShouldEqual, "*")

	var body map[string]string
	test.That(t, json.NewDecoder(resp.Body).Decode(&body), test.ShouldBeNil)
	test.That(t, body["status"], test.ShouldEqual, "healthy")
}

func TestPreflight(t *testing.T) {
	e := newEnv(t, stillOpener())
	resp := e.do(t, "OPTIONS", "/api/page", nil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, resp.Header.Get("Access-Control-Allow-Methods"), test.ShouldContainSubstring, "PUT")
}

func TestCameraLifecycle(t *testing.T) {
	e := newEnv(t, stillOpener())

	st := decodeState(t, e.do(t, "GET", "/api/state", nil))
	test.That(t, st.Page, test.ShouldEqual, pipeline.PageASL)
	test.That(t, st.Camera.Running, test.ShouldBeFalse)

	resp := e.do(t, "POST", "/api/camera/start", nil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	st = decodeState(t, resp)
	test.That(t, st.Camera.Running, test.ShouldBeTrue)
	test.That(t, st.Camera.Width, test.ShouldEqual, 640)
	test.That(t, st.Sampler.Enabled, test.ShouldBeTrue)

	resp = e.do(t, "POST", "/api/camera/stop", nil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, decodeState(t, resp).Camera.Running, test.ShouldBeFalse)
}

func TestCameraStartFailure(t *testing.T) {
	e := newEnv(t, camera.OpenerFunc(func(context.Context, camera.Profile) (camera.Stream, error) {
		return nil, errors.New("no device")
	}))

	resp := e.do(t, "POST", "/api/camera/start", nil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusServiceUnavailable)
	var body struct {
		Error string         `json:"error"`
		State pipeline.State `json:"state"`
	}
	test.That(t, json.NewDecoder(resp.Body).Decode(&body), test.ShouldBeNil)
	test.That(t, body.Error, test.ShouldEqual, camera.AcquireFailedMessage)
	test.That(t, body.State.Camera.PermissionPromptVisible, test.ShouldBeTrue)

	resp = e.do(t, "POST", "/api/camera/permission", map[string]bool{"open": false})
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, decodeState(t, resp).Camera.PermissionPromptVisible, test.ShouldBeFalse)

	resp = e.do(t, "GET", "/api/notifications", nil)
	var toasts []map[string]interface{}
	test.That(t, json.NewDecoder(resp.Body).Decode(&toasts), test.ShouldBeNil)
	test.That(t, toasts, test.ShouldHaveLength, 1)
	test.That(t, toasts[0]["text"], test.ShouldEqual, camera.AcquireFailedMessage)
}

func TestPageAndToggles(t *testing.T) {
	e := newEnv(t, stillOpener())

	resp := e.do(t, "PUT", "/api/page", map[string]string{"page": "segmentation"})
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	st := decodeState(t, resp)
	test.That(t, st.Page, test.ShouldEqual, pipeline.PageSegmentation)
	test.That(t, st.Toggles[pipeline.ToggleFace], test.ShouldBeTrue)

	resp = e.do(t, "PUT", "/api/toggles/face", map[string]bool{"on": false})
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, decodeState(t, resp).Toggles[pipeline.ToggleFace], test.ShouldBeFalse)

	resp = e.do(t, "PUT", "/api/toggles/freeze", map[string]bool{"on": true})
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusNotFound)

	resp = e.do(t, "PUT", "/api/page", map[string]string{"page": "home"})
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)

	resp = e.do(t, "PUT", "/api/page", nil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)
}

func TestResultAndHistory(t *testing.T) {
	e := newEnv(t, stillOpener())

	resp := e.do(t, "GET", "/api/result", nil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusNoContent)

	test.That(t, e.pipe.StartCamera(context.Background()), test.ShouldBeNil)
	test.That(t, e.pipe.SampleOnce(context.Background()), test.ShouldBeNil)

	resp = e.do(t, "GET", "/api/result", nil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	var result map[string]interface{}
	test.That(t, json.NewDecoder(resp.Body).Decode(&result), test.ShouldBeNil)
	test.That(t, result["label"], test.ShouldEqual, "C")

	resp = e.do(t, "GET", "/api/history", nil)
	var history []string
	test.That(t, json.NewDecoder(resp.Body).Decode(&history), test.ShouldBeNil)
	test.That(t, history, test.ShouldResemble, []string{"C"})

	resp = e.do(t, "DELETE", "/api/history", nil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, e.pipe.History(), test.ShouldBeEmpty)
}

func TestSetDisplay(t *testing.T) {
	e := newEnv(t, stillOpener())

	resp := e.do(t, "PUT", "/api/display", map[string]interface{}{"width": 640, "height": 360, "fit": "cover"})
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	var d pipeline.Display
	test.That(t, json.NewDecoder(resp.Body).Decode(&d), test.ShouldBeNil)
	test.That(t, d.Width, test.ShouldEqual, 640)
	test.That(t, string(d.Fit), test.ShouldEqual, "cover")

	resp = e.do(t, "PUT", "/api/display", map[string]interface{}{"width": 100000, "height": 360})
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)
}

func TestConfigEndpoints(t *testing.T) {
	e := newEnv(t, stillOpener())

	resp := e.do(t, "GET", "/api/config", nil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	var cfg config.Config
	test.That(t, json.NewDecoder(resp.Body).Decode(&cfg), test.ShouldBeNil)
	test.That(t, cfg.ServerPort, test.ShouldEqual, 8080)

	resp = e.do(t, "PUT", "/api/config", map[string]string{"key": "server_port", "value": "9191"})
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, e.cfg.GetPort(), test.ShouldEqual, 9191)

	resp = e.do(t, "PUT", "/api/config", map[string]string{"key": "nope", "value": "1"})
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)
}

func TestFrameAndViewer(t *testing.T) {
	e := newEnv(t, stillOpener())

	resp := e.do(t, "GET", "/", nil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, resp.Header.Get("Content-Type"), test.ShouldContainSubstring, "text/html")

	e.pipe.DrawFrame()
	resp = e.do(t, "GET", "/api/frame.jpg", nil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, resp.Header.Get("Content-Type"), test.ShouldEqual, "image/jpeg")
}

func TestEventsStream(t *testing.T) {
	e := newEnv(t, stillOpener())

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()
	test.That(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)), test.ShouldBeNil)

	var ev Event
	test.That(t, conn.ReadJSON(&ev), test.ShouldBeNil)
	test.That(t, ev.Type, test.ShouldEqual, "state")
	test.That(t, ev.State.Page, test.ShouldEqual, pipeline.PageASL)

	e.pipe.Notices().Push("Prediction server unavailable")
	ev = Event{}
	test.That(t, conn.ReadJSON(&ev), test.ShouldBeNil)
	test.That(t, ev.Type, test.ShouldEqual, "toast")
	test.That(t, ev.Toast.Text, test.ShouldEqual, "Prediction server unavailable")

	test.That(t, e.pipe.SetToggle(pipeline.ToggleLandmarks, false), test.ShouldBeNil)
	ev = Event{}
	test.That(t, conn.ReadJSON(&ev), test.ShouldBeNil)
	test.That(t, ev.Type, test.ShouldEqual, "state")
	test.That(t, ev.State.Toggles[pipeline.ToggleLandmarks], test.ShouldBeFalse)
}
