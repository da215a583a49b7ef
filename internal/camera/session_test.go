package camera

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
)

func init() {
	logger.Silence()
}

type recordingOpener struct {
	mu       sync.Mutex
	profiles []Profile
	fail     map[string]error
	streams  []*StillStream
}

func (o *recordingOpener) Name() string { return "recording" }

func (o *recordingOpener) Open(_ context.Context, p Profile) (Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.profiles = append(o.profiles, p)
	if err := o.fail[p.Name]; err != nil {
		return nil, err
	}
	s := NewStillStream(image.NewRGBA(image.Rect(0, 0, p.Width, p.Height)), p.Name)
	o.streams = append(o.streams, s)
	return s, nil
}

func TestStartUsesPreferredProfile(t *testing.T) {
	o := &recordingOpener{}
	s := NewSession(o, Profile{}, Profile{})

	test.That(t, s.Start(context.Background()), test.ShouldBeNil)
	test.That(t, o.profiles, test.ShouldResemble, []Profile{PreferredProfile})

	st := s.State()
	test.That(t, st.Running, test.ShouldBeTrue)
	test.That(t, st.PermissionGranted, test.ShouldBeTrue)
	test.That(t, st.ErrorMessage, test.ShouldBeEmpty)
	test.That(t, st.Width, test.ShouldEqual, 640)
	test.That(t, st.Height, test.ShouldEqual, 480)
	test.That(t, st.SessionID, test.ShouldNotBeEmpty)
}

func TestStartFallsBackOnce(t *testing.T) {
	o := &recordingOpener{fail: map[string]error{"preferred": errors.New("overconstrained")}}
	s := NewSession(o, Profile{}, Profile{})

	test.That(t, s.Start(context.Background()), test.ShouldBeNil)
	test.That(t, o.profiles, test.ShouldResemble, []Profile{PreferredProfile, FallbackProfile})
	w, h := s.Size()
	test.That(t, w, test.ShouldEqual, 320)
	test.That(t, h, test.ShouldEqual, 240)
}

func TestStartTotalFailure(t *testing.T) {
	o := &recordingOpener{fail: map[string]error{
		"preferred": errors.New("denied"),
		"fallback":  errors.New("denied"),
	}}
	s := NewSession(o, Profile{}, Profile{})

	err := s.Start(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, IsAcquireError(err), test.ShouldBeTrue)
	test.That(t, len(o.profiles), test.ShouldEqual, 2)

	st := s.State()
	test.That(t, st.Running, test.ShouldBeFalse)
	test.That(t, st.PermissionGranted, test.ShouldBeFalse)
	test.That(t, st.PermissionPromptVisible, test.ShouldBeTrue)
	test.That(t, st.ErrorMessage, test.ShouldEqual, AcquireFailedMessage)

	_, ok := s.Frame()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestStartWhileRunningIsNoop(t *testing.T) {
	o := &recordingOpener{}
	s := NewSession(o, Profile{}, Profile{})
	test.That(t, s.Start(context.Background()), test.ShouldBeNil)
	test.That(t, s.Start(context.Background()), test.ShouldBeNil)
	test.That(t, len(o.profiles), test.ShouldEqual, 1)
}

func TestStopReleasesAndIsIdempotent(t *testing.T) {
	o := &recordingOpener{}
	s := NewSession(o, Profile{}, Profile{})
	test.That(t, s.Start(context.Background()), test.ShouldBeNil)

	test.That(t, s.Stop(), test.ShouldBeNil)
	test.That(t, s.Stop(), test.ShouldBeNil)
	test.That(t, s.Close(), test.ShouldBeNil)

	test.That(t, o.streams[0].Closed(), test.ShouldBeTrue)
	test.That(t, s.Running(), test.ShouldBeFalse)
	w, h := s.Size()
	test.That(t, w, test.ShouldEqual, 0)
	test.That(t, h, test.ShouldEqual, 0)
}

func TestAcquireReleases(t *testing.T) {
	o := &recordingOpener{}
	s := NewSession(o, Profile{}, Profile{})

	func() {
		release, err := s.Acquire(context.Background())
		test.That(t, err, test.ShouldBeNil)
		defer release()
		test.That(t, s.Running(), test.ShouldBeTrue)
	}()

	test.That(t, s.Running(), test.ShouldBeFalse)
	test.That(t, o.streams[0].Closed(), test.ShouldBeTrue)
}

func TestPermissionPromptDoesNotTouchStream(t *testing.T) {
	o := &recordingOpener{}
	s := NewSession(o, Profile{}, Profile{})
	test.That(t, s.Start(context.Background()), test.ShouldBeNil)

	s.OpenPermission()
	test.That(t, s.State().PermissionPromptVisible, test.ShouldBeTrue)
	test.That(t, s.Running(), test.ShouldBeTrue)

	s.ClosePermission()
	test.That(t, s.State().PermissionPromptVisible, test.ShouldBeFalse)
	test.That(t, s.Running(), test.ShouldBeTrue)
	test.That(t, o.streams[0].Closed(), test.ShouldBeFalse)
}

func TestOnChangeSeesTransitions(t *testing.T) {
	s := NewSession(&recordingOpener{}, Profile{}, Profile{})
	var seen []bool
	s.OnChange(func(st State) { seen = append(seen, st.Running) })

	test.That(t, s.Start(context.Background()), test.ShouldBeNil)
	test.That(t, s.Stop(), test.ShouldBeNil)
	test.That(t, seen, test.ShouldResemble, []bool{true, false})
}

func TestSyntheticOpenerRespectsLimits(t *testing.T) {
	s := NewSession(&SyntheticOpener{MaxWidth: 320, MaxHeight: 240}, Profile{}, Profile{})
	test.That(t, s.Start(context.Background()), test.ShouldBeNil)
	defer s.Close()

	img, ok := s.Frame()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 320)
	test.That(t, s.State().Profile.Name, test.ShouldEqual, "fallback")
}

func TestRouterTriesBackendsInOrder(t *testing.T) {
	failing := OpenerFunc(func(context.Context, Profile) (Stream, error) {
		return nil, errors.New("no device")
	})
	r := NewRouter(failing, &SyntheticOpener{FPS: 1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stream, err := r.Open(ctx, PreferredProfile)
	test.That(t, err, test.ShouldBeNil)
	defer stream.Close()
	test.That(t, stream.Label(), test.ShouldEqual, "synthetic")

	_, err = NewRouter(failing).Open(ctx, PreferredProfile)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewOpenerRejectsUnknownBackend(t *testing.T) {
	_, err := NewOpener(Options{Backend: "quantum"})
	test.That(t, err, test.ShouldNotBeNil)

	o, err := NewOpener(Options{Backend: "synthetic"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o.Name(), test.ShouldEqual, "synthetic")

	o, err = NewOpener(Options{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o.Name(), test.ShouldEqual, "auto(mediadevices,gstreamer)")
}
