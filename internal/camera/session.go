package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
)

// AcquireFailedMessage is the user-facing message set when no profile could
// be opened.
const AcquireFailedMessage = "camera access denied or unavailable"

// AcquireError is returned by Start when both the preferred and the fallback
// profile failed. Err holds both causes.
type AcquireError struct {
	Err error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("%s: %v", AcquireFailedMessage, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// State is a point-in-time copy of the session fields.
type State struct {
	SessionID               string   `json:"session_id"`
	Running                 bool     `json:"running"`
	PermissionGranted       bool     `json:"permission_granted"`
	PermissionPromptVisible bool     `json:"permission_prompt_visible"`
	ErrorMessage            string   `json:"error_message,omitempty"`
	Profile                 *Profile `json:"profile,omitempty"`
	Device                  string   `json:"device,omitempty"`
	Width                   int      `json:"width"`
	Height                  int      `json:"height"`
}

// Session owns acquisition and release of one live video source. The stream
// is never shared: callers read frames through the session.
type Session struct {
	opener    Opener
	preferred Profile
	fallback  Profile

	// opMu serializes Start and Stop so an open never races a release.
	opMu sync.Mutex

	mu            sync.RWMutex
	id            string
	stream        Stream
	profile       *Profile
	errorMessage  string
	granted       bool
	promptVisible bool
	onChange      []func(State)
}

// NewSession creates a stopped session. Zero-valued profiles fall back to
// PreferredProfile and FallbackProfile.
func NewSession(opener Opener, preferred, fallback Profile) *Session {
	if preferred.Width <= 0 || preferred.Height <= 0 {
		preferred = PreferredProfile
	}
	if fallback.Width <= 0 || fallback.Height <= 0 {
		fallback = FallbackProfile
	}
	return &Session{
		opener:    opener,
		preferred: preferred,
		fallback:  fallback,
	}
}

// OnChange registers a callback invoked after every state transition.
// Callbacks run synchronously and must not call back into Start or Stop.
func (s *Session) OnChange(fn func(State)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Start acquires the camera with the preferred profile, retrying once with the
// fallback profile. Start on a running session does nothing.
func (s *Session) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	running := s.stream != nil
	s.mu.RUnlock()
	if running {
		return nil
	}

	log := logger.WithComponent("camera")

	var errs error
	for _, profile := range []Profile{s.preferred, s.fallback} {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		stream, err := s.opener.Open(ctx, profile)
		if err != nil {
			log.Warn().
				Err(err).
				Str("backend", s.opener.Name()).
				Str("profile", profile.Name).
				Int("width", profile.Width).
				Int("height", profile.Height).
				Msg("Failed to open camera")
			errs = multierr.Append(errs, fmt.Errorf("%s profile: %w", profile.Name, err))
			continue
		}

		p := profile
		s.mu.Lock()
		s.id = uuid.NewString()
		s.stream = stream
		s.profile = &p
		s.errorMessage = ""
		s.granted = true
		s.promptVisible = false
		s.mu.Unlock()

		log.Info().
			Str("session", s.id).
			Str("backend", s.opener.Name()).
			Str("device", stream.Label()).
			Str("profile", profile.Name).
			Msg("Camera started")
		s.emit()
		return nil
	}

	s.mu.Lock()
	s.stream = nil
	s.profile = nil
	s.errorMessage = AcquireFailedMessage
	s.granted = false
	s.promptVisible = true
	s.mu.Unlock()

	log.Error().Err(errs).Msg("Camera acquisition failed")
	s.emit()
	return &AcquireError{Err: errs}
}

// Stop releases every track and clears the stream. Safe to call repeatedly.
func (s *Session) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	stream := s.stream
	id := s.id
	s.stream = nil
	s.profile = nil
	s.mu.Unlock()

	if stream == nil {
		return nil
	}

	err := stream.Close()
	logger.WithSession("camera", id).Info().Err(err).Msg("Camera stopped")
	s.emit()
	return err
}

// Close tears the session down. It always stops the stream.
func (s *Session) Close() error {
	return s.Stop()
}

// Acquire starts the session and returns a release func that stops it.
// Typical use is scoped:
//
//	release, err := session.Acquire(ctx)
//	if err != nil { ... }
//	defer release()
func (s *Session) Acquire(ctx context.Context) (func(), error) {
	if err := s.Start(ctx); err != nil {
		return func() {}, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := s.Stop(); err != nil {
				logger.WithComponent("camera").Warn().Err(err).Msg("Release failed")
			}
		})
	}, nil
}

// OpenPermission shows the permission prompt.
func (s *Session) OpenPermission() { s.setPrompt(true) }

// ClosePermission hides the permission prompt.
func (s *Session) ClosePermission() { s.setPrompt(false) }

func (s *Session) setPrompt(visible bool) {
	s.mu.Lock()
	changed := s.promptVisible != visible
	s.promptVisible = visible
	s.mu.Unlock()
	if changed {
		s.emit()
	}
}

// Running reports whether a stream is held.
func (s *Session) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stream != nil
}

// Frame returns the latest frame of the active stream.
func (s *Session) Frame() (image.Image, bool) {
	s.mu.RLock()
	stream := s.stream
	s.mu.RUnlock()
	if stream == nil {
		return nil, false
	}
	return stream.Frame()
}

// Size returns the intrinsic size of the active stream, or 0,0.
func (s *Session) Size() (int, int) {
	s.mu.RLock()
	stream := s.stream
	s.mu.RUnlock()
	if stream == nil {
		return 0, 0
	}
	return stream.Size()
}

// State returns a copy of the session state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	st := State{
		SessionID:               s.id,
		Running:                 s.stream != nil,
		PermissionGranted:       s.granted,
		PermissionPromptVisible: s.promptVisible,
		ErrorMessage:            s.errorMessage,
	}
	if s.profile != nil {
		p := *s.profile
		st.Profile = &p
	}
	if s.stream != nil {
		st.Device = s.stream.Label()
		st.Width, st.Height = s.stream.Size()
	}
	return st
}

func (s *Session) emit() {
	s.mu.RLock()
	st := s.stateLocked()
	hooks := make([]func(State), len(s.onChange))
	copy(hooks, s.onChange)
	s.mu.RUnlock()

	for _, fn := range hooks {
		fn(st)
	}
}

// IsAcquireError reports whether err is an acquisition failure.
func IsAcquireError(err error) bool {
	var acqErr *AcquireError
	return errors.As(err, &acqErr)
}
