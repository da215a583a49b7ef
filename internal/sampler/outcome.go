package sampler

import (
	"errors"
	"fmt"
	"time"

	"github.com/bryanchriswhite/LandmarkLens/internal/predict"
)

// Kind classifies the result of one sampling attempt.
type Kind int

const (
	// KindOK means a fresh result was stored.
	KindOK Kind = iota
	// KindCapture means the frame could not be grabbed or encoded.
	KindCapture
	// KindTransport means the request did not complete.
	KindTransport
	// KindStatus means the backend answered with a non-success status.
	KindStatus
	// KindDecode means the body did not match the expected shape.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindCapture:
		return "capture"
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of one tick that reached the capture step.
type Outcome[T any] struct {
	Kind    Kind
	Value   T
	Err     error
	Latency time.Duration
}

// OK reports whether the attempt produced a result.
func (o Outcome[T]) OK() bool { return o.Kind == KindOK }

// Message is the human-readable text surfaced for a failed attempt.
func (o Outcome[T]) Message() string {
	switch o.Kind {
	case KindOK:
		return ""
	case KindCapture:
		return "Camera capture failed"
	default:
		return "Prediction server unavailable"
	}
}

func okOutcome[T any](v T, latency time.Duration) Outcome[T] {
	return Outcome[T]{Kind: KindOK, Value: v, Latency: latency}
}

func failedOutcome[T any](kind Kind, err error, latency time.Duration) Outcome[T] {
	return Outcome[T]{Kind: kind, Err: err, Latency: latency}
}

// classify maps a predictor error to a Kind.
func classify(err error) Kind {
	var statusErr *predict.StatusError
	if errors.As(err, &statusErr) {
		return KindStatus
	}
	return KindTransport
}
