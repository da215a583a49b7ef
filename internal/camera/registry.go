package camera

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
)

// Backend names accepted by NewOpener.
const (
	BackendAuto         = "auto"
	BackendGStreamer    = "gstreamer"
	BackendMediaDevices = "mediadevices"
	BackendX11          = "x11"
	BackendSynthetic    = "synthetic"
)

// Options selects and configures a capture backend.
type Options struct {
	Backend string
	// Device is backend specific: a V4L2 node for gstreamer, a device id for
	// mediadevices, an X display for x11.
	Device string
}

var factories = map[string]func(Options) Opener{
	BackendGStreamer:    func(o Options) Opener { return &GStreamerOpener{Device: o.Device} },
	BackendMediaDevices: func(o Options) Opener { return &MediaDevicesOpener{DeviceID: o.Device} },
	BackendX11:          func(o Options) Opener { return &X11Opener{Display: o.Device} },
	BackendSynthetic:    func(Options) Opener { return &SyntheticOpener{} },
}

// autoOrder is the order "auto" tries real devices in.
var autoOrder = []string{BackendMediaDevices, BackendGStreamer}

// Backends lists the registered backend names.
func Backends() []string {
	names := make([]string, 0, len(factories)+1)
	names = append(names, BackendAuto)
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names[1:])
	return names
}

// NewOpener returns the Opener for opts.Backend.
func NewOpener(opts Options) (Opener, error) {
	name := strings.ToLower(strings.TrimSpace(opts.Backend))
	if name == "" || name == BackendAuto {
		r := &Router{}
		for _, n := range autoOrder {
			r.openers = append(r.openers, factories[n](opts))
		}
		return r, nil
	}
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown camera backend %q (available: %s)", opts.Backend, strings.Join(Backends(), ", "))
	}
	return factory(opts), nil
}

// Router tries each of its openers in turn and returns the first stream that
// opens.
type Router struct {
	openers []Opener
}

// NewRouter creates a router over the given openers.
func NewRouter(openers ...Opener) *Router {
	return &Router{openers: openers}
}

// Name implements Opener.
func (r *Router) Name() string {
	names := make([]string, len(r.openers))
	for i, o := range r.openers {
		names[i] = o.Name()
	}
	return "auto(" + strings.Join(names, ",") + ")"
}

// Open implements Opener.
func (r *Router) Open(ctx context.Context, profile Profile) (Stream, error) {
	log := logger.WithComponent("camera-router")

	var errs error
	for _, o := range r.openers {
		if err := ctx.Err(); err != nil {
			return nil, multierr.Append(errs, err)
		}
		stream, err := o.Open(ctx, profile)
		if err != nil {
			log.Debug().Err(err).Str("backend", o.Name()).Msg("Backend not available")
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", o.Name(), err))
			continue
		}
		log.Debug().Str("backend", o.Name()).Msg("Using backend")
		return stream, nil
	}
	if errs == nil {
		return nil, fmt.Errorf("no capture backends available")
	}
	return nil, errs
}
