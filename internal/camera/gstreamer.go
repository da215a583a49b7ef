package camera

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
)

var gstInitOnce sync.Once

// GStreamerOpener opens a V4L2 device through a GStreamer pipeline that ends
// in a polled appsink.
type GStreamerOpener struct {
	// Device is the V4L2 node, e.g. /dev/video0. Empty uses the default.
	Device string
	// FirstFrameTimeout bounds how long Open waits for the first sample.
	FirstFrameTimeout time.Duration
}

// Name implements Opener.
func (o *GStreamerOpener) Name() string { return "gstreamer" }

// PipelineString builds the launch line for a profile.
func (o *GStreamerOpener) PipelineString(profile Profile) string {
	src := "v4l2src"
	if o.Device != "" {
		src = fmt.Sprintf("v4l2src device=%s", o.Device)
	}
	// Polling mode with emit-signals=false avoids CGO callbacks into Go.
	return fmt.Sprintf(
		"%s do-timestamp=true ! "+
			"videoconvert ! "+
			"videoscale ! "+
			"video/x-raw,format=RGBA,width=%d,height=%d ! "+
			"appsink name=sink emit-signals=false max-buffers=2 drop=true",
		src, profile.Width, profile.Height,
	)
}

// Open implements Opener.
func (o *GStreamerOpener) Open(ctx context.Context, profile Profile) (Stream, error) {
	log := logger.WithComponent("gstreamer")

	gstInitOnce.Do(func() { gst.Init(nil) })

	pipelineStr := o.PipelineString(profile)
	log.Debug().Str("pipeline", pipelineStr).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.Unref()
		return nil, fmt.Errorf("failed to get appsink: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.Unref()
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	s := &gstStream{
		pipeline: pipeline,
		appsink:  app.SinkFromElement(sinkElement),
		label:    o.label(),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.pollSamples()

	timeout := o.FirstFrameTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if !s.slot.waitFirst(ctx, timeout) {
		s.Close()
		return nil, fmt.Errorf("no frames from %s within %s", s.label, timeout)
	}

	w, h := s.Size()
	log.Info().
		Str("device", s.label).
		Int("width", w).
		Int("height", h).
		Msg("GStreamer pipeline started")
	return s, nil
}

func (o *GStreamerOpener) label() string {
	if o.Device == "" {
		return "v4l2:default"
	}
	return "v4l2:" + o.Device
}

type gstStream struct {
	pipeline *gst.Pipeline
	appsink  *app.Sink
	label    string
	slot     frameSlot

	closeOnce sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

func (s *gstStream) Frame() (image.Image, bool) { return s.slot.load() }
func (s *gstStream) Size() (int, int)          { return s.slot.size() }
func (s *gstStream) Label() string             { return s.label }

// Close stops the polling goroutine and tears the pipeline down.
func (s *gstStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		<-s.done
		s.pipeline.SetState(gst.StateNull)
		s.pipeline.Unref()
		logger.WithComponent("gstreamer").Info().Str("device", s.label).Msg("GStreamer pipeline stopped")
	})
	return nil
}

// pollSamples pulls samples from the appsink until the stream is closed
func (s *gstStream) pollSamples() {
	defer close(s.done)
	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			// 1ms timeout keeps the loop from busy-waiting
			sample := s.appsink.TryPullSample(time.Millisecond)
			if sample == nil {
				continue
			}
			// The binding releases samples itself; calling Unref double-frees.
			if img := rgbaFromSample(sample); img != nil {
				s.slot.store(img)
			}
		}
	}
}

// rgbaFromSample copies a raw RGBA sample into a new image
func rgbaFromSample(sample *gst.Sample) *image.RGBA {
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil
	}
	caps := sample.GetCaps()
	if caps == nil {
		return nil
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return nil
	}

	width, _ := structure.GetValue("width")
	height, _ := structure.GetValue("height")
	w, ok := width.(int)
	if !ok || w <= 0 {
		return nil
	}
	h, ok := height.(int)
	if !ok || h <= 0 {
		return nil
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil
	}
	defer buffer.Unmap()

	data := mapInfo.Bytes()
	expected := w * h * 4
	if len(data) < expected {
		return nil
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, data[:expected])
	return img
}
