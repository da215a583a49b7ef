package camera

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers the V4L2 camera adapter
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
)

// MediaDevicesOpener opens a webcam through pion/mediadevices.
type MediaDevicesOpener struct {
	// DeviceID selects a device reported by mediadevices.EnumerateDevices.
	DeviceID string
	// FirstFrameTimeout bounds how long Open waits for the first frame.
	FirstFrameTimeout time.Duration
}

// Name implements Opener.
func (o *MediaDevicesOpener) Name() string { return "mediadevices" }

// Open implements Opener.
func (o *MediaDevicesOpener) Open(ctx context.Context, profile Profile) (Stream, error) {
	log := logger.WithComponent("mediadevices")

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(profile.Width)
			c.Height = prop.Int(profile.Height)
			if o.DeviceID != "" {
				c.DeviceID = prop.String(o.DeviceID)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getUserMedia: %w", err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		closeTracks(stream)
		return nil, fmt.Errorf("no video tracks in stream")
	}
	videoTrack, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		closeTracks(stream)
		return nil, fmt.Errorf("unexpected track type %T", tracks[0])
	}

	s := &mdStream{
		stream: stream,
		label:  "mediadevices:" + videoTrack.ID(),
		done:   make(chan struct{}),
	}
	go s.pump(videoTrack.NewReader(false))

	timeout := o.FirstFrameTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if !s.slot.waitFirst(ctx, timeout) {
		s.Close()
		return nil, fmt.Errorf("no frames from %s within %s", s.label, timeout)
	}

	w, h := s.Size()
	log.Info().Str("device", s.label).Int("width", w).Int("height", h).Msg("Camera track opened")
	return s, nil
}

type mdStream struct {
	stream mediadevices.MediaStream
	label  string
	slot   frameSlot

	closeOnce sync.Once
	done      chan struct{}
}

func (s *mdStream) Frame() (image.Image, bool) { return s.slot.load() }
func (s *mdStream) Size() (int, int)          { return s.slot.size() }
func (s *mdStream) Label() string             { return s.label }

// Close stops every track. The reader returns an error once its track is
// closed, which ends the pump.
func (s *mdStream) Close() error {
	s.closeOnce.Do(func() {
		closeTracks(s.stream)
		<-s.done
	})
	return nil
}

// pump copies frames out of driver buffers into the latest-frame slot
func (s *mdStream) pump(reader video.Reader) {
	defer close(s.done)
	for {
		img, release, err := reader.Read()
		if err != nil {
			logger.WithComponent("mediadevices").Debug().Err(err).Msg("Reader stopped")
			return
		}
		// release recycles the buffer, so the frame must be copied first
		b := img.Bounds()
		rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
		release()
		s.slot.store(rgba)
	}
}

func closeTracks(stream mediadevices.MediaStream) {
	for _, track := range stream.GetTracks() {
		track.Close()
	}
}
