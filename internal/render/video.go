package render

import (
	"fmt"
	"image"

	"github.com/icza/mjpeg"

	"github.com/talgya/contagion/internal/world"
)

// VideoRecorder appends rendered frames to an MJPEG AVI file.
type VideoRecorder struct {
	w       mjpeg.AviWriter
	quality int
	frames  int
	closed  bool
}

// NewVideoRecorder creates an AVI at path sized to the world, playing fps
// frames per second.
func NewVideoRecorder(path string, fps int) (*VideoRecorder, error) {
	w, err := mjpeg.New(path, int32(world.Width), int32(world.Height), int32(fps))
	if err != nil {
		return nil, fmt.Errorf("create mjpeg writer: %w", err)
	}
	return &VideoRecorder{w: w, quality: 85}, nil
}

// AddFrame encodes and appends one frame.
func (v *VideoRecorder) AddFrame(img image.Image) error {
	data, err := EncodeJPEG(img, v.quality)
	if err != nil {
		return err
	}
	if err := v.w.AddFrame(data); err != nil {
		return fmt.Errorf("add frame %d: %w", v.frames, err)
	}
	v.frames++
	return nil
}

// Frames returns how many frames were written.
func (v *VideoRecorder) Frames() int {
	return v.frames
}

// Close finalizes the AVI index. The file is unusable until Close returns.
// Later calls are no-ops.
func (v *VideoRecorder) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	if err := v.w.Close(); err != nil {
		return fmt.Errorf("close mjpeg writer: %w", err)
	}
	return nil
}
