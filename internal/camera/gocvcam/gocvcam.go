// Package gocvcam implements [camera.Device] on top of an OpenCV VideoCapture.
//
// It is the only package that links OpenCV for capture; everything else talks
// to the camera through [camera.Source] and [camera.Opener].
package gocvcam

import (
	"errors"
	"fmt"
	"strconv"

	"gocv.io/x/gocv"

	"github.com/MrWong99/glyphlens/internal/camera"
)

// DefaultJPEGQuality is used when Config.JPEGQuality is zero.
const DefaultJPEGQuality = 80

// Config selects and configures a capture device.
type Config struct {
	// Device is a numeric device index ("0") or a stream URL / file path.
	Device string

	// Width and Height request a capture resolution. Zero keeps the default.
	Width, Height int

	// JPEGQuality is the encoder quality, 1..100.
	JPEGQuality int
}

// Device reads frames from an OpenCV VideoCapture.
type Device struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	quality int
}

// Compile-time interface assertion.
var _ camera.Device = (*Device)(nil)

// Open opens the device named in cfg.
func Open(cfg Config) (*Device, error) {
	var target any = cfg.Device
	if idx, err := strconv.Atoi(cfg.Device); err == nil {
		target = idx
	}
	capture, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return nil, fmt.Errorf("gocvcam: open %q: %w", cfg.Device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("gocvcam: open %q: device not opened", cfg.Device)
	}
	if cfg.Width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	return &Device{capture: capture, mat: gocv.NewMat(), quality: jpegQuality(cfg.JPEGQuality)}, nil
}

// Opener returns a [camera.Opener] for cfg.
func Opener(cfg Config) camera.Opener {
	return func() (camera.Device, error) {
		return Open(cfg)
	}
}

func jpegQuality(q int) int {
	if q <= 0 || q > 100 {
		return DefaultJPEGQuality
	}
	return q
}

// ReadJPEG implements camera.Device.
func (d *Device) ReadJPEG() ([]byte, error) {
	if ok := d.capture.Read(&d.mat); !ok {
		return nil, errors.New("gocvcam: cannot read frame")
	}
	if d.mat.Empty() {
		return nil, errors.New("gocvcam: frame is empty")
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, d.mat, []int{gocv.IMWriteJpegQuality, d.quality})
	if err != nil {
		return nil, fmt.Errorf("gocvcam: encode jpeg: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// Close implements camera.Device.
func (d *Device) Close() error {
	d.mat.Close()
	return d.capture.Close()
}
