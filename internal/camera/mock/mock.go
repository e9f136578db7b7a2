// Package mock provides a test double for the camera.Device interface.
package mock

import (
	"sync"

	"github.com/MrWong99/glyphlens/internal/camera"
)

// Device is a mock implementation of camera.Device.
type Device struct {
	mu sync.Mutex

	// ReadFunc, if set, takes precedence over Frames / Err.
	ReadFunc func(n int) ([]byte, error)

	// Frames are returned in order; the last one repeats once exhausted.
	Frames [][]byte

	// Err, if non-nil, is returned by every read.
	Err error

	// CloseErr is returned by Close.
	CloseErr error

	reads  int
	closes int
}

// Compile-time interface assertion.
var _ camera.Device = (*Device)(nil)

// ReadJPEG returns the next configured frame.
func (d *Device) ReadJPEG() ([]byte, error) {
	d.mu.Lock()
	n := d.reads
	d.reads++
	fn, frames, err := d.ReadFunc, d.Frames, d.Err
	d.mu.Unlock()

	if fn != nil {
		return fn(n)
	}
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, nil
	}
	f := frames[min(n, len(frames)-1)]
	return append([]byte(nil), f...), nil
}

// Close records the call.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return d.CloseErr
}

// Reads returns the number of ReadJPEG calls. Thread-safe.
func (d *Device) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Closes returns the number of Close calls. Thread-safe.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}
