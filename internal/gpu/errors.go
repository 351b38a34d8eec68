package gpu

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("gpu: device closed")

	// ErrNoAdapter is returned when no usable GPU adapter exists.
	ErrNoAdapter = errors.New("gpu: no adapter available")

	// ErrForeignProgram is returned when a program is used with a device
	// that did not create it.
	ErrForeignProgram = errors.New("gpu: program belongs to another device")
)

// DeviceError reports a failure inside the GPU backend.
//
// Lost is true for conditions after which the device and every program
// created on it must be considered unusable: adapter loss, out of memory,
// or a failed submission. Shader rejection by the backend compiler leaves
// the device usable and has Lost false.
type DeviceError struct {
	Op   string
	Lost bool
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Lost {
		return fmt.Sprintf("gpu: %s (device lost): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gpu: %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsLost reports whether err contains a DeviceError with Lost set.
func IsLost(err error) bool {
	var de *DeviceError
	return errors.As(err, &de) && de.Lost
}

func lost(op string, err error) error {
	return &DeviceError{Op: op, Lost: true, Err: err}
}
