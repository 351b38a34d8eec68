package fractal

import (
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/fractal/internal/gpu"
)

// Device runs compiled fractal programs one tile at a time.
type Device = gpu.Device

// DeviceError reports a failure inside the GPU backend. Lost is set when
// the device can no longer be used.
type DeviceError = gpu.DeviceError

// HALDevice is a Device backed by a gogpu/wgpu HAL compute pipeline.
type HALDevice = gpu.HALDevice

// SoftwareDevice is a Device that evaluates programs on the CPU.
type SoftwareDevice = gpu.SoftwareDevice

// ErrNoAdapter is returned by OpenGPU when no usable adapter exists.
var ErrNoAdapter = gpu.ErrNoAdapter

// OpenGPU opens a Vulkan adapter and returns it as a Device.
func OpenGPU() (*HALDevice, error) {
	return gpu.OpenHALDevice()
}

// NewDeviceFromProvider uses the device and queue of a collaborator that
// owns adapter selection, such as a windowing toolkit. Closing the
// returned device does not close the provider's device.
func NewDeviceFromProvider(p gpucontext.DeviceProvider) (*HALDevice, error) {
	return gpu.NewHALDeviceFromProvider(p)
}

// NewSoftwareDevice returns a CPU device evaluating the same kernels in
// float32. maxTileDim <= 0 and workers <= 0 select defaults.
func NewSoftwareDevice(maxTileDim, workers int) *SoftwareDevice {
	return gpu.NewSoftwareDevice(maxTileDim, workers)
}

// OpenDevice opens a GPU adapter, falling back to a software device when
// none is available. The second result reports whether the GPU is used.
func OpenDevice() (Device, bool) {
	dev, err := gpu.OpenHALDevice()
	if err != nil {
		Logger().Warn("no GPU adapter, rendering on the CPU", "err", err)
		return gpu.NewSoftwareDevice(0, 0), false
	}
	return dev, true
}

// IsDeviceLost reports whether err is a DeviceError with Lost set.
func IsDeviceLost(err error) bool {
	return gpu.IsLost(err)
}
