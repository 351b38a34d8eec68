package composite

import (
	"errors"
	"fmt"
)

// ErrNoSamples is returned by Accumulate when given no sample buffers.
var ErrNoSamples = errors.New("composite: no samples")

// Accumulate averages equally sized RGBA8 sample buffers component by
// component. Means are rounded half up. A single sample is returned as is.
func Accumulate(samples [][]byte) ([]byte, error) {
	switch len(samples) {
	case 0:
		return nil, ErrNoSamples
	case 1:
		return samples[0], nil
	}
	size := len(samples[0])
	for i, s := range samples[1:] {
		if len(s) != size {
			return nil, fmt.Errorf("composite: sample %d has %d bytes, want %d", i+1, len(s), size)
		}
	}

	n := uint64(len(samples))
	out := make([]byte, size)
	for i := range out {
		var sum uint64
		for _, s := range samples {
			sum += uint64(s[i])
		}
		out[i] = mean(sum, n)
	}
	return out, nil
}

// mean returns sum/n rounded half up. sum must not exceed 255*n.
func mean(sum, n uint64) uint8 {
	return uint8((sum + n/2) / n)
}
