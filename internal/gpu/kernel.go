package gpu

import "github.com/chewxy/math32"

// Value returns the smoothed escape iteration count at plane location
// (x, y), in [0, Iterations]. Points that never escape return Iterations.
// Arithmetic is float32 to match the shader.
func (k *Kernel) Value(x, y float32) float32 {
	var zx, zy, cx, cy float32
	if k.Julia {
		zx, zy = x, y
		cx, cy = real(k.Seed), imag(k.Seed)
	} else {
		cx, cy = x, y
	}

	px, py := zx, zy
	n := uint32(0)
	for n < k.Iterations {
		if zx*zx+zy*zy > k.RadiusSquared {
			break
		}
		px, py = zx, zy
		zx, zy = zx*zx-zy*zy+cx, 2*zx*zy+cy
		n++
	}
	if n < k.Iterations {
		return k.smooth(n, zx, zy, px, py)
	}
	return float32(n)
}

func (k *Kernel) smooth(n uint32, zx, zy, px, py float32) float32 {
	count := float32(n)
	switch k.Smoothing {
	case SmoothLogarithmicDistance:
		return count - math32.Log(math32.Log(zx*zx+zy*zy))/k.LogDivisor + k.LogAddend
	case SmoothLinearIntersection:
		return count - linearIntersection(zx, zy, px, py, k.RadiusSquared)
	default:
		return count
	}
}

// linearIntersection returns how far past the escape circle the segment
// from (ax, ay) to (bx, by) ends, as a fraction of the segment.
func linearIntersection(bx, by, ax, ay, r2 float32) float32 {
	if bx == ax && by == ay {
		return 0
	}
	if ax*ax+ay*ay > r2 || bx*bx+by*by < r2 {
		return 0
	}
	dx, dy := bx-ax, by-ay

	if math32.Abs(dx) > math32.Abs(dy) {
		m := dy / dx
		m2 := m*m + 1
		p := m*ax - ay
		root := math32.Sqrt(r2*m2 - p*p)
		hit := (m*p - root) / m2
		if bx > ax {
			hit = (m*p + root) / m2
		}
		return (bx - hit) / dx
	}

	m := dx / dy
	m2 := m*m + 1
	p := m*ay - ax
	root := math32.Sqrt(r2*m2 - p*p)
	hit := (m*p - root) / m2
	if by > ay {
		hit = (m*p + root) / m2
	}
	return (by - hit) / dy
}

// Color maps a smoothed value to RGBA8 using the HSB palette of the
// bundled shader. Values at the iteration limit are opaque black.
func (k *Kernel) Color(v float32) [4]uint8 {
	if v >= float32(k.Iterations) {
		return [4]uint8{0, 0, 0, 255}
	}
	hue := math32.Mod(v*3.3/256, 1)
	brightness := math32.Mod(v*16/256, 1)
	r, g, b := hsbToRGB(hue, 1, brightness)
	return [4]uint8{unitToByte(r), unitToByte(g), unitToByte(b), 255}
}

func hsbToRGB(hue, saturation, brightness float32) (r, g, b float32) {
	if saturation == 0 {
		return brightness, brightness, brightness
	}
	sector := math32.Mod(hue, 1) * 6
	offset := sector - math32.Floor(sector)
	off := brightness * (1 - saturation)
	fadeOut := brightness * (1 - saturation*offset)
	fadeIn := brightness * (1 - saturation*(1-offset))

	switch {
	case sector < 1:
		return brightness, fadeIn, off
	case sector < 2:
		return fadeOut, brightness, off
	case sector < 3:
		return off, brightness, fadeIn
	case sector < 4:
		return off, fadeOut, brightness
	case sector < 5:
		return fadeIn, off, brightness
	default:
		return brightness, off, fadeOut
	}
}

func unitToByte(v float32) uint8 {
	return uint8(min(max(v, 0), 1)*255 + 0.5)
}
