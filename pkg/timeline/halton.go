package timeline

// Halton returns the index-th element of the Halton sequence for base
func Halton(index, base int) float64 {
	result := 0.0
	f := 1.0 / float64(base)
	for i := index; i > 0; i /= base {
		result += f * float64(i%base)
		f /= float64(base)
	}
	return result
}

// Jitter maps a Halton sample in [0,1) onto a symmetric offset in [-variance, variance).
// The result truncates toward zero.
func Jitter(h float64, varianceMs int) int {
	v := float64(varianceMs)
	return int(h*v*2 - v)
}
