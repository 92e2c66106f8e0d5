package timeline

import "math"

// Multiplier returns sin(percent*pi*rad) clamped to [0, 1]
func Multiplier(percent, rad float64) float64 {
	m := math.Sin(percent * math.Pi * rad)
	if m < 0 {
		return 0
	}
	if m > 1 {
		return 1
	}
	return m
}

// RoundToNearest rounds n to the nearest multiple of nearest, half away from zero
func RoundToNearest(n, nearest float64) float64 {
	if nearest <= 0 {
		return n
	}
	return math.Round(n/nearest) * nearest
}

// Round2 rounds to two decimal places
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Lerp interpolates between from and to
func Lerp(from, to, t float64) float64 {
	return t*(to-from) + from
}

// PhasePercent is the position of step inside a repeating phase of the given length in beats
func PhasePercent(step, phase int) float64 {
	if phase <= 0 {
		return 0
	}
	return float64(step%phase) / float64(phase)
}

// GainAt returns the envelope gain at percent, floored at the lower gain bound
func GainAt(inst Instrument, percent float64) float64 {
	m := Multiplier(percent, 1)
	floor := math.Min(inst.FromGain, inst.ToGain)
	return math.Max(floor, Round2(Lerp(inst.FromGain, inst.ToGain, m)))
}

// BeatMsAt returns the beat length at percent, rounded to roundTo milliseconds
func BeatMsAt(inst Instrument, percent, rad float64, roundTo int) int {
	m := Multiplier(percent, rad)
	ms := Lerp(float64(inst.FromBeatMs), float64(inst.ToBeatMs), m)
	return int(RoundToNearest(ms, float64(roundTo)))
}
