package audio

import (
	"math"
	"time"

	goaudio "github.com/go-audio/audio"
)

func clamp16(s int) int {
	switch {
	case s > math.MaxInt16:
		return math.MaxInt16
	case s < math.MinInt16:
		return math.MinInt16
	}
	return s
}

func samplesFor(d time.Duration, rate int) int {
	return int(d.Milliseconds() * int64(rate) / 1000)
}

func msFor(samples, rate int) int {
	if rate <= 0 {
		return 0
	}
	return int(int64(samples) * 1000 / int64(rate))
}

// toMono16 downmixes to one channel, rescales to 16-bit and resamples to rate.
func toMono16(buf *goaudio.IntBuffer, rate int) []int {
	channels := 1
	srcRate := rate
	if buf.Format != nil {
		if buf.Format.NumChannels > 0 {
			channels = buf.Format.NumChannels
		}
		if buf.Format.SampleRate > 0 {
			srcRate = buf.Format.SampleRate
		}
	}
	shift := buf.SourceBitDepth - 16

	frames := len(buf.Data) / channels
	mono := make([]int, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for ch := 0; ch < channels; ch++ {
			sum += buf.Data[i*channels+ch]
		}
		s := sum / channels
		switch {
		case buf.SourceBitDepth == 8:
			s = (s - 128) << 8
		case shift > 0:
			s >>= shift
		case shift < 0 && buf.SourceBitDepth > 0:
			s <<= -shift
		}
		mono[i] = clamp16(s)
	}
	if srcRate == rate {
		return mono
	}
	return resample(mono, srcRate, rate)
}

func resample(in []int, from, to int) []int {
	if len(in) == 0 || from <= 0 || to <= 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]int, n)
	ratio := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int(float64(in[j])*(1-frac) + float64(in[j+1])*frac)
	}
	return out
}

func fadeIn(samples []int, n int) {
	if n > len(samples) {
		n = len(samples)
	}
	for i := 0; i < n; i++ {
		samples[i] = samples[i] * i / n
	}
}

func fadeOut(samples []int, n int) {
	if n > len(samples) {
		n = len(samples)
	}
	start := len(samples) - n
	for i := 0; i < n; i++ {
		samples[start+i] = samples[start+i] * (n - i) / n
	}
}

// crossfade overlaps the last n samples of a with the first n of b.
func crossfade(a, b []int, n int) []int {
	start := len(a) - n
	for i := 0; i < n; i++ {
		a[start+i] = clamp16((a[start+i]*(n-i) + b[i]*i) / n)
	}
	return append(a, b[n:]...)
}

func applyGain(samples []int, db float64) {
	factor := math.Pow(10, db/20)
	for i, s := range samples {
		samples[i] = clamp16(int(math.Round(float64(s) * factor)))
	}
}

// loudness returns the RMS level in dBFS, -Inf for silence.
func loudness(samples []int) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum/float64(len(samples))) / 32768
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}

// normalize brings the RMS level to target without clipping peaks.
func normalize(samples []int, targetDBFS float64) {
	level := loudness(samples)
	if math.IsInf(level, -1) {
		return
	}
	peak := 0
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	gain := targetDBFS - level
	if headroom := 20 * math.Log10(float64(math.MaxInt16)/float64(peak)); gain > headroom {
		gain = headroom
	}
	applyGain(samples, gain)
}

// mix adds overlay into base starting at offset.
func mix(base, overlay []int, offset int) {
	for i, s := range overlay {
		j := offset + i
		if j < 0 || j >= len(base) {
			continue
		}
		base[j] = clamp16(base[j] + s)
	}
}
