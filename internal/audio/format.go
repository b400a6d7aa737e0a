package audio

import (
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-podcast/internal/script"
)

type Format string

const (
	FormatMP3 Format = "mp3"
	FormatWAV Format = "wav"
)

// MP3BytesPerSecond matches the 48 kbps mono encoding used for spoken word.
const MP3BytesPerSecond = 6000

const wavHeaderSize = 44

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatMP3, FormatWAV:
		return f, nil
	}
	return "", fmt.Errorf("unsupported audio format %q", s)
}

func (f Format) ContentType() string {
	if f == FormatWAV {
		return "audio/wav"
	}
	return "audio/mpeg"
}

func (f Format) Extension() string { return string(f) }

// BytesPerSecond is the nominal data rate of a mono 16-bit stream.
func (f Format) BytesPerSecond(sampleRate int) int {
	if f == FormatWAV && sampleRate > 0 {
		return sampleRate * 2
	}
	return MP3BytesPerSecond
}

// EstimateDurationMS derives a duration from the encoded size without decoding.
func EstimateDurationMS(size int, f Format, sampleRate int) int {
	if f == FormatWAV && size > wavHeaderSize {
		size -= wavHeaderSize
	}
	if size <= 0 {
		return 0
	}
	return int(int64(size) * 1000 / int64(f.BytesPerSecond(sampleRate)))
}

// Chunk is one synthesized fragment. The stitcher orders by Index, never by
// arrival.
type Chunk struct {
	Index      int            `json:"index"`
	Speaker    script.Speaker `json:"speaker"`
	Voice      string         `json:"voice"`
	Segment    int            `json:"segment"`
	Audio      []byte         `json:"-"`
	DurationMS int            `json:"duration_ms"`
	Excerpt    string         `json:"excerpt"`
	Cached     bool           `json:"cached,omitempty"`
}

func (c Chunk) position() script.Position {
	return script.Position{Speaker: c.Speaker, Segment: c.Segment}
}
