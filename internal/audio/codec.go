package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Codec converts between an encoded container and PCM sample buffers.
type Codec interface {
	Decode(data []byte) (*goaudio.IntBuffer, error)
	Encode(buf *goaudio.IntBuffer) ([]byte, error)
	Name() string
}

type wavCodec struct{}

func NewWAVCodec() Codec { return wavCodec{} }

func (wavCodec) Name() string { return "wav" }

func (wavCodec) Decode(data []byte) (*goaudio.IntBuffer, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, errors.New("not a valid wav stream")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil {
		buf.Format = &goaudio.Format{NumChannels: int(d.NumChans), SampleRate: int(d.SampleRate)}
	}
	if buf.SourceBitDepth == 0 {
		buf.SourceBitDepth = int(d.BitDepth)
	}
	return buf, nil
}

func (wavCodec) Encode(buf *goaudio.IntBuffer) ([]byte, error) {
	if buf == nil || buf.Format == nil {
		return nil, errors.New("encode wav: missing format")
	}
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = 16
	}
	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, buf.Format.SampleRate, depth, buf.Format.NumChannels, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return ws.buf, nil
}

// EncodeWAV writes mono 16-bit samples as a wav file.
func EncodeWAV(samples []int, sampleRate int) ([]byte, error) {
	return wavCodec{}.Encode(monoBuffer(samples, sampleRate))
}

// WAVFromPCM16 wraps raw little-endian mono 16-bit PCM in a wav container.
func WAVFromPCM16(raw []byte, sampleRate int) ([]byte, error) {
	return EncodeWAV(pcm16Samples(raw), sampleRate)
}

// MeasureDurationMS reads the duration from a wav header and falls back to the
// size estimate for compressed streams.
func MeasureDurationMS(data []byte, f Format, sampleRate int) int {
	if f == FormatWAV {
		if ms, ok := wavDurationMS(data); ok {
			return ms
		}
	}
	return EstimateDurationMS(len(data), f, sampleRate)
}

func wavDurationMS(data []byte) (int, bool) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if err := d.FwdToPCM(); err != nil || d.Err() != nil {
		return 0, false
	}
	frame := int(d.NumChans) * int(d.BitDepth) / 8
	if frame == 0 || d.SampleRate == 0 {
		return 0, false
	}
	return int(int64(d.PCMSize) * 1000 / (int64(d.SampleRate) * int64(frame))), true
}

func pcm16Samples(raw []byte) []int {
	samples := make([]int, len(raw)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(raw[2*i:])))
	}
	return samples
}

func monoBuffer(samples []int, sampleRate int) *goaudio.IntBuffer {
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
}

// writeSeeker is an in-memory io.WriteSeeker for the wav encoder, which
// rewrites its header sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		if end > cap(w.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, w.buf)
			w.buf = grown
		} else {
			w.buf = w.buf[:end]
		}
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(w.pos) + offset
	case io.SeekEnd:
		next = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	w.pos = int(next)
	return next, nil
}
