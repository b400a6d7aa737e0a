package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
)

// CommandRunner executes an external program feeding stdin and returning stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// ffmpegCodec shells out to ffmpeg for compressed formats and does all sample
// work in Go on raw s16le PCM.
type ffmpegCodec struct {
	path       string
	format     Format
	sampleRate int
	bitrate    string
	timeout    time.Duration
	runner     CommandRunner
}

func NewFFmpegCodec(path string, format Format, sampleRate int, bitrate string, runner CommandRunner) Codec {
	if runner == nil {
		runner = execRunner{}
	}
	if bitrate == "" {
		bitrate = "48k"
	}
	return &ffmpegCodec{
		path:       path,
		format:     format,
		sampleRate: sampleRate,
		bitrate:    bitrate,
		timeout:    2 * time.Minute,
		runner:     runner,
	}
}

// LookupFFmpeg resolves the ffmpeg binary, returning an error when absent.
func LookupFFmpeg(path string) (string, error) {
	if path == "" {
		path = "ffmpeg"
	}
	return exec.LookPath(path)
}

func (c *ffmpegCodec) Name() string { return "ffmpeg" }

func (c *ffmpegCodec) Decode(data []byte) (*goaudio.IntBuffer, error) {
	if len(data) == 0 {
		return nil, errors.New("empty audio")
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le", "-acodec", "pcm_s16le",
		"-ac", "1", "-ar", strconv.Itoa(c.sampleRate),
		"pipe:1",
	}
	raw, err := c.runner.Run(ctx, c.path, args, data)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w", err)
	}
	return monoBuffer(pcm16Samples(raw), c.sampleRate), nil
}

func (c *ffmpegCodec) Encode(buf *goaudio.IntBuffer) ([]byte, error) {
	if buf == nil || buf.Format == nil {
		return nil, errors.New("ffmpeg encode: missing format")
	}
	raw := make([]byte, 2*len(buf.Data))
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(int16(clamp16(s))))
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(buf.Format.SampleRate),
		"-ac", strconv.Itoa(buf.Format.NumChannels),
		"-i", "pipe:0",
	}
	switch c.format {
	case FormatMP3:
		args = append(args, "-codec:a", "libmp3lame", "-b:a", c.bitrate, "-f", "mp3")
	default:
		args = append(args, "-f", string(c.format))
	}
	args = append(args, "pipe:1")
	out, err := c.runner.Run(ctx, c.path, args, raw)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg encode: %w", err)
	}
	return out, nil
}
