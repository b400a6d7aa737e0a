package audio

import (
	"bytes"
	"log/slog"
	"time"
)

// concatStitcher is the degraded path: raw byte concatenation with no
// silence, crossfade or normalization.
type concatStitcher struct {
	cfg    Config
	logger *slog.Logger
}

func newConcatStitcher(cfg Config, logger *slog.Logger) *concatStitcher {
	return &concatStitcher{cfg: cfg, logger: logger}
}

func (s *concatStitcher) Mode() Mode     { return ModeConcat }
func (s *concatStitcher) Format() Format { return s.cfg.Format }

func (s *concatStitcher) Stitch(chunks []Chunk) (Result, error) {
	if len(chunks) == 0 {
		return Result{}, ErrNoChunks
	}
	res := Result{Format: s.cfg.Format, Mode: ModeConcat}
	var buf bytes.Buffer
	for _, c := range sortedChunks(chunks) {
		res.Chunks = append(res.Chunks, ChunkTiming{Index: c.Index, OffsetMS: res.DurationMS, DurationMS: c.DurationMS})
		buf.Write(c.Audio)
		res.DurationMS += c.DurationMS
	}
	res.Audio = buf.Bytes()
	s.logger.Debug("stitched by concatenation", slog.Int("chunks", len(chunks)), slog.Int("bytes", buf.Len()))
	return res, nil
}

func (s *concatStitcher) AddIntroMusic(main, _ []byte) []byte {
	s.logger.Debug("music overlay skipped in concat mode")
	return main
}

func (s *concatStitcher) AddOutroMusic(main, _ []byte) []byte {
	s.logger.Debug("music overlay skipped in concat mode")
	return main
}

func (s *concatStitcher) Info(data []byte) Info {
	return estimatedInfo(data, s.cfg, ModeConcat)
}

// Split cannot cut encoded frames without decoding, so the stream comes back whole.
func (s *concatStitcher) Split(data []byte, _ []time.Duration) ([][]byte, error) {
	return [][]byte{data}, nil
}
