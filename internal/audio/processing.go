package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
)

type processingStitcher struct {
	cfg    Config
	codec  Codec
	logger *slog.Logger
}

func newProcessingStitcher(cfg Config, codec Codec, logger *slog.Logger) *processingStitcher {
	return &processingStitcher{cfg: cfg, codec: codec, logger: logger}
}

func (s *processingStitcher) Mode() Mode     { return ModeProcessing }
func (s *processingStitcher) Format() Format { return s.cfg.Format }

func (s *processingStitcher) decode(data []byte) ([]int, error) {
	buf, err := s.codec.Decode(data)
	if err != nil {
		return nil, err
	}
	return toMono16(buf, s.cfg.SampleRate), nil
}

// chunkSamples decodes a chunk. Placeholder chunks without audio render as
// silence of their declared duration.
func (s *processingStitcher) chunkSamples(c Chunk) ([]int, error) {
	if len(c.Audio) == 0 {
		if c.DurationMS <= 0 {
			return nil, errors.New("empty chunk")
		}
		return make([]int, samplesFor(time.Duration(c.DurationMS)*time.Millisecond, s.cfg.SampleRate)), nil
	}
	return s.decode(c.Audio)
}

func (s *processingStitcher) Stitch(chunks []Chunk) (Result, error) {
	if len(chunks) == 0 {
		return Result{}, ErrNoChunks
	}
	rate := s.cfg.SampleRate
	fade := samplesFor(s.cfg.Crossfade, rate)
	res := Result{Format: s.cfg.Format, Mode: ModeProcessing}

	var (
		out  []int
		prev *Chunk
	)
	for _, c := range sortedChunks(chunks) {
		pcm, err := s.chunkSamples(c)
		if err != nil {
			s.logger.Warn("skipping undecodable chunk", slog.Int("index", c.Index), slogError(err))
			res.Skipped = append(res.Skipped, SkippedChunk{Index: c.Index, Reason: err.Error()})
			continue
		}
		if prev != nil {
			pause := s.cfg.Pauses.Between(prev.position(), c.position())
			if gap := samplesFor(pause, rate); gap > 0 {
				fadeOut(out, fade)
				fadeIn(pcm, fade)
				out = append(out, make([]int, gap)...)
				res.PauseMS += msFor(gap, rate)
			} else {
				overlap := min(fade, len(out), len(pcm))
				res.OverlapMS += msFor(overlap, rate)
				res.Chunks = append(res.Chunks, ChunkTiming{Index: c.Index, OffsetMS: msFor(len(out)-overlap, rate), DurationMS: msFor(len(pcm), rate)})
				out = crossfade(out, pcm, overlap)
				cp := c
				prev = &cp
				continue
			}
		}
		res.Chunks = append(res.Chunks, ChunkTiming{Index: c.Index, OffsetMS: msFor(len(out), rate), DurationMS: msFor(len(pcm), rate)})
		out = append(out, pcm...)
		cp := c
		prev = &cp
	}
	if prev == nil {
		return res, fmt.Errorf("none of %d chunks could be decoded", len(chunks))
	}

	if s.cfg.Normalize {
		normalize(out, s.cfg.TargetDBFS)
	}
	encoded, err := s.codec.Encode(monoBuffer(out, rate))
	if err != nil {
		return res, fmt.Errorf("encode stitched audio: %w", err)
	}
	res.Audio = encoded
	res.DurationMS = msFor(len(out), rate)
	s.logger.Debug("stitched audio",
		slog.Int("chunks", len(res.Chunks)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Int("duration_ms", res.DurationMS),
		slog.String("size", humanize.Bytes(uint64(len(encoded)))))
	return res, nil
}

func (s *processingStitcher) AddIntroMusic(main, music []byte) []byte {
	m := s.cfg.Music
	return s.overlay("intro", main, music, m.IntroGainDB, m.IntroFade, m.IntroLength, false)
}

func (s *processingStitcher) AddOutroMusic(main, music []byte) []byte {
	m := s.cfg.Music
	return s.overlay("outro", main, music, m.OutroGainDB, m.OutroFade, m.OutroLength, true)
}

// overlay mixes an attenuated music bed under the start (or end) of main.
// Any failure returns main untouched.
func (s *processingStitcher) overlay(kind string, main, music []byte, gainDB float64, fade, length time.Duration, atEnd bool) (out []byte) {
	out = main
	if len(music) == 0 {
		return main
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("music overlay panicked", slog.String("kind", kind), slog.Any("panic", r))
			out = main
		}
	}()

	base, err := s.decode(main)
	if err != nil {
		s.logger.Warn("music overlay skipped", slog.String("kind", kind), slogError(err))
		return main
	}
	bed, err := s.decode(music)
	if err != nil {
		s.logger.Warn("music overlay skipped", slog.String("kind", kind), slogError(err))
		return main
	}
	n := min(len(bed), len(base))
	if length > 0 {
		n = min(n, samplesFor(length, s.cfg.SampleRate))
	}
	bed = bed[:n]
	applyGain(bed, gainDB)
	fadeSamples := samplesFor(fade, s.cfg.SampleRate)
	offset := 0
	if atEnd {
		fadeIn(bed, fadeSamples)
		offset = len(base) - len(bed)
	} else {
		fadeOut(bed, fadeSamples)
	}
	mix(base, bed, offset)

	encoded, err := s.codec.Encode(monoBuffer(base, s.cfg.SampleRate))
	if err != nil {
		s.logger.Warn("music overlay skipped", slog.String("kind", kind), slogError(err))
		return main
	}
	return encoded
}

func (s *processingStitcher) Info(data []byte) Info {
	samples, err := s.decode(data)
	if err != nil {
		s.logger.Debug("info falling back to size estimate", slogError(err))
		return estimatedInfo(data, s.cfg, ModeProcessing)
	}
	info := Info{
		DurationMS: msFor(len(samples), s.cfg.SampleRate),
		SampleRate: s.cfg.SampleRate,
		Channels:   1,
		Bytes:      len(data),
		Size:       humanize.Bytes(uint64(len(data))),
		Format:     s.cfg.Format,
		Mode:       ModeProcessing,
	}
	if level := loudness(samples); level > -200 {
		info.LoudnessDBFS = &level
	}
	return info
}

// Split cuts at the given offsets; offsets outside the stream are ignored.
func (s *processingStitcher) Split(data []byte, at []time.Duration) ([][]byte, error) {
	samples, err := s.decode(data)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	cuts := make([]int, 0, len(at))
	for _, d := range at {
		if p := samplesFor(d, s.cfg.SampleRate); p > 0 && p < len(samples) {
			cuts = append(cuts, p)
		}
	}
	sort.Ints(cuts)

	var parts [][]byte
	start := 0
	for _, cut := range append(cuts, len(samples)) {
		if cut <= start {
			continue
		}
		part := append([]int(nil), samples[start:cut]...)
		encoded, err := s.codec.Encode(monoBuffer(part, s.cfg.SampleRate))
		if err != nil {
			return nil, fmt.Errorf("split: %w", err)
		}
		parts = append(parts, encoded)
		start = cut
	}
	return parts, nil
}
