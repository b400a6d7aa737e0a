package markup

import (
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-podcast/internal/script"
)

func newFormatter(t *testing.T, mutate func(*Config)) *Formatter {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	f, err := NewFormatter(cfg)
	require.NoError(t, err)
	return f
}

func TestFormatTurnEscapesAndWrapsProsody(t *testing.T) {
	f := newFormatter(t, nil)
	turn := script.MustTurn(script.SpeakerAlex, `Tom & Jerry <3 "quotes"`, script.WithEmotion(script.EmotionExcited))
	got := f.FormatTurn(turn)
	assert.Equal(t, `<prosody rate="medium" pitch="+10%">Tom &amp; Jerry &lt;3 &quot;quotes&quot;</prosody>`, got)
}

func TestFormatTurnEmphasis(t *testing.T) {
	f := newFormatter(t, nil)
	turn := script.MustTurn(script.SpeakerSam, "Goroutines are the important bit", script.WithEmphasis("Goroutines"))
	got := f.FormatTurn(turn)
	assert.Contains(t, got, `<emphasis level="moderate">Goroutines</emphasis>`)
	assert.Contains(t, got, `<emphasis level="moderate">important</emphasis>`)

	// explicit words that are also auto words are wrapped once
	twice := f.FormatTurn(script.MustTurn(script.SpeakerSam, "the key point", script.WithEmphasis("key")))
	assert.Equal(t, 1, strings.Count(twice, "<emphasis"))

	// words containing an auto word are left alone
	plain := f.FormatTurn(script.MustTurn(script.SpeakerSam, "monkey business"))
	assert.NotContains(t, plain, "<emphasis")
}

func TestFormatTurnInsertsNaturalPauses(t *testing.T) {
	f := newFormatter(t, nil)
	turn := script.MustTurn(script.SpeakerAlex, "Hello there. Well, wait... really? Yes")
	got := f.FormatTurn(turn)
	assert.Equal(t,
		`<prosody rate="medium" pitch="+0%">Hello there.<break time="400ms"/> Well,<break time="200ms"/> wait...<break time="800ms"/> really?<break time="400ms"/> Yes</prosody>`,
		got)
}

func TestPlainDialectSkipsMarkup(t *testing.T) {
	f := newFormatter(t, func(c *Config) { c.Dialect = DialectPlain })
	turn := script.MustTurn(script.SpeakerAlex, "A & B. The key thing")
	assert.Equal(t, "A & B. The key thing", f.FormatTurn(turn))
}

func TestRatesAndVoicesFollowConfig(t *testing.T) {
	f := newFormatter(t, func(c *Config) {
		c.Rates[script.SpeakerSam] = "fast"
		c.Voices = map[script.Speaker]string{script.SpeakerSam: "Ruth"}
	})
	assert.Contains(t, f.FormatTurn(script.MustTurn(script.SpeakerSam, "hi")), `rate="fast"`)
	assert.Equal(t, "Ruth", f.Voice(script.SpeakerSam))
	assert.Equal(t, "Matthew", f.Voice(script.SpeakerAlex))
}

func scenarioEpisode() *script.Episode {
	intro := script.SegmentIntro
	outro := script.SegmentOutro
	return script.NewEpisode("Scenario", 1, 1, "", []string{"x"},
		script.NewSegment("", intro,
			script.MustTurn(script.SpeakerAlex, "Welcome to the show where we talk about concurrency in Go today.", script.WithSegmentType(intro)),
			script.MustTurn(script.SpeakerSam, "Thanks Alex, I am excited to learn about goroutines and channels.", script.WithSegmentType(intro)),
		),
		script.NewSegment("", script.SegmentDiscussion,
			script.MustTurn(script.SpeakerAlex, "Goroutines are lightweight threads managed by the runtime scheduler."),
			script.MustTurn(script.SpeakerSam, "So how do they talk to each other without sharing memory directly?"),
			script.MustTurn(script.SpeakerAlex, "They communicate over channels which pass values between goroutines safely."),
		),
		script.NewSegment("", outro,
			script.MustTurn(script.SpeakerSam, "That wraps it up for today, thanks for listening everyone.", script.WithSegmentType(outro)),
		),
	)
}

func TestChunksOnePerSpeakerRun(t *testing.T) {
	f := newFormatter(t, nil)
	ep := scenarioEpisode()
	chunks := f.Chunks(ep)
	require.Len(t, chunks, 6)
	want := []script.Speaker{script.SpeakerAlex, script.SpeakerSam, script.SpeakerAlex, script.SpeakerSam, script.SpeakerAlex, script.SpeakerSam}
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, want[i], c.Speaker)
		assert.True(t, strings.HasPrefix(c.Markup, "<speak>"))
		assert.True(t, strings.HasSuffix(c.Markup, "</speak>"))
		assert.Len(t, c.OriginalTexts, 1)
	}
	assert.Equal(t, "Joanna", chunks[1].Voice)
	assert.Equal(t, 0, chunks[1].Segment)
	assert.Equal(t, 2, chunks[5].Segment)
}

func TestChunksMergeSameSpeakerWithContextPause(t *testing.T) {
	f := newFormatter(t, nil)
	ep := script.NewEpisode("merge", 1, 1, "", nil,
		script.NewSegment("", script.SegmentIntro, script.MustTurn(script.SpeakerAlex, "One.")),
		script.NewSegment("", script.SegmentDiscussion,
			script.MustTurn(script.SpeakerAlex, "Two."),
			script.MustTurn(script.SpeakerAlex, "Three."),
		),
	)
	chunks := f.Chunks(ep)
	require.Len(t, chunks, 1)
	c := chunks[0]
	assert.Equal(t, []string{"One.", "Two.", "Three."}, c.OriginalTexts)
	assert.Contains(t, c.Markup, `</prosody><break time="800ms"/><prosody`)
	assert.Contains(t, c.Markup, `</prosody><break time="250ms"/><prosody`)
}

func TestChunksRespectCeiling(t *testing.T) {
	f := newFormatter(t, func(c *Config) { c.MaxChars = 300 })
	var turns []script.Turn
	for i := 0; i < 12; i++ {
		turns = append(turns, script.MustTurn(script.SpeakerAlex, "This sentence, with a clause, is fairly ordinary. Another one follows it!"))
	}
	// a single turn far beyond the ceiling, including a word longer than the budget
	long := strings.Repeat("Remember the important detail here. ", 30) + strings.Repeat("x", 400) + " tail"
	turns = append(turns, script.MustTurn(script.SpeakerAlex, long))
	turns = append(turns, script.MustTurn(script.SpeakerSam, "short reply"))
	ep := script.NewEpisode("ceiling", 1, 1, "", nil, script.NewSegment("", script.SegmentDiscussion, turns...))

	chunks := f.Chunks(ep)
	require.Greater(t, len(chunks), 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Markup), 300, "chunk %d", c.Index)
	}

	var original, rebuilt strings.Builder
	for _, turn := range turns {
		original.WriteString(turn.Text())
	}
	for _, c := range chunks {
		for _, text := range c.OriginalTexts {
			rebuilt.WriteString(text)
		}
	}
	assert.Equal(t, original.String(), rebuilt.String())
	assert.Equal(t, script.SpeakerSam, chunks[len(chunks)-1].Speaker)
}

func TestChunksPreserveTurnSequenceWhenNothingSplits(t *testing.T) {
	f := newFormatter(t, func(c *Config) { c.MaxChars = 400 })
	ep := scenarioEpisode()
	var want, got []string
	var wantIdx, gotIdx []int
	for i, turn := range ep.AllTurns() {
		want = append(want, turn.Text())
		wantIdx = append(wantIdx, i)
	}
	for _, c := range f.Chunks(ep) {
		got = append(got, c.OriginalTexts...)
		gotIdx = append(gotIdx, c.TurnIndexes...)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, wantIdx, gotIdx)
}

func TestNewFormatterRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dialect = "xml"
	_, err := NewFormatter(cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.MaxChars = 10
	_, err = NewFormatter(cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.MaxChars = cfg.MinChars() - 1
	_, err = NewFormatter(cfg)
	require.Error(t, err)

	cfg.Dialect = DialectPlain
	cfg.MaxChars = 1
	_, err = NewFormatter(cfg)
	require.NoError(t, err)
}

func TestChunksHoldCeilingAtMinimum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rates[script.SpeakerSam] = "x-slow"
	floor := cfg.MinChars()
	f := newFormatter(t, func(c *Config) {
		c.Rates[script.SpeakerSam] = "x-slow"
		c.MaxChars = floor
	})

	turns := []script.Turn{
		script.MustTurn(script.SpeakerSam, `Wait… what "exactly" & why? Rare`, script.WithEmotion(script.EmotionSurprised), script.WithEmphasis("a", "R")),
		script.MustTurn(script.SpeakerAlex, "remember"+strings.Repeat("y", 80)+"'<>", script.WithEmotion(script.EmotionContemplative)),
	}
	ep := script.NewEpisode("floor", 1, 1, "", nil, script.NewSegment("", script.SegmentDiscussion, turns...))

	chunks := f.Chunks(ep)
	require.NotEmpty(t, chunks)
	byTurn := make([]strings.Builder, len(turns))
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Markup), floor, "chunk %d: %s", c.Index, c.Markup)
		require.Len(t, c.TurnIndexes, len(c.OriginalTexts))
		for i, text := range c.OriginalTexts {
			byTurn[c.TurnIndexes[i]].WriteString(text)
		}
	}
	for i, turn := range turns {
		assert.Equal(t, turn.Text(), byTurn[i].String())
	}
}

var srtTiming = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2}),(\d{3}) --> (\d{2}):(\d{2}):(\d{2}),(\d{3})$`)

func TestSRTTranscriptBlocks(t *testing.T) {
	ep := script.NewEpisode("Three", 1, 1, "", nil,
		script.NewSegment("", script.SegmentIntro,
			script.MustTurn(script.SpeakerAlex, "First line here."),
			script.MustTurn(script.SpeakerSam, "Second line is a bit longer than the first."),
		),
		script.NewSegment("", script.SegmentOutro, script.MustTurn(script.SpeakerAlex, "Bye.")),
	)
	out, err := Transcript(ep, TranscriptSRT)
	require.NoError(t, err)

	blocks := strings.Split(strings.TrimSpace(out), "\n\n")
	require.Len(t, blocks, 3)

	var prevEnd string
	var prevStart string
	for i, block := range blocks {
		lines := strings.Split(block, "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, []string{"1", "2", "3"}[i], lines[0])
		m := srtTiming.FindStringSubmatch(lines[1])
		require.NotNil(t, m, lines[1])
		start, end := strings.Split(lines[1], " --> ")[0], strings.Split(lines[1], " --> ")[1]
		if i == 0 {
			assert.Equal(t, "00:00:00,000", start)
		} else {
			assert.Greater(t, start, prevStart)
			assert.GreaterOrEqual(t, start, prevEnd)
		}
		assert.Greater(t, end, start)
		prevStart, prevEnd = start, end
	}
	assert.True(t, strings.HasPrefix(strings.Split(blocks[1], "\n")[2], "[Sam] "))
	// 3 words / 2.5 + 0.8s of pauses
	assert.Equal(t, "00:00:00,000 --> 00:00:02,000", strings.Split(blocks[0], "\n")[1])
}

func TestMarkdownAndPlainTranscripts(t *testing.T) {
	ep := scenarioEpisode()
	md, err := Transcript(ep, TranscriptMarkdown)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(md, "# Scenario\n"))
	assert.Contains(t, md, "## Introduction")
	assert.Contains(t, md, "**Alex:** Welcome to the show")
	assert.Contains(t, md, "*Estimated duration:")

	plain, err := Transcript(ep, TranscriptPlain)
	require.NoError(t, err)
	assert.Contains(t, plain, "SCENARIO\n========\n")
	assert.Contains(t, plain, "[MAIN DISCUSSION]")
	assert.Contains(t, plain, "Sam: Thanks Alex")

	_, err = Transcript(ep, "pdf")
	require.Error(t, err)

	format, err := ParseTranscriptFormat("SRT")
	require.NoError(t, err)
	assert.Equal(t, TranscriptSRT, format)
}
