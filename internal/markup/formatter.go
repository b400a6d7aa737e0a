package markup

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-podcast/internal/script"
)

// Dialect selects the markup flavour sent to the speech provider.
type Dialect string

const (
	DialectSSML  Dialect = "ssml"
	DialectPlain Dialect = "plain"
)

const (
	speakOpen     = "<speak>"
	speakClose    = "</speak>"
	emphasisOpen  = `<emphasis level="moderate">`
	emphasisClose = `</emphasis>`
	// longest escape the replacer produces for one character
	maxEscapeLen = len("&apos;")
)

type Config struct {
	Dialect       Dialect
	MaxChars      int
	SentencePause time.Duration
	ClausePause   time.Duration
	EllipsisPause time.Duration
	Rates         map[script.Speaker]string
	Voices        map[script.Speaker]string
	Pauses        script.PausePolicy
}

func DefaultConfig() Config {
	return Config{
		Dialect:       DialectSSML,
		MaxChars:      2900,
		SentencePause: 400 * time.Millisecond,
		ClausePause:   200 * time.Millisecond,
		EllipsisPause: 800 * time.Millisecond,
		Rates: map[script.Speaker]string{
			script.SpeakerAlex: "medium",
			script.SpeakerSam:  "medium",
		},
		Pauses: script.DefaultPausePolicy(),
	}
}

var autoEmphasis = []string{
	"key", "important", "crucial", "essential", "main", "primary",
	"always", "never", "must", "should",
	"first", "second", "third", "finally",
	"exactly",
	"remember", "note", "notice",
}

var (
	pausePattern   = regexp.MustCompile(`(\.{3}|…)|([.!?])\s+|([,;:])\s+`)
	sentenceBreaks = regexp.MustCompile(`[.!?…]+\s+`)
	wordBreaks     = regexp.MustCompile(`\s+`)
	autoPattern    = compileEmphasis(nil)
)

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// MinChars is the smallest ceiling that still fits any single character of a
// turn once it is wrapped in markup. Below it a turn could not be split small
// enough.
func (c Config) MinChars() int {
	if c.Dialect == DialectPlain {
		return 1
	}
	rateLen := 0
	for _, sp := range script.Speakers() {
		rate := c.Rates[sp]
		if rate == "" {
			rate = "medium"
		}
		rateLen = max(rateLen, len(rate))
	}
	pitchLen := 0
	for _, e := range script.Emotions() {
		pitchLen = max(pitchLen, len(e.Pitch()))
	}
	envelope := len(`<prosody rate="" pitch="">`) + rateLen + pitchLen + len(`</prosody>`)
	unit := max(
		len(emphasisOpen)+maxEscapeLen+len(emphasisClose),
		1+len(breakTag(c.EllipsisPause)),
	)
	return len(speakOpen) + len(speakClose) + envelope + unit
}

// Chunk is a single-voice unit of markup sent to the provider in one call.
// OriginalTexts has one entry per turn, or per fragment when a turn was too
// long for one request; TurnIndexes holds the episode-wide turn each entry
// came from.
type Chunk struct {
	Index         int            `json:"index"`
	Speaker       script.Speaker `json:"speaker"`
	Voice         string         `json:"voice"`
	Segment       int            `json:"segment"`
	Markup        string         `json:"markup"`
	Dialect       Dialect        `json:"dialect"`
	OriginalTexts []string       `json:"original_texts"`
	TurnIndexes   []int          `json:"turn_indexes"`
}

func (c Chunk) Text() string { return strings.Join(c.OriginalTexts, " ") }

func (c Chunk) WordCount() int {
	var n int
	for _, t := range c.OriginalTexts {
		n += len(strings.Fields(t))
	}
	return n
}

// Excerpt returns the first few words for diagnostics.
func (c Chunk) Excerpt() string {
	fields := strings.Fields(c.Text())
	if len(fields) > 12 {
		return strings.Join(fields[:12], " ") + "…"
	}
	return strings.Join(fields, " ")
}

type Formatter struct {
	cfg Config
}

func NewFormatter(cfg Config) (*Formatter, error) {
	switch cfg.Dialect {
	case DialectSSML, DialectPlain:
	case "":
		cfg.Dialect = DialectSSML
	default:
		return nil, fmt.Errorf("unknown markup dialect %q", cfg.Dialect)
	}
	if floor := cfg.MinChars(); cfg.MaxChars < floor {
		return nil, fmt.Errorf("max chars %d too small, need at least %d", cfg.MaxChars, floor)
	}
	return &Formatter{cfg: cfg}, nil
}

func (f *Formatter) Config() Config { return f.cfg }

// Voice resolves the provider voice for a speaker.
func (f *Formatter) Voice(sp script.Speaker) string {
	if v := f.cfg.Voices[sp]; v != "" {
		return v
	}
	return sp.DefaultVoice()
}

func (f *Formatter) rate(sp script.Speaker) string {
	if r := f.cfg.Rates[sp]; r != "" {
		return r
	}
	return "medium"
}

// FormatTurn renders one turn body without the <speak> wrapper.
func (f *Formatter) FormatTurn(t script.Turn) string {
	return f.formatText(t, t.Text())
}

func (f *Formatter) formatText(t script.Turn, text string) string {
	if f.cfg.Dialect == DialectPlain {
		return text
	}
	re := autoPattern
	if words := t.Emphasis(); len(words) > 0 {
		re = compileEmphasis(words)
	}
	return fmt.Sprintf(`<prosody rate="%s" pitch="%s">%s</prosody>`,
		f.rate(t.Speaker()), t.Emotion().Pitch(), f.decorate(text, re))
}

// decorate escapes text and injects emphasis and natural pause breaks.
func (f *Formatter) decorate(text string, emphasis *regexp.Regexp) string {
	var b strings.Builder
	last := 0
	for _, m := range pausePattern.FindAllStringSubmatchIndex(text, -1) {
		b.WriteString(emphasize(text[last:m[0]], emphasis))
		switch {
		case m[2] >= 0:
			b.WriteString(text[m[2]:m[3]])
			b.WriteString(breakTag(f.cfg.EllipsisPause))
		case m[4] >= 0:
			b.WriteString(text[m[4]:m[5]])
			b.WriteString(breakTag(f.cfg.SentencePause))
			b.WriteByte(' ')
		case m[6] >= 0:
			b.WriteString(text[m[6]:m[7]])
			b.WriteString(breakTag(f.cfg.ClausePause))
			b.WriteByte(' ')
		}
		last = m[1]
	}
	b.WriteString(emphasize(text[last:], emphasis))
	return b.String()
}

func emphasize(text string, re *regexp.Regexp) string {
	var b strings.Builder
	last := 0
	for _, m := range re.FindAllStringIndex(text, -1) {
		b.WriteString(escaper.Replace(text[last:m[0]]))
		b.WriteString(emphasisOpen)
		b.WriteString(escaper.Replace(text[m[0]:m[1]]))
		b.WriteString(emphasisClose)
		last = m[1]
	}
	b.WriteString(escaper.Replace(text[last:]))
	return b.String()
}

func compileEmphasis(explicit []string) *regexp.Regexp {
	alts := make([]string, 0, len(explicit)+len(autoEmphasis))
	for _, w := range explicit {
		alts = append(alts, regexp.QuoteMeta(w))
	}
	alts = append(alts, autoEmphasis...)
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
}

func breakTag(d time.Duration) string {
	return fmt.Sprintf(`<break time="%dms"/>`, d.Milliseconds())
}

// PauseBefore is the context dependent pause ahead of next.
func (f *Formatter) PauseBefore(prev, next script.Position) time.Duration {
	return f.cfg.Pauses.Between(prev, next)
}

func (f *Formatter) separator(pause time.Duration) string {
	if f.cfg.Dialect == DialectPlain {
		return " "
	}
	return breakTag(pause)
}

func (f *Formatter) wrap(body string) string {
	if f.cfg.Dialect == DialectPlain {
		return body
	}
	return speakOpen + body + speakClose
}

func (f *Formatter) wrapperLen() int {
	if f.cfg.Dialect == DialectPlain {
		return 0
	}
	return len(speakOpen) + len(speakClose)
}

func charLen(s string) int { return utf8.RuneCountInString(s) }

type piece struct {
	text string
	body string
}

// split breaks a turn whose markup would not fit in one request. The pieces
// concatenate back to the original text.
func (f *Formatter) split(t script.Turn, budget int) []piece {
	whole := f.formatText(t, t.Text())
	if charLen(whole) <= budget {
		return []piece{{text: t.Text(), body: whole}}
	}
	texts := f.pack(t, splitAfter(t.Text(), sentenceBreaks), budget, 0)
	pieces := make([]piece, 0, len(texts))
	for _, text := range texts {
		pieces = append(pieces, piece{text: text, body: f.formatText(t, text)})
	}
	return pieces
}

func (f *Formatter) pack(t script.Turn, units []string, budget, level int) []string {
	fits := func(s string) bool { return charLen(f.formatText(t, s)) <= budget }
	var out []string
	cur := ""
	for _, u := range units {
		if cur != "" && fits(cur+u) {
			cur += u
			continue
		}
		if cur != "" {
			out = append(out, cur)
			cur = ""
		}
		if fits(u) {
			cur = u
			continue
		}
		switch level {
		case 0:
			out = append(out, f.pack(t, splitAfter(u, wordBreaks), budget, 1)...)
		case 1:
			out = append(out, f.pack(t, splitRunes(u), budget, 2)...)
		default:
			// a single character; NewFormatter keeps the ceiling above it
			out = append(out, u)
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func splitAfter(s string, re *regexp.Regexp) []string {
	var out []string
	last := 0
	for _, m := range re.FindAllStringIndex(s, -1) {
		if m[1] > last {
			out = append(out, s[last:m[1]])
			last = m[1]
		}
	}
	if last < len(s) {
		out = append(out, s[last:])
	}
	return out
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

type builder struct {
	chunk  Chunk
	parts  []string
	length int
	last   script.Position
}

// Chunks groups the episode's turns into provider requests. A chunk never
// mixes speakers and its markup never exceeds the configured ceiling.
func (f *Formatter) Chunks(ep *script.Episode) []Chunk {
	budget := f.cfg.MaxChars - f.wrapperLen()
	var (
		chunks []Chunk
		cur    *builder
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.chunk.Index = len(chunks)
		cur.chunk.Markup = f.wrap(strings.Join(cur.parts, ""))
		chunks = append(chunks, cur.chunk)
		cur = nil
	}

	turnIdx := -1
	for si, seg := range ep.Segments {
		for _, turn := range seg.Turns() {
			turnIdx++
			pos := script.Position{Speaker: turn.Speaker(), Segment: si}
			for _, p := range f.split(turn, budget) {
				if cur != nil && cur.chunk.Speaker == pos.Speaker {
					sep := f.separator(f.PauseBefore(cur.last, pos))
					if add := charLen(sep) + charLen(p.body); cur.length+add <= budget {
						cur.parts = append(cur.parts, sep, p.body)
						cur.length += add
						cur.chunk.OriginalTexts = append(cur.chunk.OriginalTexts, p.text)
						cur.chunk.TurnIndexes = append(cur.chunk.TurnIndexes, turnIdx)
						cur.last = pos
						continue
					}
				}
				flush()
				cur = &builder{
					chunk: Chunk{
						Speaker:       pos.Speaker,
						Voice:         f.Voice(pos.Speaker),
						Segment:       si,
						Dialect:       f.cfg.Dialect,
						OriginalTexts: []string{p.text},
						TurnIndexes:   []int{turnIdx},
					},
					parts:  []string{p.body},
					length: charLen(p.body),
					last:   pos,
				}
			}
		}
	}
	flush()
	return chunks
}
