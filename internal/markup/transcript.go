package markup

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/script"
)

type TranscriptFormat string

const (
	TranscriptMarkdown TranscriptFormat = "markdown"
	TranscriptPlain    TranscriptFormat = "plain"
	TranscriptSRT      TranscriptFormat = "srt"
)

func ParseTranscriptFormat(s string) (TranscriptFormat, error) {
	switch TranscriptFormat(strings.ToLower(strings.TrimSpace(s))) {
	case TranscriptMarkdown, "md":
		return TranscriptMarkdown, nil
	case TranscriptPlain, "text", "txt":
		return TranscriptPlain, nil
	case TranscriptSRT, "subtitles":
		return TranscriptSRT, nil
	}
	return "", fmt.Errorf("unknown transcript format %q", s)
}

// ContentType is the MIME type for the rendered transcript.
func (f TranscriptFormat) ContentType() string {
	switch f {
	case TranscriptMarkdown:
		return "text/markdown; charset=utf-8"
	case TranscriptSRT:
		return "application/x-subrip"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Transcript renders ep independently of any synthesis run.
func Transcript(ep *script.Episode, format TranscriptFormat) (string, error) {
	switch format {
	case TranscriptMarkdown:
		return markdownTranscript(ep), nil
	case TranscriptPlain:
		return plainTranscript(ep), nil
	case TranscriptSRT:
		return srtTranscript(ep), nil
	}
	return "", fmt.Errorf("unknown transcript format %q", format)
}

func markdownTranscript(ep *script.Episode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", ep.Title)
	if ep.TotalLessons > 0 {
		fmt.Fprintf(&b, "*Episode %d of %d*\n\n", ep.LessonNumber, ep.TotalLessons)
	}
	if ep.TopicDescription != "" {
		fmt.Fprintf(&b, "%s\n\n", ep.TopicDescription)
	}
	if len(ep.KeyConcepts) > 0 {
		fmt.Fprintf(&b, "**Topics covered:** %s\n\n", strings.Join(ep.KeyConcepts, ", "))
	}
	b.WriteString("---\n\n")
	for _, seg := range ep.Segments {
		fmt.Fprintf(&b, "## %s\n\n", seg.Name)
		for _, t := range seg.Turns() {
			fmt.Fprintf(&b, "**%s:** %s\n\n", t.Speaker().DisplayName(), t.Text())
		}
	}
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "*Estimated duration: %s*\n", formatMinutes(ep.TotalDuration()))
	return b.String()
}

func plainTranscript(ep *script.Episode) string {
	var b strings.Builder
	title := strings.ToUpper(ep.Title)
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", len([]rune(title))) + "\n")
	if ep.TotalLessons > 0 {
		fmt.Fprintf(&b, "Episode %d of %d\n", ep.LessonNumber, ep.TotalLessons)
	}
	b.WriteString("\n")
	for _, seg := range ep.Segments {
		fmt.Fprintf(&b, "[%s]\n\n", strings.ToUpper(seg.Name))
		for _, t := range seg.Turns() {
			fmt.Fprintf(&b, "%s: %s\n\n", t.Speaker().DisplayName(), t.Text())
		}
	}
	return b.String()
}

// srtTranscript emits one caption per turn timed by cumulative estimates.
func srtTranscript(ep *script.Episode) string {
	var b strings.Builder
	var cursor time.Duration
	n := 0
	for _, seg := range ep.Segments {
		for _, t := range seg.Turns() {
			n++
			d := time.Duration(math.Round(t.EstimatedDuration()*1000)) * time.Millisecond
			fmt.Fprintf(&b, "%d\n%s --> %s\n[%s] %s\n\n",
				n, srtTimestamp(cursor), srtTimestamp(cursor+d), t.Speaker().DisplayName(), t.Text())
			cursor += d
		}
	}
	return b.String()
}

func srtTimestamp(d time.Duration) string {
	ms := d.Milliseconds()
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

func formatMinutes(seconds float64) string {
	total := int(math.Round(seconds))
	return fmt.Sprintf("%dm %02ds", total/60, total%60)
}
