package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/coordinator"
	"github.com/loqalabs/loqa-podcast/internal/logging"
	"github.com/loqalabs/loqa-podcast/internal/markup"
	"github.com/loqalabs/loqa-podcast/internal/runtime"
	"github.com/loqalabs/loqa-podcast/internal/script"
	"github.com/loqalabs/loqa-podcast/internal/tts"
)

var version = "0.1.0-dev"

const usage = "usage: podcast <render|content|transcript|estimate|validate|version> [flags]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "render":
		err = runRender(ctx, os.Args[2:], os.Stdout)
	case "content":
		err = runContent(ctx, os.Args[2:], os.Stdout)
	case "transcript":
		err = runTranscript(os.Args[2:], os.Stdout)
	case "estimate":
		err = runEstimate(os.Args[2:], os.Stdout)
	case "validate":
		err = runValidate(os.Args[2:], os.Stdout)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadScript(path string) (*script.Episode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ep script.Episode
	if err := json.Unmarshal(data, &ep); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &ep, nil
}

func loadScripts(paths []string) ([]*script.Episode, error) {
	if len(paths) == 0 {
		return nil, errors.New("at least one script file is required")
	}
	out := make([]*script.Episode, 0, len(paths))
	for _, p := range paths {
		ep, err := loadScript(p)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

func openPipeline(ctx context.Context, configPath string) (*runtime.Pipeline, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.Telemetry, os.Stderr)
	p, err := runtime.BuildPipeline(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, logger, nil
}

func runRender(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	session := fs.String("session", "cli", "Session the jobs belong to")
	upload := fs.Bool("upload", false, "Upload the result to object storage")
	_ = fs.Parse(args)

	episodes, err := loadScripts(fs.Args())
	if err != nil {
		return err
	}
	p, _, err := openPipeline(ctx, *configPath)
	if err != nil {
		return err
	}
	defer p.Close()

	batch := p.Coordinator.ProcessBatch(ctx, episodes, *session, *upload)
	for _, job := range batch.Jobs {
		printJob(out, job)
	}
	fmt.Fprintf(out, "%d/%d completed, %.1fs of audio, est. $%.4f\n",
		batch.CompletedJobs, batch.TotalJobs, batch.TotalDurationSeconds, batch.TotalCostEstimate)
	if batch.FailedJobs > 0 {
		return fmt.Errorf("%d job(s) failed", batch.FailedJobs)
	}
	return nil
}

func runContent(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("content", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	file := fs.String("file", "", "Lesson content (markdown, html or text)")
	format := fs.String("format", "", "Content format; detected when empty")
	title := fs.String("title", "", "Episode title")
	session := fs.String("session", "cli", "Session the job belongs to")
	lesson := fs.Int("lesson", 1, "Lesson number")
	total := fs.Int("total", 1, "Total lessons in the course")
	minutes := fs.Int("minutes", 0, "Target length in minutes")
	upload := fs.Bool("upload", false, "Upload the result to object storage")
	_ = fs.Parse(args)

	if *file == "" {
		return errors.New("-file is required")
	}
	raw, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	p, _, err := openPipeline(ctx, *configPath)
	if err != nil {
		return err
	}
	defer p.Close()

	job := p.Coordinator.ProcessContent(ctx, coordinator.ContentRequest{
		SessionID:     *session,
		Title:         *title,
		Content:       string(raw),
		ContentFormat: *format,
		LessonNumber:  *lesson,
		TotalLessons:  *total,
		TargetMinutes: *minutes,
		SourceURL:     *file,
		Upload:        *upload,
	})
	printJob(out, job)
	if job.Status != coordinator.StatusCompleted {
		return fmt.Errorf("job %s %s", job.ID, job.Status)
	}
	return nil
}

func printJob(out io.Writer, job coordinator.Job) {
	if job.Result == nil {
		fmt.Fprintf(out, "%s  %-9s  %q  %s\n", job.ID, job.Status, job.Title, job.Error)
		return
	}
	r := job.Result
	fmt.Fprintf(out, "%s  %-9s  %q  %.1fs  %s  %s\n",
		job.ID, job.Status, job.Title, r.DurationSeconds, humanize.Bytes(uint64(r.Bytes)), r.AudioURL)
	if r.Error != nil {
		fmt.Fprintf(out, "  warning: %s\n", *r.Error)
	}
}

func runTranscript(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("transcript", flag.ExitOnError)
	path := fs.String("script", "", "Path to script JSON")
	format := fs.String("format", string(markup.TranscriptMarkdown), "markdown, plain or srt")
	_ = fs.Parse(args)

	f, err := markup.ParseTranscriptFormat(*format)
	if err != nil {
		return err
	}
	ep, err := loadScript(*path)
	if err != nil {
		return err
	}
	text, err := markup.Transcript(ep, f)
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, text)
	return err
}

func runEstimate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("estimate", flag.ExitOnError)
	price := fs.Float64("price", tts.NeuralPricePerMillion, "USD per million billed characters")
	_ = fs.Parse(args)

	episodes, err := loadScripts(fs.Args())
	if err != nil {
		return err
	}
	var words int
	var seconds float64
	for _, ep := range episodes {
		words += ep.TotalWords()
		seconds += ep.TotalDuration()
	}
	cost := tts.EstimateCost(*price, episodes...)
	fmt.Fprintf(out, "episodes: %d\nwords: %s\nestimated duration: %.1f min\ncharacters: %s (billed %s)\ncost: $%.4f\n",
		cost.Episodes, humanize.Comma(int64(words)), seconds/60,
		humanize.Comma(int64(cost.Characters)), humanize.Comma(int64(cost.BilledCharacters)), cost.USD)
	return nil
}

func runValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	path := fs.String("script", "", "Path to script JSON")
	_ = fs.Parse(args)

	ep, err := loadScript(*path)
	if err != nil {
		return err
	}
	report := ep.Validate()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.Valid {
		return fmt.Errorf("script has %d issue(s)", len(report.Issues))
	}
	return nil
}
