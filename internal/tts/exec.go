package tts

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execProvider runs a local speech command. The command reads one JSON request
// on stdin and answers with JSON lines carrying base64 audio.
type execProvider struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	Dialect    string `json:"dialect"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

type execResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Final       bool   `json:"final"`
	Error       string `json:"error,omitempty"`
	Throttled   bool   `json:"throttled,omitempty"`
}

func NewExecProvider(command string) (Provider, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execProvider{cmd: args}, nil
}

func (e *execProvider) Name() string { return "exec" }

func (e *execProvider) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		Dialect:    string(req.Dialect),
		Format:     string(req.Format),
		SampleRate: req.SampleRate,
	})
	if err != nil {
		return nil, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	if _, err := stdin.Write(data); err != nil {
		_ = cmd.Wait()
		return nil, err
	}
	stdin.Close()

	var out []byte
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			_ = cmd.Wait()
			return nil, fmt.Errorf("decode tts exec response: %w", err)
		}
		if resp.Error != "" {
			_ = cmd.Wait()
			if resp.Throttled {
				return nil, rateLimited(errors.New(resp.Error))
			}
			return nil, errors.New(resp.Error)
		}
		pcm, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
		if err != nil {
			_ = cmd.Wait()
			return nil, err
		}
		out = append(out, pcm...)
		if resp.Final {
			break
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		_ = cmd.Wait()
		return nil, scanErr
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("tts exec command failed: %w", err)
	}
	return out, nil
}

func (e *execProvider) Voices(context.Context) ([]Voice, error) {
	return defaultVoices(), nil
}

func (e *execProvider) Health(context.Context) error {
	if _, err := exec.LookPath(e.cmd[0]); err != nil {
		return fmt.Errorf("tts command unavailable: %w", err)
	}
	return nil
}
