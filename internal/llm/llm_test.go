package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-podcast/internal/config"
)

func TestOllamaGeneratorStreams(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/generate":
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode request: %v", err)
			}
			fmt.Fprintln(w, `{"response":"{\"script\":","done":false}`)
			fmt.Fprintln(w, `{"response":"[]}","done":true,"eval_count":7,"prompt_eval_count":3}`)
		case "/api/tags":
			fmt.Fprint(w, `{"models":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := NewOllamaGenerator(srv.URL+"/", "small", "big", 0)
	text, last, err := Complete(context.Background(), g, Request{Prompt: "hi", Tier: "fast", JSON: true})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != `{"script":[]}` {
		t.Fatalf("unexpected text %q", text)
	}
	if last.CompletionTokens != 7 || last.PromptTokens != 3 || last.Partial {
		t.Fatalf("unexpected final chunk %+v", last)
	}
	if got.Model != "small" || got.Format != "json" || !got.Stream {
		t.Fatalf("unexpected request %+v", got)
	}
	if err := g.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestOllamaGeneratorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/generate" {
			fmt.Fprintln(w, `{"error":"model not found"}`)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewOllamaGenerator(srv.URL, "", "", 0)
	if _, _, err := Complete(context.Background(), g, Request{Prompt: "hi"}); err == nil {
		t.Fatal("expected generation error")
	}
	if err := g.Health(context.Background()); err == nil {
		t.Fatal("expected health error")
	}
}

func TestExecGenerator(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "llm.sh")
	body := "#!/bin/sh\ncat > /dev/null\necho '{\"content\":\"hello\",\"completion_tokens\":2}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	g, err := NewGenerator(config.LLMConfig{Mode: "exec", Command: script})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	text, last, err := Complete(context.Background(), g, Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "hello" || last.CompletionTokens != 2 {
		t.Fatalf("unexpected output %q %+v", text, last)
	}
	if err := g.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default().LLM
	req, err := OptionsFromConfig(cfg, "")
	if err != nil {
		t.Fatalf("OptionsFromConfig: %v", err)
	}
	if req.Tier != cfg.DefaultTier || req.MaxTokens != cfg.MaxTokens {
		t.Fatalf("unexpected defaults %+v", req)
	}
	req, err = OptionsFromConfig(cfg, "fast")
	if err != nil || req.Tier != "fast" {
		t.Fatalf("expected fast tier, got %+v (%v)", req, err)
	}
	if _, err := OptionsFromConfig(cfg, "huge"); err == nil {
		t.Fatal("expected unknown tier error")
	}
	if _, err := NewGenerator(config.LLMConfig{Mode: "carrier-pigeon"}); err == nil {
		t.Fatal("expected unknown mode error")
	}
}

func TestStaticGenerator(t *testing.T) {
	text, _, err := Complete(context.Background(), NewStaticGenerator("ok"), Request{})
	if err != nil || text != "ok" {
		t.Fatalf("unexpected %q %v", text, err)
	}
	boom := errors.New("down")
	g := NewFailingGenerator(boom)
	if err := g.Health(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}
