package llm

import (
	"context"
	"time"
)

// staticGenerator replays a fixed completion regardless of the prompt.
type staticGenerator struct {
	content string
	err     error
}

func NewStaticGenerator(content string) Generator { return &staticGenerator{content: content} }

// NewFailingGenerator returns a backend whose health check and generations fail.
func NewFailingGenerator(err error) Generator { return &staticGenerator{err: err} }

func (m *staticGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	if m.err != nil {
		return m.err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Millisecond):
	}
	return consumer(Chunk{
		SessionID: req.SessionID,
		Content:   m.content,
		Partial:   false,
		Latency:   time.Millisecond,
	})
}

func (m *staticGenerator) Health(context.Context) error { return m.err }
