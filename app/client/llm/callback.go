package llm

import (
	"context"
	"log/slog"

	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
)

var _ callbacks.Handler = LogHandler{}

// LogHandler reports model calls through slog. Only generation events are
// interesting here; the rest of callbacks.Handler is a no-op.
type LogHandler struct {
	callbacks.SimpleHandler

	Name string
}

func (l LogHandler) HandleLLMGenerateContentStart(ctx context.Context, ms []llms.MessageContent) {
	slog.DebugContext(ctx, "LLM generate content start",
		"llm", l.Name,
		"messages", len(ms),
	)
}

func (l LogHandler) HandleLLMGenerateContentEnd(ctx context.Context, res *llms.ContentResponse) {
	if res == nil || len(res.Choices) == 0 {
		slog.WarnContext(ctx, "LLM returned no choices", "llm", l.Name)
		return
	}

	slog.DebugContext(ctx, "LLM generate content end",
		"llm", l.Name,
		"stop_reason", res.Choices[0].StopReason,
		"length", len(res.Choices[0].Content),
	)
}

func (l LogHandler) HandleLLMError(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "LLM error", "llm", l.Name, "error", err)
}
