package llm

import (
	"context"
	"net/http"
	"time"

	"meetwise/app/config"

	"github.com/samber/oops"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

const requestTimeout = 30 * time.Second

// New builds the chat model described by cfg. name tags the model in logs.
func New(ctx context.Context, name string, cfg config.ModelConfig) (llms.Model, error) {
	errBuilder := oops.In("llm").With("name", name, "provider", cfg.Provider, "model", cfg.Model)

	switch cfg.Provider {
	case "", "openai":
		opts := []openai.Option{
			openai.WithToken(cfg.Token),
			openai.WithModel(cfg.Model),
			openai.WithCallback(LogHandler{Name: name}),
			openai.WithHTTPClient(&http.Client{
				Timeout: requestTimeout,
			}),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}

		model, err := openai.New(opts...)
		if err != nil {
			return nil, errBuilder.Wrapf(err, "create openai client")
		}

		return model, nil
	case "googleai":
		model, err := googleai.New(ctx,
			googleai.WithAPIKey(cfg.Token),
			googleai.WithDefaultModel(cfg.Model),
		)
		if err != nil {
			return nil, errBuilder.Wrapf(err, "create googleai client")
		}

		return model, nil
	default:
		return nil, errBuilder.Errorf("unknown provider %q", cfg.Provider)
	}
}
