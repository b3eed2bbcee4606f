// Package inference talks to the language models used to refine column
// mappings. Every client is optional: callers treat any error as a reason to
// keep their deterministic result.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ignite/contact-import/internal/config"
)

var (
	ErrDisabled      = errors.New("inference disabled")
	ErrEmptyResponse = errors.New("inference returned no content")
)

// Request is one chat-style completion request.
type Request struct {
	System string
	User   string
}

// Client completes a prompt. Implementations must honor ctx cancellation.
type Client interface {
	Enabled() bool
	Complete(ctx context.Context, req Request) (string, error)
}

// Noop is never enabled.
type Noop struct{}

func (Noop) Enabled() bool { return false }

func (Noop) Complete(context.Context, Request) (string, error) { return "", ErrDisabled }

// New builds the client selected by cfg.Provider. A disabled configuration
// yields Noop.
func New(ctx context.Context, cfg config.InferenceConfig, logger *zap.Logger) (Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return Noop{}, nil
	}

	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return Noop{}, nil
	case "openai":
		c := NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout())
		logger.Info("inference client ready", zap.String("provider", "openai"), zap.String("model", c.model))
		return c, nil
	case "bedrock":
		c, err := NewBedrockClient(ctx, cfg.Region, cfg.Model)
		if err != nil {
			return nil, err
		}
		logger.Info("inference client ready", zap.String("provider", "bedrock"), zap.String("model", c.modelID), zap.String("region", cfg.Region))
		return c, nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
	}
}
