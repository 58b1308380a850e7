package sms

import (
	"context"
	"errors"

	"auction-settlement/config"
	"auction-settlement/internal/models"
	"auction-settlement/internal/util"

	"go.uber.org/zap"
)

// ErrNotConfigured is returned by the noop provider
var ErrNotConfigured = errors.New("sms provider not configured")

// Provider delivers template messages
type Provider interface {
	Send(ctx context.Context, payload models.SMSPayload) (string, error)
}

// NewProvider returns the provider selected by SMS_PROVIDER. Unknown or
// unconfigured providers fall back to noop, which fails every send so jobs
// end up failed instead of silently sent.
func NewProvider(cfg config.SMSConfig) Provider {
	logger := util.GetLogger()

	switch cfg.Provider {
	case "kavenegar":
		if cfg.APIKey == "" {
			logger.Warn("SMS_PROVIDER is kavenegar but SMS_API_KEY is not set, using noop provider")
			return &noopProvider{}
		}
		logger.Info("Using Kavenegar SMS provider")
		return NewKavenegarProvider(cfg.APIKey)
	case "":
		logger.Warn("SMS_PROVIDER is not set, using noop provider")
	default:
		logger.Warn("Unknown SMS provider, using noop provider", zap.String("provider", cfg.Provider))
	}
	return &noopProvider{}
}

type noopProvider struct{}

func (p *noopProvider) Send(ctx context.Context, payload models.SMSPayload) (string, error) {
	return "", ErrNotConfigured
}
