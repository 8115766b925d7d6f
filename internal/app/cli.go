package app

import (
	"context"

	"alertbot/internal/config"
	"alertbot/internal/gateway"
	telegram "alertbot/internal/transport/telegram/adapter"
	logx "alertbot/pkg/logx"
)

// LoadConfig reads, env-overrides and validates the config file without
// starting a watcher.
func LoadConfig(ctx context.Context, path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OpenGateway builds a send-only Telegram gateway. The adapter is never
// started, so the process does not compete with the daemon for updates.
func OpenGateway(cfg *config.Config, log logx.Logger) (gateway.Gateway, error) {
	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(adCfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	return gateway.NewChat(ad), nil
}
