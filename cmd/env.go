package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-metrics/internal/store"
	"github.com/sells-group/merchant-metrics/pkg/telegram"
)

func initStore(ctx context.Context) (*store.PostgresStore, error) {
	if cfg.Store.Driver != "postgres" {
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}

func initTelegram() telegram.Client {
	var opts []telegram.Option
	if cfg.Telegram.BaseURL != "" {
		opts = append(opts, telegram.WithBaseURL(cfg.Telegram.BaseURL))
	}
	return telegram.NewClient(cfg.Telegram.BotToken, opts...)
}
