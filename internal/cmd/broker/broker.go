// Package broker parses broker command flags and serves the message broker.
package broker

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"

	app "github.com/davidmoi2135/chat/internal/services/broker/app"

	entrypoint "github.com/davidmoi2135/chat/internal/platform/cmd"
	"github.com/davidmoi2135/chat/internal/platform/timeouts"
)

// Config holds broker command configuration.
type Config struct {
	HTTPAddr string `env:"CHAT_BROKER_HTTP_ADDR" envDefault:":8085"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "broker HTTP listen address")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run serves the broker until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceBroker, func(ctx context.Context) error {
		if err := serve(ctx, cfg); err != nil {
			return fmt.Errorf("serve broker: %w", err)
		}
		return nil
	})
}

func serve(ctx context.Context, cfg Config) error {
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.NewHandler(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	serveErr := make(chan error, 1)
	log.Printf("broker listening on %s", cfg.HTTPAddr)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
