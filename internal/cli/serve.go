package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/mcpgate/internal/channel"
	"github.com/soyeahso/mcpgate/internal/channel/webchat"
	"github.com/soyeahso/mcpgate/internal/channel/whatsapp"
	"github.com/soyeahso/mcpgate/internal/config"
	"github.com/soyeahso/mcpgate/internal/gateway"
	"github.com/soyeahso/mcpgate/internal/logging"
	"github.com/soyeahso/mcpgate/internal/routing"
	"github.com/soyeahso/mcpgate/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			// Config may tighten or restyle logging; flags win.
			if logLevel == "" && cfg.Logging.Level != "" {
				if cfg.Logging.ConsoleStyle == "json" {
					log = logging.New(os.Stderr, cfg.Logging.Level)
				} else {
					log = logging.New(nil, cfg.Logging.Level)
				}
			}

			registry := channel.NewRegistry(log)
			if err := whatsapp.Register(registry); err != nil {
				return err
			}
			if err := webchat.Register(registry); err != nil {
				return err
			}

			adapters := gateway.BuildAdapters(cfg, registry, log)
			if len(adapters) == 0 && len(cfg.Channels) > 0 {
				return fmt.Errorf("no channel could be started")
			}

			router := routing.New(routing.Options{
				EngineURL:  cfg.Router.EngineURL,
				Timeout:    time.Duration(cfg.Router.TimeoutSeconds) * time.Second,
				MaxRetries: cfg.Router.MaxRetries,
				RetryDelay: time.Duration(cfg.Router.RetryDelaySecs * float64(time.Second)),
			}, log)

			opts := []gateway.ServerOption{gateway.WithAdapters(adapters)}

			dbPath := cfg.Store.Path
			if cfg.Store.Backend == "memory" {
				dbPath = ":memory:"
			}
			db, err := store.Open(dbPath, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()
			opts = append(opts, gateway.WithStore(store.NewConversationStore(db)))

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := gateway.New(cfg, router, log, opts...)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}
