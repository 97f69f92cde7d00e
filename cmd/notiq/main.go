package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/way365/notiq/internal/api"
	"github.com/way365/notiq/internal/config"
	"github.com/way365/notiq/internal/models"
	"github.com/way365/notiq/internal/notifier"
	"github.com/way365/notiq/internal/queue"
	"github.com/way365/notiq/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "notiq",
		Short: "notiq — reliable local delivery queue for chat notifications",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(sendCmd(&configPath))
	rootCmd.AddCommand(deadCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the delivery queue and the ops API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			q := buildQueue(cfg, store, log)
			q.Start()

			var server *api.Server
			if cfg.Server.Enabled {
				server = api.NewServer(cfg.Server, q, store, log)
				go func() {
					if err := server.Start(); err != nil && err != http.ErrServerClosed {
						log.Fatal().Err(err).Msg("server error")
					}
				}()
			}

			log.Info().
				Str("version", version).
				Str("storage", cfg.Storage.Driver).
				Dur("poll_interval", cfg.Queue.PollInterval).
				Msg("notiq is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if server != nil {
				if err := server.Shutdown(10 * time.Second); err != nil {
					log.Error().Err(err).Msg("server shutdown error")
				}
			}
			q.Stop()

			log.Info().Msg("notiq stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the message store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func sendCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Enqueue a message and attempt one delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			msgType, _ := cmd.Flags().GetString("type")
			dest, _ := cmd.Flags().GetString("dest")
			content, _ := cmd.Flags().GetString("content")
			if msgType == "" || dest == "" || content == "" {
				return fmt.Errorf("--type, --dest and --content are required")
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			// One inline attempt only; a failure stays queued for the next
			// serve run to retry.
			q := buildQueue(cfg, store, log)
			messageID, err := q.SendMessage(context.Background(), msgType, dest, content)
			if err != nil {
				return fmt.Errorf("failed to send message: %w", err)
			}

			m, err := q.Message(context.Background(), messageID)
			if err != nil {
				return fmt.Errorf("failed to look up message: %w", err)
			}

			out, _ := json.MarshalIndent(m, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().String("type", "", "message type (dingtalk, feishu, wechat, ...)")
	cmd.Flags().String("dest", "", "destination (webhook URL or openid)")
	cmd.Flags().String("content", "", "message content")
	return cmd
}

func deadCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dead",
		Short: "List dead messages awaiting manual intervention",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			msgs, err := store.ListByStatus(context.Background(), models.StatusDead, limit, 0)
			if err != nil {
				return fmt.Errorf("failed to list dead messages: %w", err)
			}

			if len(msgs) == 0 {
				fmt.Println("No dead messages.")
				return nil
			}
			for _, m := range msgs {
				fmt.Printf("  %s  type=%s  retries=%d  error=%s\n", m.MessageID, m.MessageType, m.RetryCount, m.LastError)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 50, "maximum messages to list")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("notiq v%s\n", version)
		},
	}
}

func buildQueue(cfg *config.Config, store storage.Store, log zerolog.Logger) *queue.Queue {
	q := queue.New(store, queue.Options{
		PollInterval: cfg.Queue.PollInterval,
		BaseDelay:    cfg.Queue.BaseDelay,
		Jitter:       cfg.Queue.Jitter,
		StopGrace:    cfg.Queue.StopGrace,
		BatchLimit:   cfg.Queue.BatchLimit,
		MaxRetry:     cfg.Queue.MaxRetry,
		Workers:      cfg.Queue.Workers,
	}, log)
	registerNotifiers(q, cfg.Notifiers, log)
	return q
}

func registerNotifiers(q *queue.Queue, cfg config.NotifiersConfig, log zerolog.Logger) {
	client := notifier.NewClient(cfg.Timeout, log)

	if cfg.DingTalk.Enabled {
		q.RegisterHandler("dingtalk", notifier.NewDingTalk(client, cfg.DingTalk.Secret))
		log.Info().Msg("dingtalk notifier registered")
	}
	if cfg.Feishu.Enabled {
		q.RegisterHandler("feishu", notifier.NewFeishu(client))
		log.Info().Msg("feishu notifier registered")
	}
	if cfg.WeChat.Enabled {
		q.RegisterHandler("wechat", notifier.NewWeChat(client, cfg.WeChat.AppID, cfg.WeChat.AppSecret, cfg.WeChat.TemplateID))
		log.Info().Msg("wechat notifier registered")
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
