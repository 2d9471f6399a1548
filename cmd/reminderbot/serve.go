package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/victor-kironde/vk-reminder-bot/internal/bot"
	discordadapter "github.com/victor-kironde/vk-reminder-bot/internal/bot/discord"
	slackadapter "github.com/victor-kironde/vk-reminder-bot/internal/bot/slack"
	"github.com/victor-kironde/vk-reminder-bot/internal/config"
	"github.com/victor-kironde/vk-reminder-bot/internal/db"
	"github.com/victor-kironde/vk-reminder-bot/internal/scheduler"
	"github.com/victor-kironde/vk-reminder-bot/internal/server"
	"github.com/victor-kironde/vk-reminder-bot/internal/store"
	"github.com/victor-kironde/vk-reminder-bot/internal/trigger"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reminder bot",
		Long:  "Connects to the configured chat platform, serves the HTTP endpoints, and runs the delivery scheduler until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "reminderbot.yaml", "path to config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	out := cmd.OutOrStdout()

	kv, err := openKV(cfg)
	if err != nil {
		return err
	}
	reminders, err := store.NewReminderStore(kv)
	if err != nil {
		return err
	}

	adapter, err := createAdapter(cfg, out)
	if err != nil {
		return err
	}

	registry := bot.NewRegistry()
	dialog, err := bot.NewDialog(bot.DialogOpts{
		Store:   reminders,
		Adapter: adapter,
		Out:     out,
	})
	if err != nil {
		return err
	}
	b, err := bot.New(bot.BotOpts{
		Dialog:   dialog,
		Store:    reminders,
		Registry: registry,
		Adapter:  adapter,
		Out:      out,
	})
	if err != nil {
		return err
	}
	sched, err := scheduler.New(scheduler.Opts{
		Store:    reminders,
		Registry: registry,
		Adapter:  adapter,
		Cron:     cfg.Scheduler.Cron,
		Out:      out,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := adapter.Connect(ctx); err != nil {
		return fmt.Errorf("connect adapter: %w", err)
	}
	defer adapter.Close()

	go func() {
		if err := b.Run(ctx); err != nil {
			log.Printf("serve: bot: %v", err)
			cancel()
		}
	}()
	go func() {
		if err := sched.Run(ctx); err != nil {
			log.Printf("serve: scheduler: %v", err)
			cancel()
		}
	}()
	if cfg.Trigger.Enabled {
		pulse, err := trigger.New(trigger.Opts{
			URL:      cfg.Trigger.URL,
			Interval: time.Duration(cfg.Trigger.IntervalSec) * time.Second,
			Out:      out,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := pulse.Run(ctx); err != nil {
				log.Printf("serve: trigger: %v", err)
			}
		}()
	}

	return server.Start(ctx, server.StartOpts{
		Bot:        b,
		Scheduler:  sched,
		Port:       cfg.Server.Port,
		AuthSecret: cfg.Server.AuthSecret,
		Out:        out,
	})
}

// openKV builds the KV backend selected by the config.
func openKV(cfg *config.Config) (store.KV, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return store.NewMemoryKV(), nil
	case "sqlite":
		gormDB, err := db.ConnectSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		return store.NewGormKV(gormDB)
	case "mysql":
		gormDB, err := db.ConnectMySQL(cfg.Storage.Host, cfg.Storage.Port, cfg.Storage.Database)
		if err != nil {
			return nil, err
		}
		return store.NewGormKV(gormDB)
	}
	return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config, out io.Writer) (bot.Adapter, error) {
	switch cfg.Chat.Platform {
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken:  cfg.Chat.Discord.BotToken,
			ChannelID: cfg.Chat.Channel,
		})
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken:  cfg.Chat.Slack.AppToken,
			BotToken:  cfg.Chat.Slack.BotToken,
			ChannelID: cfg.Chat.Channel,
		})
	case "":
		return bot.NewConsoleAdapter(out), nil
	}
	return nil, fmt.Errorf("unsupported chat platform %q", cfg.Chat.Platform)
}
