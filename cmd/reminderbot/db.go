package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/victor-kironde/vk-reminder-bot/internal/config"
	"github.com/victor-kironde/vk-reminder-bot/internal/db"
	"github.com/victor-kironde/vk-reminder-bot/internal/models"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Storage management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the reminder storage",
		Long:  "Connects to the configured database and migrates the storage tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "reminderbot.yaml", "path to config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := connectStorage(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s storage\n", cfg.Storage.Driver)

	if err := gormDB.AutoMigrate(&models.StorageRecord{}); err != nil {
		return fmt.Errorf("migrate storage: %w", err)
	}
	fmt.Fprintln(out, "Storage initialized successfully.")
	return nil
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all stored bot state",
		Long:  "Removes every stored record, including the reminder log and welcome markers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, configPath, yes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "reminderbot.yaml", "path to config file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runDBReset(cmd *cobra.Command, configPath string, skipConfirm bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !skipConfirm && !confirmReset(cmd, cfg.Storage.Driver) {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	gormDB, err := connectStorage(cfg)
	if err != nil {
		return err
	}
	if err := gormDB.AutoMigrate(&models.StorageRecord{}); err != nil {
		return fmt.Errorf("migrate storage: %w", err)
	}

	res := gormDB.Where("1 = 1").Delete(&models.StorageRecord{})
	if res.Error != nil {
		return fmt.Errorf("reset storage: %w", res.Error)
	}
	fmt.Fprintf(out, "Deleted %d records\n", res.RowsAffected)
	fmt.Fprintln(out, "Storage reset successfully.")
	return nil
}

func connectStorage(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return db.ConnectSQLite(cfg.Storage.Path)
	case "mysql":
		return db.ConnectMySQL(cfg.Storage.Host, cfg.Storage.Port, cfg.Storage.Database)
	}
	return nil, fmt.Errorf("storage driver %q has no database to manage", cfg.Storage.Driver)
}

func confirmReset(cmd *cobra.Command, driver string) bool {
	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()

	fmt.Fprintf(out, "WARNING: This will permanently delete all bot state in the %s storage.\n", driver)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}
