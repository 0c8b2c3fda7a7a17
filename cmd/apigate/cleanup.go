package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/risecrm/apigate/internal/config"
	"github.com/risecrm/apigate/internal/db"
	"github.com/risecrm/apigate/internal/repository"
	"github.com/risecrm/apigate/internal/settings"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete audit log rows past the retention window",
	RunE:  runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	sets := repository.NewSettingsRepository(database.DB)
	logs := repository.NewAPILogRepository(database.DB)

	days := 90
	if raw, err := sets.Get(settings.LogRetentionDays); err == nil && raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			days = parsed
		}
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	deleted, err := logs.DeleteOlderThan(cutoff)
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %d log rows older than %d days\n", deleted, days)
	return nil
}
