package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/risecrm/apigate/internal/config"
	"github.com/risecrm/apigate/internal/db"
	"github.com/risecrm/apigate/internal/models"
	"github.com/risecrm/apigate/internal/repository"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "API key management commands",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE:  runApikeyCreate,
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all API keys",
	RunE:  runApikeyList,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke [id]",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runApikeySetStatus(models.StatusRevoked),
}

var apikeyActivateCmd = &cobra.Command{
	Use:   "activate [id]",
	Short: "Reactivate an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runApikeySetStatus(models.StatusActive),
}

var (
	keyName        string
	keyGroupID     int64
	keyExpiresIn   time.Duration
	keyIPWhitelist string
	keyLimitMinute int
	keyLimitHour   int
	keyLimitDay    int
)

func init() {
	apikeyCreateCmd.Flags().StringVar(&keyName, "name", "", "Key name")
	apikeyCreateCmd.Flags().Int64Var(&keyGroupID, "group", 0, "Permission group id (0 = unrestricted)")
	apikeyCreateCmd.Flags().DurationVar(&keyExpiresIn, "expires-in", 0, "Expiry relative to now (0 = never)")
	apikeyCreateCmd.Flags().StringVar(&keyIPWhitelist, "ip-whitelist", "", "Newline-delimited IP/CIDR whitelist")
	apikeyCreateCmd.Flags().IntVar(&keyLimitMinute, "limit-minute", 0, "Per-minute rate limit (0 = default)")
	apikeyCreateCmd.Flags().IntVar(&keyLimitHour, "limit-hour", 0, "Per-hour rate limit (0 = default)")
	apikeyCreateCmd.Flags().IntVar(&keyLimitDay, "limit-day", 0, "Per-day rate limit (0 = default)")
	apikeyCreateCmd.MarkFlagRequired("name")
}

func openKeyRepo() (*repository.APIKeyRepository, func(), error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewAPIKeyRepository(database.DB), func() { database.Close() }, nil
}

func runApikeyCreate(cmd *cobra.Command, args []string) error {
	repo, closeDB, err := openKeyRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	opts := repository.APIKeyCreateOptions{
		Name:            keyName,
		IPWhitelist:     keyIPWhitelist,
		RateLimitMinute: keyLimitMinute,
		RateLimitHour:   keyLimitHour,
		RateLimitDay:    keyLimitDay,
	}
	if keyGroupID > 0 {
		opts.PermissionGroupID = &keyGroupID
	}
	if keyExpiresIn > 0 {
		expires := time.Now().UTC().Add(keyExpiresIn)
		opts.ExpiresAt = &expires
	}

	created, err := repo.Create(opts)
	if err != nil {
		return err
	}

	fmt.Printf("API key created (id %d)\n", created.ID)
	fmt.Printf("  key:    %s\n", created.Key)
	fmt.Printf("  secret: %s\n", created.PlainSecret)
	fmt.Println("Store the secret now; it cannot be shown again.")
	return nil
}

func runApikeyList(cmd *cobra.Command, args []string) error {
	repo, closeDB, err := openKeyRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	keys, err := repo.List()
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		fmt.Println("No API keys")
		return nil
	}

	fmt.Printf("%-5s %-30s %-10s %-12s %s\n", "ID", "KEY", "STATUS", "TOTAL CALLS", "NAME")
	for _, k := range keys {
		fmt.Printf("%-5d %-30s %-10s %-12d %s\n", k.ID, k.Key, k.Status, k.TotalCalls, k.Name)
	}
	return nil
}

func runApikeySetStatus(status string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid key id %q", args[0])
		}

		repo, closeDB, err := openKeyRepo()
		if err != nil {
			return err
		}
		defer closeDB()

		if err := repo.SetStatus(id, status); err != nil {
			return err
		}
		fmt.Printf("API key %d is now %s\n", id, status)
		return nil
	}
}
