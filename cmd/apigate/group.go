package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/risecrm/apigate/internal/config"
	"github.com/risecrm/apigate/internal/db"
	"github.com/risecrm/apigate/internal/repository"
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Permission group management commands",
}

var groupCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a permission group",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupCreate,
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List permission groups",
	RunE:  runGroupList,
}

var groupDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a permission group",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupDelete,
}

var groupPermissions string

func init() {
	groupCreateCmd.Flags().StringVar(&groupPermissions, "permissions", "{}",
		`Permissions JSON, e.g. {"clients":{"read":true,"create":true}}`)
}

func openGroupRepo() (*repository.GroupRepository, func(), error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewGroupRepository(database.DB), func() { database.Close() }, nil
}

func runGroupCreate(cmd *cobra.Command, args []string) error {
	if !json.Valid([]byte(groupPermissions)) {
		return fmt.Errorf("permissions is not valid JSON")
	}

	repo, closeDB, err := openGroupRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	group, err := repo.Create(args[0], groupPermissions, false)
	if err != nil {
		return err
	}

	fmt.Printf("Permission group created (id %d): %s\n", group.ID, group.Name)
	return nil
}

func runGroupList(cmd *cobra.Command, args []string) error {
	repo, closeDB, err := openGroupRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	groups, err := repo.List()
	if err != nil {
		return err
	}

	if len(groups) == 0 {
		fmt.Println("No permission groups")
		return nil
	}

	fmt.Printf("%-5s %-25s %-8s %s\n", "ID", "NAME", "SYSTEM", "PERMISSIONS")
	for _, g := range groups {
		fmt.Printf("%-5d %-25s %-8t %s\n", g.ID, g.Name, g.IsSystem, g.Permissions)
	}
	return nil
}

func runGroupDelete(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid group id %q", args[0])
	}

	repo, closeDB, err := openGroupRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	if err := repo.Delete(id); err != nil {
		return err
	}

	fmt.Printf("Permission group %d deleted\n", id)
	fmt.Println("Keys still referencing it are now denied all access.")
	return nil
}
