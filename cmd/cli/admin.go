package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zfogg/vidlayer/internal/config"
	"github.com/zfogg/vidlayer/internal/database"
	"github.com/zfogg/vidlayer/internal/models"
	"gorm.io/gorm"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operator commands that talk to the database directly",
}

var revokeAdmin bool

var promoteCmd = &cobra.Command{
	Use:   "promote <email>",
	Short: "Grant or revoke admin privileges",
	Long: `Grant admin privileges to a user, or revoke them with --revoke.
Connects with the server's database settings, no token needed.`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{skipAuthAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := database.Initialize(cfg.Database, cfg.Server.Environment)
		if err != nil {
			return err
		}
		defer database.Close()
		return setAdmin(db, args[0], !revokeAdmin)
	},
}

func setAdmin(db *gorm.DB, email string, admin bool) error {
	var user models.User
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("user not found: %s", email)
		}
		return err
	}

	if user.IsAdmin == admin {
		if admin {
			fmt.Printf("⚠️  User %s is already an admin\n", user.Username)
		} else {
			fmt.Printf("⚠️  User %s is not an admin\n", user.Username)
		}
		return nil
	}

	if err := db.Model(&user).Update("is_admin", admin).Error; err != nil {
		return fmt.Errorf("failed to update admin flag: %w", err)
	}
	if admin {
		fmt.Printf("✓ Admin privileges granted to %s (%s)\n", user.Username, user.Email)
		fmt.Printf("  User ID: %s\n", user.ID)
	} else {
		fmt.Printf("✓ Admin privileges revoked for %s (%s)\n", user.Username, user.Email)
	}
	return nil
}

func init() {
	promoteCmd.Flags().BoolVar(&revokeAdmin, "revoke", false, "Revoke admin privileges instead of granting")
	adminCmd.AddCommand(promoteCmd)
}
