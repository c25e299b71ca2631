package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/recitation/internal/model"
	"github.com/pavelanni/recitation/internal/store"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage teacher accounts",
	}
	cmd.AddCommand(userAddCmd())
	return cmd
}

func userAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Create a teacher or admin account for the review API",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserAdd,
	}
	f := cmd.Flags()
	f.String("db", "recitation.db", "SQLite database path")
	f.String("password", "", "Account password (or set RECITATION_PASSWORD)")
	f.String("display-name", "", "Display name (defaults to the username)")
	f.String("role", string(model.UserRoleTeacher), "Role (teacher, admin)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	username := strings.TrimSpace(args[0])
	password := v.GetString("password")
	role := model.UserRole(strings.ToLower(v.GetString("role")))
	if username == "" {
		return errors.New("username must not be empty")
	}
	if password == "" {
		return errors.New("password is required: set --password or RECITATION_PASSWORD")
	}
	if !role.Valid() {
		return fmt.Errorf("invalid role %q: must be teacher or admin", role)
	}
	displayName := v.GetString("display-name")
	if displayName == "" {
		displayName = username
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u, err := db.CreateUser(model.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	slog.Debug("user added", "id", u.ID)
	fmt.Fprintf(cmd.OutOrStdout(), "created %s %q\n", role, username)
	return nil
}
