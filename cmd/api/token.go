package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"designdesk/api/internal/auth"
	"designdesk/api/internal/rbac"
)

// tokenCmd mints a bearer token for local development. Production tokens come
// from the auth service that shares JWT_SECRET.
func tokenCmd(envFile *string) *cobra.Command {
	var (
		userID string
		name   string
		email  string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			if !rbac.Valid(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			if userID == "" {
				userID = uuid.NewString()
			}
			token, err := auth.IssueToken([]byte(cfg.JWTSecret), auth.Claims{
				Sub:   userID,
				Name:  name,
				Email: email,
				Role:  role,
				JTI:   uuid.NewString(),
				Exp:   time.Now().Add(ttl).Unix(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (random when empty)")
	cmd.Flags().StringVar(&name, "name", "Dev User", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleStaff), "staff, designer, treasurer or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
