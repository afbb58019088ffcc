package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/ppsec-gateway/internal/middleware"
)

func newTokenCmd() *cobra.Command {
	var (
		subject     string
		permissions string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 bearer token signed with auth.jwtSecret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwtSecret is not configured")
			}
			perms, err := parsePermissions(permissions)
			if err != nil {
				return err
			}
			token, err := middleware.IssueToken(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, subject, perms, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (required)")
	cmd.Flags().StringVar(&permissions, "permissions", middleware.PermissionRead, "comma separated: read, admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func parsePermissions(s string) ([]string, error) {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		switch p {
		case "":
			continue
		case middleware.PermissionRead, middleware.PermissionAdmin:
			out = append(out, p)
		default:
			return nil, fmt.Errorf("unknown permission %q", p)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("at least one permission is required")
	}
	return out, nil
}
