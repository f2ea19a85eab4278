package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/practicecore/libs/auth"
)

// tokenCmd mints an HS256 token for local runs against JWT_SECRET.
func tokenCmd() *cobra.Command {
	var (
		org, subject, role string
		ttl                time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("token needs JWT_SECRET")
			}
			now := time.Now().UTC()
			claims := auth.Claims{
				OrgID: org,
				Role:  role,
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   subject,
					Issuer:    cfg.JWTIssuer,
					IssuedAt:  jwt.NewNumericDate(now),
					ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				},
			}
			if cfg.JWTAudience != "" {
				claims.Audience = jwt.ClaimStrings{cfg.JWTAudience}
			}
			token, err := auth.SignHS256(claims, cfg.JWTSecret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&org, "org", demoOrg, "organization id claim")
	cmd.Flags().StringVar(&subject, "sub", "staff-ana", "subject; a client id for the client role")
	cmd.Flags().StringVar(&role, "role", "staff", "owner, admin, staff or client")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
