package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/phildougherty/medic/internal/auth"
)

func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a care team access token",
		Long: `Sign a JWT for the care team endpoints (/api/reports and /ws/team) with
auth.jwt_secret. Use --generate-secret to print a fresh secret instead.`,
		RunE: runToken,
	}

	cmd.Flags().String("subject", "care-team", "Token subject")
	cmd.Flags().String("role", "team", "Role claim")
	cmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	cmd.Flags().Bool("generate-secret", false, "Print a random secret suitable for MEDIC_JWT_SECRET")

	return cmd
}

func runToken(cmd *cobra.Command, args []string) error {
	if gen, _ := cmd.Flags().GetBool("generate-secret"); gen {
		secret, err := auth.GenerateSecret()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		return nil
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret (or MEDIC_JWT_SECRET) is not set")
	}
	subject, _ := cmd.Flags().GetString("subject")
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	tokens := auth.NewTokenService(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer, a.cfg.Auth.GetTokenTTL())
	token, expires, err := tokens.Issue(subject, role, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	a.logger.Info("Token for %s expires %s", subject, expires.Format(time.RFC3339))
	return nil
}
