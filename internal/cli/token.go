package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	jwttoken "certreg/internal/jwt_token"
	"certreg/internal/platform/config"
	id "certreg/pkg/domain"
)

// NewTokenCmd creates the token command.
func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for development",
		Long: `Mint an HS256 bearer token whose subject is the given address, signed with
auth.signing_key. In production tokens come from the session layer in front
of certreg; this command exists for local testing.`,
		RunE: runToken,
	}

	cmd.Flags().String("subject", "", "caller address the token names (required)")
	cmd.Flags().Duration("ttl", 0, "token lifetime (default: auth.token_ttl)")
	cmd.Flags().String("auth.signing_key", "", "HMAC signing key")
	cmd.Flags().String("auth.issuer", config.Defaults().Auth.Issuer, "token issuer")

	return cmd
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Read(configPath(), cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if strings.TrimSpace(cfg.Auth.SigningKey) == "" {
		return errors.New("auth.signing_key is required")
	}

	subject, _ := cmd.Flags().GetString("subject")
	caller, err := id.ParseIdentity(subject)
	if err != nil {
		return fmt.Errorf("--subject: %w", err)
	}
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	token, err := jwttoken.NewJWTService(cfg.Auth.SigningKey, cfg.Auth.Issuer).GenerateToken(caller, ttl)
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
