package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Mindburn-Labs/helm-recovery/pkg/auth"
	"github.com/Mindburn-Labs/helm-recovery/pkg/config"
	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
)

// runTokenCmd mints a bearer token signed with the key derived from JWT_SEED,
// the same key a server started with that seed verifies against.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		subject string
		ttl     time.Duration
		roles   string
	)
	cmd.StringVar(&subject, "sub", "", "Account the token authenticates (REQUIRED)")
	cmd.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.StringVar(&roles, "roles", "", "Comma-separated roles")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(subject) == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --sub is required")
		cmd.Usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	if cfg.JWTSeed == "" {
		_, _ = fmt.Fprintln(stderr, "Error: JWT_SEED must be set to mint tokens the server accepts")
		return 1
	}
	seed, err := hex.DecodeString(cfg.JWTSeed)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: invalid JWT_SEED: %v\n", err)
		return 1
	}
	keys, err := identity.NewKeySetFromSeed(keySetKID, seed)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	now := time.Now()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   string(identity.NewAccountRef(subject)),
			Issuer:    cfg.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if roles != "" {
		claims.Roles = strings.Split(roles, ",")
	}

	token, err := keys.Sign(context.Background(), claims)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: sign token: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, token)
	return 0
}
