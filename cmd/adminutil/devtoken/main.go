package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/sudo-init-do/channelhub/internal/auth"
	"github.com/sudo-init-do/channelhub/internal/config"
)

// devtoken mints a signed token for local testing against the API, standing
// in for the external auth provider.
// Usage:
//
//	go run ./cmd/adminutil/devtoken -user 42 -email ops@example.com -role admin
func main() {
	userID := flag.String("user", "", "User id to put in the token")
	email := flag.String("email", "", "Email claim")
	role := flag.String("role", auth.RoleMember, "Role claim: member, seller or admin")
	ttl := flag.Duration("ttl", 0, "Token lifetime (defaults to JWT_TTL_MINUTES)")
	flag.Parse()

	if *userID == "" {
		log.Fatalf("usage: go run ./cmd/adminutil/devtoken -user <id> [-email e] [-role admin]")
	}
	switch *role {
	case auth.RoleMember, auth.RoleSeller, auth.RoleAdmin:
	default:
		log.Fatalf("unknown role %q", *role)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lifetime := cfg.JWTTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	tok, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, lifetime).Generate(*userID, *email, *role)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(tok)
}
