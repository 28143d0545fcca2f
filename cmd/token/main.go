package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/samirrijal/bilbotrack/internal/adapters/auth"
	"github.com/samirrijal/bilbotrack/internal/core/domain"
	"github.com/samirrijal/bilbotrack/internal/pkg/config"
)

// token prints a signed JWT for local testing:
//
//	token -user driver-aitor -role driver -ttl 8h
func main() {
	user := flag.String("user", "", "subject user ID")
	role := flag.String("role", domain.RolePassenger, "passenger, driver, operator or admin")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	if *user == "" {
		log.Fatal("-user is required")
	}
	switch *role {
	case domain.RolePassenger, domain.RoleDriver, domain.RoleOperator, domain.RoleAdmin:
	default:
		log.Fatalf("unknown role %q", *role)
	}

	cfg, err := config.Load("bilbotrack-token")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Issuing needs no trip lookups.
	authn := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, nil)
	tok, err := authn.Issue(*user, *role, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(tok)
}
