package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"qrattend/internal/auth"
	"qrattend/internal/config"
)

// devtoken prints a signed bearer token for local testing. Real deployments
// get tokens from the identity provider.
func main() {
	cfg := config.Load()

	sub := flag.String("sub", "", "user id placed in the token subject")
	role := flag.String("role", auth.RoleStudent, "teacher or student")
	ttl := flag.Duration("ttl", cfg.AccessTTL, "token lifetime")
	year := flag.Int("year", 0, "student year, 0 for none")
	division := flag.String("division", "", "student division")
	flag.Parse()

	if cfg.Production() {
		log.Fatal("refusing to mint tokens with APP_ENV=production")
	}
	if *sub == "" {
		flag.Usage()
		os.Exit(2)
	}

	tok, err := auth.Issue(*sub, *role, cfg.JWTIssuer, cfg.JWTSigningKey, *ttl, auth.WithCohort(*year, *division))
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.ExpiresAt.UTC().Format(time.RFC3339))
}
