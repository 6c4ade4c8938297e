package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-punchout/internal/auth"
)

func main() {
	var (
		subject = flag.String("subject", "", "token subject, e.g. storefront-web")
		scopes  = flag.String("scopes", "", "comma separated scopes, e.g. admin")
		ttl     = flag.Duration("ttl", 24*time.Hour, "token lifetime")
	)
	flag.Parse()
	_ = godotenv.Load()

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Secret:   os.Getenv("SERVICE_TOKEN_SECRET"),
		Issuer:   envOrDefault("SERVICE_TOKEN_ISSUER", "storefront"),
		Audience: envOrDefault("SERVICE_TOKEN_AUDIENCE", "punchout-gateway"),
	})
	if err != nil {
		log.Fatalf("verifier: %v", err)
	}

	var granted []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			granted = append(granted, s)
		}
	}
	token, err := verifier.Issue(*subject, granted, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(token)
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
