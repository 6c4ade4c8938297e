package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/noah-isme/backend-punchout/internal/app"
)

// hashsecret prints an argon2id hash for a buyer shared secret. With -domain
// and -identity it prints a complete PUNCHOUT_CREDENTIALS entry.
func main() {
	var (
		domain   = flag.String("domain", "", "buyer credential domain, e.g. NetworkID")
		identity = flag.String("identity", "", "buyer credential identity")
		behalf   = flag.String("on-behalf-of", "", "comma separated domain:identity From credentials this sender may act for")
	)
	flag.Parse()

	fmt.Fprint(os.Stderr, "shared secret: ")
	secret, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && secret == "" {
		log.Fatalf("read secret: %v", err)
	}
	secret = strings.TrimRight(secret, "\r\n")
	if secret == "" {
		log.Fatal("secret must not be empty")
	}

	hash, err := app.HashSecret(secret)
	if err != nil {
		log.Fatalf("hash secret: %v", err)
	}
	if *domain != "" && *identity != "" {
		entry := fmt.Sprintf("%s|%s|%s", *domain, *identity, hash)
		if strings.TrimSpace(*behalf) != "" {
			entry += "|" + strings.TrimSpace(*behalf)
		}
		fmt.Println(entry)
		return
	}
	fmt.Println(hash)
}
