// Command devtoken prints a bearer token for local testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/suPer8Hu/notes-ai-platform/internal/auth"
	"github.com/suPer8Hu/notes-ai-platform/internal/config"
)

func main() {
	uid := flag.Uint64("user", 1, "user id to sign for")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	tok, err := auth.SignJWT(*uid, cfg.JWTSecret, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign:", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
