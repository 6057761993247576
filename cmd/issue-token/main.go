package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/stemsi/trivia-engine/internal/config"
	"github.com/stemsi/trivia-engine/internal/logger"
	"github.com/stemsi/trivia-engine/internal/service"
	"golang.org/x/term"
)

// issue-token mints a signed identity token for local play and load tests.
// Production tokens come from the identity provider sharing JWT_SECRET.
func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Component(logger.Setup(cfg.LogLevel, cfg.LogFormat), "issue-token")

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Issue Player Token ===")

	// User ID
	fmt.Print("Enter User ID: ")
	userID, _ := reader.ReadString('\n')
	userID = strings.TrimSpace(userID)
	if userID == "" {
		fmt.Println("Error: User ID is required")
		return
	}

	// Display name
	fmt.Print("Enter Display Name (default user ID): ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)

	// TTL
	fmt.Print("Enter Lifetime (default 12h): ")
	ttlStr, _ := reader.ReadString('\n')
	ttl := 12 * time.Hour
	if ttlStr = strings.TrimSpace(ttlStr); ttlStr != "" {
		d, err := time.ParseDuration(ttlStr)
		if err != nil || d <= 0 {
			fmt.Println("Error: Lifetime must be a positive duration such as 30m or 2h")
			return
		}
		ttl = d
	}

	// Secret, only when the environment does not provide one.
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Print("Enter JWT Secret: ")
		byteSecret, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			fmt.Println("\nError reading secret")
			return
		}
		fmt.Println()
		secret = strings.TrimSpace(string(byteSecret))
		if secret == "" {
			fmt.Println("Error: JWT secret is required")
			return
		}
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	auth := service.NewAuthService(secret, cfg.JWTIssuer)
	token, err := auth.IssueToken(userID, name, ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	fmt.Printf("\nToken for '%s' (expires in %s):\n%s\n", userID, ttl, token)
}
