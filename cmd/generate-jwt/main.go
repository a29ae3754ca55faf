// Command generate-jwt prints an admin token for local testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"defeatthememe-backend/internal/config"
	"defeatthememe-backend/internal/handlers"
)

func main() {
	var (
		configPath string
		username   string
		ttl        time.Duration
	)
	flag.StringVar(&configPath, "config", "", "path to config.yaml")
	flag.StringVar(&username, "user", "", "admin username (default: admin.username from config)")
	flag.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Admin.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_JWT_SECRET is not set")
		os.Exit(1)
	}
	if username == "" {
		username = cfg.Admin.Username
	}
	if username == "" {
		username = "admin"
	}

	token, err := handlers.IssueAdminToken([]byte(cfg.Admin.JWTSecret), username, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("============================================================")
	fmt.Println("Admin JWT")
	fmt.Println("============================================================")
	fmt.Println(token)
	fmt.Println()
	fmt.Printf("  User:    %s\n", username)
	fmt.Printf("  Expires: %s\n", time.Now().Add(ttl).Format(time.RFC3339))
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  curl -H 'Authorization: Bearer %s' http://127.0.0.1:8080/api/admin/relay-attempts\n", token)
}
