// Command generate-totp prints the current admin TOTP code, or a fresh secret with -new.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"defeatthememe-backend/internal/config"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	fresh := flag.Bool("new", false, "generate a new secret instead of a code")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	account := cfg.Admin.Username
	if account == "" {
		account = "admin"
	}

	if *fresh {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      "DefeatTheMeme Admin",
			AccountName: account,
			Digits:      otp.DigitsSix,
			Algorithm:   otp.AlgorithmSHA1,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Secret: %s\n", key.Secret())
		fmt.Printf("URL:    %s\n", key.URL())
		fmt.Println("Save the secret to ADMIN_TOTP_SECRET")
		return
	}

	if cfg.Admin.TOTPSecret == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_TOTP_SECRET is not set, run with -new to create one")
		os.Exit(1)
	}
	code, err := totp.GenerateCode(cfg.Admin.TOTPSecret, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating TOTP code: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Current TOTP code for %s: %s\n", account, code)
	fmt.Println("Valid for: ~30 seconds")
}
