package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to .italihub-moderation.yml.
func RunWizard() (*Config, error) {
	fmt.Println("Welcome! Let's configure the moderation service.")
	fmt.Println()

	defaults := DefaultConfig()

	// 1. Listen port.
	portPrompt := promptui.Prompt{
		Label:   "HTTP port",
		Default: fmt.Sprint(defaults.Port),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 || n > 65535 {
				return fmt.Errorf("enter a port between 1 and 65535")
			}
			return nil
		},
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	port, _ := strconv.Atoi(portStr)

	// 2. Data directory.
	dataPrompt := promptui.Prompt{
		Label:   "Data directory (SQLite database location)",
		Default: defaults.DataDir,
	}
	dataDir, err := dataPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	// 3. JWT secret. Generated when left blank.
	secretPrompt := promptui.Prompt{
		Label:   "JWT signing secret (blank to generate)",
		Mask:    '*',
		Default: "",
	}
	secret, err := secretPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("jwt secret: %w", err)
	}
	if secret == "" {
		secret, err = generateSecret()
		if err != nil {
			return nil, err
		}
		fmt.Println("Generated a random JWT secret.")
	}

	// 4. Kafka brokers, optional.
	kafkaPrompt := promptui.Prompt{
		Label:   "Kafka brokers (comma-separated, blank to disable)",
		Default: "",
	}
	brokersStr, err := kafkaPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("kafka brokers: %w", err)
	}

	// 5. Ad expiry.
	ttlPrompt := promptui.Prompt{
		Label:   "Days before an online ad expires",
		Default: fmt.Sprint(defaults.AdTTLDays),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				return fmt.Errorf("enter a positive number of days")
			}
			return nil
		},
	}
	ttlStr, err := ttlPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("ad ttl: %w", err)
	}
	ttl, _ := strconv.Atoi(ttlStr)

	cfg := defaults
	cfg.Port = port
	cfg.DataDir = dataDir
	cfg.JWTSecret = secret
	cfg.AdTTLDays = ttl
	cfg.Kafka.Brokers = splitAndTrim(brokersStr)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Save(DefaultFileName); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", DefaultFileName)
	return cfg, nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// splitAndTrim splits a comma-separated string and trims whitespace.
func splitAndTrim(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if token := strings.TrimSpace(part); token != "" {
			result = append(result, token)
		}
	}
	return result
}
