package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPPort      int
	SMTPPort      int
	DBPath        string
	JWTSecret     string
	DefaultDomain string

	RelayHost     string
	RelayPort     int
	RelayUsername string
	RelayPassword string

	IMAPHost string
	IMAPPort int
	IMAPTLS  bool
}

func Load() Config {
	return Config{
		HTTPPort:      getEnvInt("HTTP_PORT", 3025),
		SMTPPort:      getEnvInt("SMTP_PORT", 2025),
		DBPath:        getEnvString("DB_PATH", ""),
		JWTSecret:     getEnvString("JWT_SECRET", ""),
		DefaultDomain: getEnvString("DEFAULT_DOMAIN", "localhost"),
		RelayHost:     getEnvString("RELAY_HOST", "127.0.0.1"),
		RelayPort:     getEnvInt("RELAY_PORT", 25),
		RelayUsername: getEnvString("RELAY_USERNAME", ""),
		RelayPassword: getEnvString("RELAY_PASSWORD", ""),
		IMAPHost:      getEnvString("IMAP_HOST", ""),
		IMAPPort:      getEnvInt("IMAP_PORT", 993),
		IMAPTLS:       getEnvBool("IMAP_TLS", true),
	}
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
