package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds application configuration
type Config struct {
	Port              string
	DBConn            string
	LogLevel          string
	JWTSecret         string
	EncryptionKey     []byte
	CardBIN           string
	CardValidityYears int
	ExpirationCron    string
	Storage           string
	AutoMigrate       bool
	// SeedUsers are registered at startup by the memory backend, which has
	// no auth service feeding it users
	SeedUsers []models.User
}

// NewConfig loads configuration from environment variables.
// A .env file in the working directory is read first if present; variables
// already set in the environment win.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DBConn:         getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=bank sslmode=disable"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:      getEnv("JWT_SECRET", "secret"),
		CardBIN:        getEnv("CARD_BIN", "400000"),
		ExpirationCron: getEnv("EXPIRATION_CRON", "0 0 * * *"),
		Storage:        strings.ToLower(getEnv("STORAGE", StoragePostgres)),
	}

	key, err := hex.DecodeString(getEnv("ENCRYPTION_KEY", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"))
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be hex: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 16, 24, or 32 bytes, got %d", len(key))
	}
	cfg.EncryptionKey = key

	if cfg.CardValidityYears, err = strconv.Atoi(getEnv("CARD_VALIDITY_YEARS", "3")); err != nil || cfg.CardValidityYears <= 0 {
		return nil, fmt.Errorf("CARD_VALIDITY_YEARS must be a positive integer")
	}
	if cfg.AutoMigrate, err = strconv.ParseBool(getEnv("AUTO_MIGRATE", "true")); err != nil {
		return nil, fmt.Errorf("AUTO_MIGRATE must be a boolean: %w", err)
	}

	if cfg.SeedUsers, err = parseSeedUsers(getEnv("SEED_USERS", "")); err != nil {
		return nil, err
	}

	if cfg.Storage != StoragePostgres && cfg.Storage != StorageMemory {
		return nil, fmt.Errorf("STORAGE must be %q or %q, got %q", StoragePostgres, StorageMemory, cfg.Storage)
	}
	if cfg.Storage == StoragePostgres && cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

// parseSeedUsers reads a comma separated list of id:username:role entries
func parseSeedUsers(raw string) ([]models.User, error) {
	var users []models.User
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("SEED_USERS entry %q must be id:username:role", entry)
		}
		id, err := uuid.Parse(parts[0])
		if err != nil {
			return nil, fmt.Errorf("SEED_USERS entry %q: invalid id: %w", entry, err)
		}
		role := models.Role(strings.ToUpper(parts[2]))
		if role != models.RoleUser && role != models.RoleAdmin {
			return nil, fmt.Errorf("SEED_USERS entry %q: unknown role %q", entry, parts[2])
		}
		users = append(users, models.User{ID: id, Username: parts[1], Role: role})
	}
	return users, nil
}
