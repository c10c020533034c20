package db

import (
	"testing"

	"github.com/flowdeskhq/flowdesk/internal/config"
)

func TestRunMigrateUnknownCommand(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "flowdesk",
		Password: "secret",
		Database: "flowdesk",
		SSLMode:  "disable",
	}
	err := RunMigrate(nil, cfg, nil, "invalid", nil)
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
}
