package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	configContent := `
server:
  port: 9090
minio:
  endpoint: "localhost:9000"
  access_key: "minioadmin"
  secret_key: "minioadmin"
  bucket: "test-bucket"
  use_ssl: false
  expire_days: 14
processor:
  api_url: "https://api.processor.test"
  api_token: "test-token"
  timeout_seconds: 30
auth:
  jwt_secret: "test-secret"
  token_expire_hours: 48
log:
  level: "debug"
  format: "json"
uploads:
  max_contract_bytes: 1048576
  max_data_bytes: 524288
analysis:
  reclaim_after_minutes: 5
store:
  max_uploads: 50
  max_analyses: 25
users:
  - id: "u-1"
    username: "testuser"
    password: "testpass"
    roles: ["member"]
`
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(configContent); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()

	// Test loading config
	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify values
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Minio.Endpoint != "localhost:9000" {
		t.Errorf("Expected endpoint localhost:9000, got %s", cfg.Minio.Endpoint)
	}
	if cfg.Minio.ExpireDays != 14 {
		t.Errorf("Expected expire_days 14, got %d", cfg.Minio.ExpireDays)
	}
	if cfg.Processor.TimeoutSeconds != 30 {
		t.Errorf("Expected timeout_seconds 30, got %d", cfg.Processor.TimeoutSeconds)
	}
	if cfg.Auth.TokenExpireHours != 48 {
		t.Errorf("Expected token_expire_hours 48, got %d", cfg.Auth.TokenExpireHours)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Expected log format json, got %s", cfg.Log.Format)
	}
	if cfg.Uploads.MaxContractBytes != 1048576 {
		t.Errorf("Expected max_contract_bytes 1048576, got %d", cfg.Uploads.MaxContractBytes)
	}
	if cfg.Analysis.ReclaimAfterMinutes != 5 {
		t.Errorf("Expected reclaim_after_minutes 5, got %d", cfg.Analysis.ReclaimAfterMinutes)
	}
	if cfg.Store.MaxUploads != 50 {
		t.Errorf("Expected max_uploads 50, got %d", cfg.Store.MaxUploads)
	}
	if len(cfg.Users) != 1 {
		t.Errorf("Expected 1 user, got %d", len(cfg.Users))
	}
	if cfg.Users[0].ID != "u-1" {
		t.Errorf("Expected user ID u-1, got %s", cfg.Users[0].ID)
	}
	if len(cfg.Users[0].Roles) != 1 || cfg.Users[0].Roles[0] != "member" {
		t.Errorf("Expected roles [member], got %v", cfg.Users[0].Roles)
	}
}

func TestLoadDefaults(t *testing.T) {
	// Create minimal config to test defaults
	configContent := `
minio:
  endpoint: "localhost:9000"
  access_key: "test"
  secret_key: "test"
  bucket: "bucket"
users:
  - username: "alice"
    password: "pw"
`
	tmpFile, err := os.CreateTemp("", "config-defaults-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(configContent); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Minio.ExpireDays != 7 {
		t.Errorf("Expected default expire_days 7, got %d", cfg.Minio.ExpireDays)
	}
	if cfg.Auth.TokenExpireHours != 24 {
		t.Errorf("Expected default token_expire_hours 24, got %d", cfg.Auth.TokenExpireHours)
	}
	if cfg.Processor.TimeoutSeconds != 60 {
		t.Errorf("Expected default timeout_seconds 60, got %d", cfg.Processor.TimeoutSeconds)
	}
	if cfg.Uploads.MaxContractBytes != 25<<20 {
		t.Errorf("Expected default max_contract_bytes, got %d", cfg.Uploads.MaxContractBytes)
	}
	if cfg.Analysis.ReclaimAfterMinutes != 10 {
		t.Errorf("Expected default reclaim_after_minutes 10, got %d", cfg.Analysis.ReclaimAfterMinutes)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level info, got %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Expected default log format text, got %s", cfg.Log.Format)
	}
	// User without explicit ID falls back to username
	if cfg.Users[0].ID != "alice" {
		t.Errorf("Expected user ID to default to username, got %s", cfg.Users[0].ID)
	}
}

func TestLoadNonExistent(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error for non-existent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "config-invalid-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString("invalid: yaml: content:"); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()

	_, err = Load(tmpFile.Name())
	if err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestFindUser(t *testing.T) {
	cfg := &Config{
		Users: []User{
			{ID: "u-1", Username: "user1", Password: "pass1"},
			{ID: "u-2", Username: "user2", Password: "pass2"},
		},
	}

	// Test finding existing user
	user := cfg.FindUser("user1")
	if user == nil {
		t.Fatal("Expected to find user1")
	}
	if user.Password != "pass1" {
		t.Errorf("Expected password pass1, got %s", user.Password)
	}

	// Test finding non-existent user
	user = cfg.FindUser("nonexistent")
	if user != nil {
		t.Error("Expected nil for non-existent user")
	}

	// Test finding by ID
	user = cfg.FindUserByID("u-2")
	if user == nil || user.Username != "user2" {
		t.Error("Expected to find user2 by ID")
	}
	if cfg.FindUserByID("absent") != nil {
		t.Error("Expected nil for non-existent user ID")
	}
}
