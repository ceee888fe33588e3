package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Minio     MinioConfig     `yaml:"minio"`
	Processor ProcessorConfig `yaml:"processor"`
	Auth      AuthConfig      `yaml:"auth"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Store     StoreConfig     `yaml:"store"`
	Users     []User          `yaml:"users"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

// ProcessorConfig points at the external extraction/analysis API.
type ProcessorConfig struct {
	APIURL         string `yaml:"api_url"`
	APIToken       string `yaml:"api_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

// UploadsConfig sets per-kind byte ceilings; oversized files are rejected
// before any storage side effect.
type UploadsConfig struct {
	MaxContractBytes int64 `yaml:"max_contract_bytes"`
	MaxDataBytes     int64 `yaml:"max_data_bytes"`
}

type AnalysisConfig struct {
	// ReclaimAfterMinutes bounds how long a record may sit in "processing"
	// before a new transition attempt may reclaim it after a crash.
	ReclaimAfterMinutes int `yaml:"reclaim_after_minutes"`
}

type StoreConfig struct {
	MaxUploads  int `yaml:"max_uploads"`  // 0 = unlimited
	MaxAnalyses int `yaml:"max_analyses"` // 0 = unlimited
}

type User struct {
	ID           string   `yaml:"id"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`      // plain compare, dev only
	PasswordHash string   `yaml:"password_hash"` // bcrypt, preferred
	Roles        []string `yaml:"roles"`
}

var GlobalConfig *Config

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Minio.ExpireDays == 0 {
		cfg.Minio.ExpireDays = 7
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
	if cfg.Processor.TimeoutSeconds == 0 {
		cfg.Processor.TimeoutSeconds = 60
	}
	if cfg.Uploads.MaxContractBytes == 0 {
		cfg.Uploads.MaxContractBytes = 25 << 20 // 25 MiB
	}
	if cfg.Uploads.MaxDataBytes == 0 {
		cfg.Uploads.MaxDataBytes = 10 << 20 // 10 MiB
	}
	if cfg.Analysis.ReclaimAfterMinutes == 0 {
		cfg.Analysis.ReclaimAfterMinutes = 10
	}
	for i := range cfg.Users {
		if cfg.Users[i].ID == "" {
			cfg.Users[i].ID = cfg.Users[i].Username
		}
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}

// FindUserByID finds a user by ID
func (c *Config) FindUserByID(id string) *User {
	for i := range c.Users {
		if c.Users[i].ID == id {
			return &c.Users[i]
		}
	}
	return nil
}
