package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

const (
	ModeDev     = "dev"
	ModeRelease = "release"

	BackendMySQL  = "mysql"
	BackendMongo  = "mongo"
	BackendMemory = "memory"

	AuthLocal  = "local"
	AuthRemote = "remote"
)

type DatabaseConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"user"`
	Password    string `yaml:"password"`
	DBName      string `yaml:"dbname"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type MongoConfig struct {
	URI    string `yaml:"uri"`
	DBName string `yaml:"dbname"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`

	// TLS is served when both files are set; otherwise plain HTTP behind a proxy.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

func (s ServerConfig) TLS() bool { return s.TLSCert != "" && s.TLSKey != "" }

type AuthConfig struct {
	Provider  string `yaml:"provider"`
	JWTSecret string `yaml:"jwt_secret"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`

	// TokenTTL is how long locally issued tokens stay valid.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// AdminID and AdminPassword seed the first admin account of the local provider.
	AdminID       string `yaml:"admin_id"`
	AdminPassword string `yaml:"admin_password"`
}

type SchedulerConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ReconcileSpec  string `yaml:"reconcile"`
	LedgerSpec     string `yaml:"ledger_export"`
	ReconcileBatch int    `yaml:"reconcile_batch"`
}

type SheetsConfig struct {
	CredentialsPath string `yaml:"credentials_path"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	Range           string `yaml:"range"`
}

// Enabled reports whether the daily ledger export has somewhere to write.
func (s SheetsConfig) Enabled() bool {
	return s.CredentialsPath != "" && s.SpreadsheetID != ""
}

type Config struct {
	Version   string          `yaml:"version"`
	Mode      string          `yaml:"mode"`
	Server    ServerConfig    `yaml:"server"`
	DB        DatabaseConfig  `yaml:"database"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Store     StoreConfig     `yaml:"store"`
	Auth      AuthConfig      `yaml:"auth"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Sheets    SheetsConfig    `yaml:"sheets"`
}

// Load reads the yaml file at path, overlays secrets from the environment
// (a .env file is honoured when present) and validates the result.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(buf)
}

// Parse is Load without the file read.
func Parse(buf []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Mode:   ModeDev,
		Server: ServerConfig{Addr: ":8080"},
		DB:     DatabaseConfig{Host: "127.0.0.1", Port: 3306},
		Mongo:  MongoConfig{DBName: "toollend"},
		Store:  StoreConfig{Backend: BackendMySQL},
		Auth:   AuthConfig{Provider: AuthLocal, TokenTTL: 24 * time.Hour},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			ReconcileSpec:  "*/5 * * * *",
			LedgerSpec:     "0 20 * * *",
			ReconcileBatch: 100,
		},
		Sheets: SheetsConfig{Range: "Ledger!A:I"},
	}
}

func (c *Config) applyEnv() {
	overrideString(&c.Mode, "APP_MODE")
	overrideString(&c.Server.Addr, "APP_ADDR")
	overrideString(&c.DB.Host, "DB_HOST")
	overrideString(&c.DB.Username, "DB_USER")
	overrideString(&c.DB.Password, "DB_PASSWORD")
	overrideString(&c.DB.DBName, "DB_NAME")
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.DB.Port = p
		}
	}
	overrideString(&c.Mongo.URI, "MONGODB_URI")
	overrideString(&c.Mongo.DBName, "MONGODB_DB_NAME")
	overrideString(&c.Store.Backend, "STORE_BACKEND")
	overrideString(&c.Auth.Provider, "AUTH_PROVIDER")
	overrideString(&c.Auth.JWTSecret, "JWT_SECRET")
	overrideString(&c.Auth.BaseURL, "AUTH_BASE_URL")
	overrideString(&c.Auth.APIKey, "AUTH_API_KEY")
	overrideString(&c.Auth.AdminID, "ADMIN_ID")
	overrideString(&c.Auth.AdminPassword, "ADMIN_PASSWORD")
	overrideString(&c.Sheets.CredentialsPath, "SHEETS_CREDENTIALS_PATH")
	overrideString(&c.Sheets.SpreadsheetID, "SHEETS_SPREADSHEET_ID")
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Mode != ModeDev && c.Mode != ModeRelease {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeDev, ModeRelease, c.Mode)
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr must be provided")
	}

	switch c.Store.Backend {
	case BackendMySQL:
		if c.DB.DBName == "" || c.DB.Username == "" {
			return errors.New("database.user and database.dbname must be provided for the mysql backend")
		}
	case BackendMongo:
		if c.Mongo.URI == "" {
			return errors.New("mongo.uri (or MONGODB_URI) must be provided for the mongo backend")
		}
	case BackendMemory:
		if c.Mode == ModeRelease {
			return errors.New("the memory backend is only allowed in dev mode")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}

	switch c.Auth.Provider {
	case AuthLocal:
		if c.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret (or JWT_SECRET) must be provided for the local provider")
		}
		if c.Store.Backend == BackendMongo {
			return errors.New("the local auth provider keeps accounts in mysql; use auth.provider remote with the mongo backend")
		}
	case AuthRemote:
		if c.Auth.BaseURL == "" {
			return errors.New("auth.base_url (or AUTH_BASE_URL) must be provided for the remote provider")
		}
	default:
		return fmt.Errorf("unknown auth.provider %q", c.Auth.Provider)
	}

	if c.Scheduler.ReconcileBatch <= 0 {
		c.Scheduler.ReconcileBatch = 100
	}
	return nil
}
