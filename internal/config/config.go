package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	JWTSigningKey string   `mapstructure:"JWT_SIGNING_KEY"`
	AuthIssuer    string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience  string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	// Ledger network
	FabricPeerEndpoint string `mapstructure:"FABRIC_PEER_ENDPOINT"`
	FabricGatewayPeer  string `mapstructure:"FABRIC_GATEWAY_PEER"`
	FabricTLSCert      string `mapstructure:"FABRIC_TLS_CERT"`
	FabricMSPID        string `mapstructure:"FABRIC_MSP_ID"`
	FabricChannel      string `mapstructure:"FABRIC_CHANNEL"`
	FabricChaincode    string `mapstructure:"FABRIC_CHAINCODE"`
	OperatorCertPath   string `mapstructure:"OPERATOR_CERT_PATH"`
	OperatorKeyPath    string `mapstructure:"OPERATOR_KEY_PATH"`
	WalletDir          string `mapstructure:"WALLET_DIR"`

	EventCheckpointPath   string        `mapstructure:"EVENT_CHECKPOINT_PATH"`
	LedgerEvaluateTimeout time.Duration `mapstructure:"LEDGER_EVALUATE_TIMEOUT"`
	LedgerCommitTimeout   time.Duration `mapstructure:"LEDGER_COMMIT_TIMEOUT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("FABRIC_CHANNEL", "mychannel")
	v.SetDefault("FABRIC_CHAINCODE", "recordregistry")
	v.SetDefault("WALLET_DIR", "./wallets")
	v.SetDefault("EVENT_CHECKPOINT_PATH", "./data/checkpoint")
	v.SetDefault("LEDGER_EVALUATE_TIMEOUT", "5s")
	v.SetDefault("LEDGER_COMMIT_TIMEOUT", "1m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"JWT_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS",
		"FABRIC_PEER_ENDPOINT", "FABRIC_GATEWAY_PEER", "FABRIC_TLS_CERT",
		"FABRIC_MSP_ID", "FABRIC_CHANNEL", "FABRIC_CHAINCODE",
		"OPERATOR_CERT_PATH", "OPERATOR_KEY_PATH", "WALLET_DIR",
		"EVENT_CHECKPOINT_PATH", "LEDGER_EVALUATE_TIMEOUT", "LEDGER_COMMIT_TIMEOUT",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: requests without a bearer token are treated as admin.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LedgerConfigured reports whether enough is set to dial the gateway peer.
func (c *Config) LedgerConfigured() bool {
	return c.FabricPeerEndpoint != "" && c.FabricMSPID != "" &&
		c.OperatorCertPath != "" && c.OperatorKeyPath != ""
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT signing key and the full ledger connection are required.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.JWTSigningKey != "" && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 bytes, got %d", len(c.JWTSigningKey))
	}

	missing := []string{}
	if c.FabricPeerEndpoint == "" {
		missing = append(missing, "FABRIC_PEER_ENDPOINT")
	}
	if c.FabricMSPID == "" {
		missing = append(missing, "FABRIC_MSP_ID")
	}
	if c.OperatorCertPath == "" {
		missing = append(missing, "OPERATOR_CERT_PATH")
	}
	if c.OperatorKeyPath == "" {
		missing = append(missing, "OPERATOR_KEY_PATH")
	}
	if c.FabricTLSCert != "" && c.FabricGatewayPeer == "" {
		missing = append(missing, "FABRIC_GATEWAY_PEER")
	}
	if len(missing) > 0 {
		return fmt.Errorf("ledger configuration incomplete: %s", strings.Join(missing, ", "))
	}

	if c.LedgerEvaluateTimeout <= 0 || c.LedgerCommitTimeout <= 0 {
		return fmt.Errorf("ledger timeouts must be positive")
	}
	return nil
}
