// Package config handles loading and validation of service configuration.
// Supports a config file, development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"gopkg.in/yaml.v3"

	"jilt-connector/internal/model"
)

// Defaults applied when a value is not configured.
const (
	DefaultPort           = "8080"
	DefaultAPIBaseURL     = "https://api.jilt.com/v1"
	DefaultTimeout        = 5 * time.Second
	DefaultMaxRequestAge  = 300 * time.Second
	DefaultPluginVersion  = "1.2.0"
	DefaultSecretName     = "jilt-connector"
	DefaultRateLimitBurst = 20
)

// Config holds all service configuration.
// Environment determines whether secrets load from env vars (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	SecretName string

	// PluginVersion is reported in x-jilt-version and to the remote service.
	PluginVersion string

	Store StoreConfig
	Jilt  JiltConfig

	// Infrastructure. Empty URLs select in-memory stores.
	DatabaseURL string
	RedisURL    string

	// HookToken authenticates storefront hooks. Hooks are refused without it.
	HookToken string
	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit      float64
	RateLimitBurst int
}

// StoreConfig describes the storefront this connector serves.
type StoreConfig struct {
	HomeURL               string `json:"home_url" yaml:"home_url"`
	CheckoutURL           string `json:"checkout_url,omitempty" yaml:"checkout_url,omitempty"`
	Domain                string `json:"domain,omitempty" yaml:"domain,omitempty"` // Derived from HomeURL if not set
	PrettyPermalinks      bool   `json:"pretty_permalinks" yaml:"pretty_permalinks"`
	Name                  string `json:"name,omitempty" yaml:"name,omitempty"`
	Currency              string `json:"currency,omitempty" yaml:"currency,omitempty"`
	AdminURL              string `json:"admin_url,omitempty" yaml:"admin_url,omitempty"`
	CountryCode           string `json:"country_code,omitempty" yaml:"country_code,omitempty"`
	ProvinceCode          string `json:"province_code,omitempty" yaml:"province_code,omitempty"`
	Timezone              string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	FreeShippingAvailable bool   `json:"free_shipping_available" yaml:"free_shipping_available"`
	OwnerName             string `json:"owner_name,omitempty" yaml:"owner_name,omitempty"`
	OwnerEmail            string `json:"owner_email,omitempty" yaml:"owner_email,omitempty"`
	SupportsSSL           bool   `json:"-" yaml:"-"` // Derived from HomeURL

	// WooCommerce REST API credentials and version.
	ConsumerKey     string `json:"consumer_key,omitempty" yaml:"consumer_key,omitempty"`
	ConsumerSecret  string `json:"consumer_secret,omitempty" yaml:"consumer_secret,omitempty"`
	StoreAPIVersion string `json:"woocommerce_version,omitempty" yaml:"woocommerce_version,omitempty"`
}

// JiltConfig configures the remote service client and signed request checks.
type JiltConfig struct {
	APIBaseURL    string
	// SecretKey is the startup key. It may be empty until the shop is
	// linked; a stored secret_key setting overrides it.
	SecretKey     string
	Timeout       time.Duration
	ChromeTLS     bool
	MaxRequestAge time.Duration
}

// fileConfig matches the CONFIG_FILE structure. Durations are strings
// such as "5s".
type fileConfig struct {
	Port          string      `json:"port" yaml:"port"`
	Environment   string      `json:"environment" yaml:"environment"`
	LogLevel      string      `json:"log_level" yaml:"log_level"`
	PluginVersion string      `json:"plugin_version" yaml:"plugin_version"`
	Store         StoreConfig `json:"store" yaml:"store"`
	Jilt          struct {
		APIBaseURL    string `json:"api_base_url" yaml:"api_base_url"`
		SecretKey     string `json:"secret_key" yaml:"secret_key"`
		Timeout       string `json:"timeout" yaml:"timeout"`
		ChromeTLS     bool   `json:"chrome_tls" yaml:"chrome_tls"`
		MaxRequestAge string `json:"max_request_age" yaml:"max_request_age"`
	} `json:"jilt" yaml:"jilt"`
	DatabaseURL    string  `json:"database_url" yaml:"database_url"`
	RedisURL       string  `json:"redis_url" yaml:"redis_url"`
	HookToken      string  `json:"hook_token" yaml:"hook_token"`
	RateLimit      float64 `json:"rate_limit" yaml:"rate_limit"`
	RateLimitBurst int     `json:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// secretPayload is the JSON stored in Secret Manager.
type secretPayload struct {
	SecretKey      string `json:"secret_key"`
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
	DatabaseURL    string `json:"database_url"`
	RedisURL       string `json:"redis_url"`
	HookToken      string `json:"hook_token"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg, err := loadFromEnv()
	if err != nil {
		return nil, err
	}

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if err := cfg.loadFromSecretManager(ctx); err != nil {
			return nil, fmt.Errorf("loading secrets: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads all configuration from a JSON or YAML file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	timeout, err := parseDuration("jilt.timeout", fc.Jilt.Timeout)
	if err != nil {
		return nil, err
	}
	maxAge, err := parseDuration("jilt.max_request_age", fc.Jilt.MaxRequestAge)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:          fc.Port,
		Environment:   fc.Environment,
		LogLevel:      fc.LogLevel,
		PluginVersion: fc.PluginVersion,
		Store:         fc.Store,
		Jilt: JiltConfig{
			APIBaseURL:    fc.Jilt.APIBaseURL,
			SecretKey:     fc.Jilt.SecretKey,
			Timeout:       timeout,
			ChromeTLS:     fc.Jilt.ChromeTLS,
			MaxRequestAge: maxAge,
		},
		DatabaseURL:    fc.DatabaseURL,
		RedisURL:       fc.RedisURL,
		HookToken:      fc.HookToken,
		RateLimit:      fc.RateLimit,
		RateLimitBurst: fc.RateLimitBurst,
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv reads configuration from environment variables.
// In production the secret fields are then overlaid from Secret Manager.
func loadFromEnv() (*Config, error) {
	cfg := &Config{
		Port:          os.Getenv("PORT"),
		Environment:   os.Getenv("ENVIRONMENT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		GCPProject:    os.Getenv("GCP_PROJECT"),
		SecretName:    os.Getenv("SECRET_NAME"),
		PluginVersion: os.Getenv("PLUGIN_VERSION"),
		Store: StoreConfig{
			HomeURL:               os.Getenv("STORE_HOME_URL"),
			CheckoutURL:           os.Getenv("STORE_CHECKOUT_URL"),
			Domain:                os.Getenv("STORE_DOMAIN"),
			Name:                  os.Getenv("STORE_NAME"),
			Currency:              os.Getenv("STORE_CURRENCY"),
			AdminURL:              os.Getenv("STORE_ADMIN_URL"),
			CountryCode:           os.Getenv("STORE_COUNTRY"),
			ProvinceCode:          os.Getenv("STORE_PROVINCE"),
			Timezone:              os.Getenv("STORE_TIMEZONE"),
			OwnerName:             os.Getenv("STORE_OWNER_NAME"),
			OwnerEmail:            os.Getenv("STORE_OWNER_EMAIL"),
			ConsumerKey:           os.Getenv("WOOCOMMERCE_CONSUMER_KEY"),
			ConsumerSecret:        os.Getenv("WOOCOMMERCE_CONSUMER_SECRET"),
			StoreAPIVersion:       os.Getenv("WOOCOMMERCE_VERSION"),
			PrettyPermalinks:      envBool("STORE_PRETTY_PERMALINKS"),
			FreeShippingAvailable: envBool("STORE_FREE_SHIPPING"),
		},
		Jilt: JiltConfig{
			APIBaseURL: os.Getenv("JILT_API_URL"),
			SecretKey:  os.Getenv("JILT_SECRET_KEY"),
			ChromeTLS:  envBool("JILT_CHROME_TLS"),
		},
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		HookToken:   os.Getenv("HOOK_TOKEN"),
	}

	var err error
	if cfg.Jilt.Timeout, err = parseDuration("JILT_TIMEOUT", os.Getenv("JILT_TIMEOUT")); err != nil {
		return nil, err
	}
	if cfg.Jilt.MaxRequestAge, err = parseDuration("JILT_MAX_REQUEST_AGE", os.Getenv("JILT_MAX_REQUEST_AGE")); err != nil {
		return nil, err
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		if cfg.RateLimit, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("parsing RATE_LIMIT: %w", err)
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if cfg.RateLimitBurst, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("parsing RATE_LIMIT_BURST: %w", err)
		}
	}
	return cfg, nil
}

// loadFromSecretManager overlays secrets from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{secret}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, withDefault(c.SecretName, DefaultSecretName))

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	var secrets secretPayload
	if err := json.Unmarshal(result.Payload.Data, &secrets); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	c.applySecrets(&secrets)
	return nil
}

// applySecrets overlays non-empty secret values.
func (c *Config) applySecrets(s *secretPayload) {
	c.Jilt.SecretKey = withDefault(s.SecretKey, c.Jilt.SecretKey)
	c.Store.ConsumerKey = withDefault(s.ConsumerKey, c.Store.ConsumerKey)
	c.Store.ConsumerSecret = withDefault(s.ConsumerSecret, c.Store.ConsumerSecret)
	c.DatabaseURL = withDefault(s.DatabaseURL, c.DatabaseURL)
	c.RedisURL = withDefault(s.RedisURL, c.RedisURL)
	c.HookToken = withDefault(s.HookToken, c.HookToken)
}

func (c *Config) applyDefaults() {
	c.Port = withDefault(c.Port, DefaultPort)
	c.Environment = withDefault(c.Environment, "development")
	c.LogLevel = withDefault(c.LogLevel, "info")
	c.PluginVersion = withDefault(c.PluginVersion, DefaultPluginVersion)
	c.Jilt.APIBaseURL = withDefault(c.Jilt.APIBaseURL, DefaultAPIBaseURL)
	if c.Jilt.Timeout <= 0 {
		c.Jilt.Timeout = DefaultTimeout
	}
	if c.Jilt.MaxRequestAge <= 0 {
		c.Jilt.MaxRequestAge = DefaultMaxRequestAge
	}
	if c.RateLimit > 0 && c.RateLimitBurst <= 0 {
		c.RateLimitBurst = DefaultRateLimitBurst
	}

	home := strings.TrimSuffix(c.Store.HomeURL, "/")
	if home == "" {
		return
	}
	c.Store.HomeURL = home
	if c.Store.Domain == "" {
		c.Store.Domain = extractDomain(home)
	}
	if c.Store.CheckoutURL == "" {
		c.Store.CheckoutURL = home + "/checkout/"
	}
	if c.Store.AdminURL == "" {
		c.Store.AdminURL = home + "/wp-admin/"
	}
	c.Store.SupportsSSL = strings.HasPrefix(home, "https://")
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.Store.HomeURL == "" {
		return fmt.Errorf("store home_url is required")
	}
	if err := checkURL("home_url", c.Store.HomeURL); err != nil {
		return err
	}
	if err := checkURL("checkout_url", c.Store.CheckoutURL); err != nil {
		return err
	}
	if err := checkURL("jilt api_base_url", c.Jilt.APIBaseURL); err != nil {
		return err
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	return nil
}

// ShopData returns the static shop metadata pushed to the remote service.
// Domain, version and toggles are filled in by the integration service.
func (c *Config) ShopData() model.ShopData {
	return model.ShopData{
		AdminURL:              c.Store.AdminURL,
		WooCommerceVersion:    c.Store.StoreAPIVersion,
		Name:                  c.Store.Name,
		Currency:              c.Store.Currency,
		ProvinceCode:          c.Store.ProvinceCode,
		CountryCode:           c.Store.CountryCode,
		Timezone:              c.Store.Timezone,
		FreeShippingAvailable: c.Store.FreeShippingAvailable,
		SupportsSSL:           c.Store.SupportsSSL,
		ShopOwner:             c.Store.OwnerName,
		Email:                 c.Store.OwnerEmail,
	}
}

// HasWooCommerceAPI reports whether REST credentials are configured.
func (c *Config) HasWooCommerceAPI() bool {
	return c.Store.ConsumerKey != "" && c.Store.ConsumerSecret != ""
}

func checkURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s: %q is not an absolute http(s) URL", field, raw)
	}
	return nil
}

func parseDuration(name, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return d, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// extractDomain parses the domain from a URL string.
func extractDomain(storeURL string) string {
	u, err := url.Parse(storeURL)
	if err != nil {
		// Fallback: strip protocol prefix manually
		domain := strings.TrimPrefix(storeURL, "https://")
		domain = strings.TrimPrefix(domain, "http://")
		return strings.Split(domain, "/")[0]
	}
	return u.Host
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}
