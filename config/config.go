/*
Copyright 2024 QZD Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Port      string `json:"port" envconfig:"QZD_SERVER_PORT"`
	SecretKey string `json:"secret_key" envconfig:"QZD_SERVER_SECRET_KEY"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"QZD_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"QZD_REDIS_SKIP_TLS_VERIFY"`
}

type SecurityConfig struct {
	// PublicKey is the hex encoded Ed25519 key that signs every mutation request.
	PublicKey             string `json:"public_key" envconfig:"QZD_SECURITY_PUBLIC_KEY"`
	StoreBackend          string `json:"store_backend" envconfig:"QZD_SECURITY_STORE_BACKEND"`
	NonceTTLSeconds       int    `json:"nonce_ttl_seconds" envconfig:"QZD_SECURITY_NONCE_TTL_SECONDS"`
	IdempotencyTTLSeconds int    `json:"idempotency_ttl_seconds" envconfig:"QZD_SECURITY_IDEMPOTENCY_TTL_SECONDS"`
}

type ValidatorConfig struct {
	ID        string `json:"id"`
	PublicKey string `json:"public_key"`
}

// ValidatorList decodes QZD_LEDGER_VALIDATORS in the form "id:hexkey,id:hexkey".
type ValidatorList []ValidatorConfig

func (v *ValidatorList) Decode(value string) error {
	var out ValidatorList
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, key, ok := strings.Cut(pair, ":")
		if !ok || id == "" || key == "" {
			return fmt.Errorf("invalid validator %q, expected id:public_key", pair)
		}
		out = append(out, ValidatorConfig{ID: strings.TrimSpace(id), PublicKey: strings.TrimSpace(key)})
	}
	*v = out
	return nil
}

type LedgerConfig struct {
	Asset             string        `json:"asset" envconfig:"QZD_LEDGER_ASSET"`
	Validators        ValidatorList `json:"validators" envconfig:"QZD_LEDGER_VALIDATORS"`
	ValidatorsFile    string        `json:"validators_file" envconfig:"QZD_LEDGER_VALIDATORS_FILE"`
	IssuanceThreshold int           `json:"issuance_threshold" envconfig:"QZD_LEDGER_ISSUANCE_THRESHOLD"`
}

// FraudConfig holds the rule constants. Amounts are minor units.
type FraudConfig struct {
	StructuringThreshold     int64 `json:"structuring_threshold" envconfig:"QZD_FRAUD_STRUCTURING_THRESHOLD"`
	StructuringMargin        int64 `json:"structuring_margin" envconfig:"QZD_FRAUD_STRUCTURING_MARGIN"`
	StructuringCount         int   `json:"structuring_count" envconfig:"QZD_FRAUD_STRUCTURING_COUNT"`
	StructuringWindowMinutes int   `json:"structuring_window_minutes" envconfig:"QZD_FRAUD_STRUCTURING_WINDOW_MINUTES"`
	VelocityCount            int   `json:"velocity_count" envconfig:"QZD_FRAUD_VELOCITY_COUNT"`
	VelocityWindowMinutes    int   `json:"velocity_window_minutes" envconfig:"QZD_FRAUD_VELOCITY_WINDOW_MINUTES"`
	BurstCount               int   `json:"burst_count" envconfig:"QZD_FRAUD_BURST_COUNT"`
	BurstWindowMinutes       int   `json:"burst_window_minutes" envconfig:"QZD_FRAUD_BURST_WINDOW_MINUTES"`
}

type JournalConfig struct {
	DeadLetterRetryIntervalSec int `json:"dead_letter_retry_interval_sec" envconfig:"QZD_JOURNAL_DEAD_LETTER_RETRY_INTERVAL_SEC"`
	ReconciliationIntervalSec  int `json:"reconciliation_interval_sec" envconfig:"QZD_JOURNAL_RECONCILIATION_INTERVAL_SEC"`
	MaxWorkers                 int `json:"max_workers" envconfig:"QZD_JOURNAL_MAX_WORKERS"`
}

type AccountsConfig struct {
	DefaultCurrency     string `json:"default_currency" envconfig:"QZD_ACCOUNTS_DEFAULT_CURRENCY"`
	RegistrationBalance int64  `json:"registration_balance" envconfig:"QZD_ACCOUNTS_REGISTRATION_BALANCE"`
	BasicDailyLimit     int64  `json:"basic_daily_limit" envconfig:"QZD_ACCOUNTS_BASIC_DAILY_LIMIT"`
	FullDailyLimit      int64  `json:"full_daily_limit" envconfig:"QZD_ACCOUNTS_FULL_DAILY_LIMIT"`
}

type AuthConfig struct {
	JWTSecret       string `json:"jwt_secret" envconfig:"QZD_AUTH_JWT_SECRET"`
	TokenTTLMinutes int    `json:"token_ttl_minutes" envconfig:"QZD_AUTH_TOKEN_TTL_MINUTES"`
}

type QueueConfig struct {
	WebhookQueue     string `json:"webhook_queue" envconfig:"QZD_QUEUE_WEBHOOK_QUEUE"`
	MaintenanceQueue string `json:"maintenance_queue" envconfig:"QZD_QUEUE_MAINTENANCE_QUEUE"`
	WebhookRetries   int    `json:"webhook_retries" envconfig:"QZD_QUEUE_WEBHOOK_RETRIES"`
	// MonitoringPort serves the asynqmon dashboard from the workers command. Empty disables it.
	MonitoringPort string `json:"monitoring_port" envconfig:"QZD_QUEUE_MONITORING_PORT"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"QZD_NOTIFICATION_SLACK_WEBHOOK_URL"`
}

type WebhookConfig struct {
	Url     string            `json:"url" envconfig:"QZD_NOTIFICATION_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type RateLimitConfig struct {
	RequestsPerSecond *float64 `json:"requests_per_second" envconfig:"QZD_RATE_LIMIT_RPS"`
	Burst             *int     `json:"burst" envconfig:"QZD_RATE_LIMIT_BURST"`
}

type TracingConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint" envconfig:"QZD_TRACING_OTLP_ENDPOINT"`
	ServiceName  string `json:"service_name" envconfig:"QZD_TRACING_SERVICE_NAME"`
}

type Configuration struct {
	ProjectName  string          `json:"project_name" envconfig:"QZD_PROJECT_NAME"`
	Server       ServerConfig    `json:"server"`
	Redis        RedisConfig     `json:"redis"`
	Security     SecurityConfig  `json:"security"`
	Ledger       LedgerConfig    `json:"ledger"`
	Fraud        FraudConfig     `json:"fraud"`
	Journal      JournalConfig   `json:"journal"`
	Accounts     AccountsConfig  `json:"accounts"`
	Auth         AuthConfig      `json:"auth"`
	Queue        QueueConfig     `json:"queue"`
	Notification Notification    `json:"notification"`
	RateLimit    RateLimitConfig `json:"rate_limit"`
	Tracing      TracingConfig   `json:"tracing"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("qzd", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called qzd.json with your config ❌")
	}
	return c, nil
}

// ApplyDefaults validates cnf and fills in defaults, the same way a loaded file is processed.
func (cnf *Configuration) ApplyDefaults() error {
	return cnf.validateAndAddDefaults()
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "QZD Ledger"
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Security.PublicKey = strings.TrimSpace(cnf.Security.PublicKey)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if err := cnf.validateSecurity(); err != nil {
		return err
	}
	if err := cnf.validateLedger(); err != nil {
		return err
	}

	if cnf.Auth.JWTSecret == "" {
		return errors.New("auth jwt secret is required")
	}
	if cnf.Auth.TokenTTLMinutes <= 0 {
		cnf.Auth.TokenTTLMinutes = 60
	}

	if cnf.Journal.MaxWorkers <= 0 {
		cnf.Journal.MaxWorkers = 5
	}

	cnf.addFraudDefaults()
	cnf.addAccountDefaults()

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "qzd_webhooks"
	}
	if cnf.Queue.MaintenanceQueue == "" {
		cnf.Queue.MaintenanceQueue = "qzd_maintenance"
	}
	if cnf.Queue.WebhookRetries <= 0 {
		cnf.Queue.WebhookRetries = 5
	}

	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}

	if cnf.Tracing.ServiceName == "" {
		cnf.Tracing.ServiceName = "qzd"
	}

	return nil
}

func (cnf *Configuration) validateSecurity() error {
	if cnf.Security.PublicKey == "" {
		return errors.New("security public key is required")
	}
	if _, err := DecodePublicKey(cnf.Security.PublicKey); err != nil {
		return fmt.Errorf("security public key: %w", err)
	}

	switch cnf.Security.StoreBackend {
	case "":
		cnf.Security.StoreBackend = StoreBackendMemory
	case StoreBackendMemory:
	case StoreBackendRedis:
		if cnf.Redis.Dns == "" {
			return errors.New("redis DNS is required for the redis store backend")
		}
	default:
		return fmt.Errorf("unknown security store backend %q", cnf.Security.StoreBackend)
	}

	if cnf.Security.NonceTTLSeconds < 0 || cnf.Security.IdempotencyTTLSeconds < 0 {
		return errors.New("security ttl values cannot be negative")
	}
	return nil
}

func (cnf *Configuration) validateLedger() error {
	if cnf.Ledger.Asset == "" {
		cnf.Ledger.Asset = "QZD"
	}

	if cnf.Ledger.ValidatorsFile != "" {
		fromFile, err := loadValidatorsFile(cnf.Ledger.ValidatorsFile)
		if err != nil {
			return err
		}
		cnf.Ledger.Validators = append(cnf.Ledger.Validators, fromFile...)
	}

	if len(cnf.Ledger.Validators) == 0 {
		return errors.New("at least one ledger validator is required")
	}

	seen := make(map[string]bool, len(cnf.Ledger.Validators))
	for _, v := range cnf.Ledger.Validators {
		if v.ID == "" {
			return errors.New("ledger validator id is required")
		}
		if seen[v.ID] {
			return fmt.Errorf("duplicate ledger validator %s", v.ID)
		}
		seen[v.ID] = true
		if _, err := DecodePublicKey(v.PublicKey); err != nil {
			return fmt.Errorf("ledger validator %s: %w", v.ID, err)
		}
	}

	if cnf.Ledger.IssuanceThreshold == 0 {
		cnf.Ledger.IssuanceThreshold = 2
		if len(cnf.Ledger.Validators) < 2 {
			cnf.Ledger.IssuanceThreshold = len(cnf.Ledger.Validators)
		}
		log.Printf("Warning: issuance threshold not specified. Setting default value: %d", cnf.Ledger.IssuanceThreshold)
	}
	if cnf.Ledger.IssuanceThreshold < 1 || cnf.Ledger.IssuanceThreshold > len(cnf.Ledger.Validators) {
		return fmt.Errorf("issuance threshold must be between 1 and %d", len(cnf.Ledger.Validators))
	}
	return nil
}

func (cnf *Configuration) addFraudDefaults() {
	f := &cnf.Fraud
	if f.StructuringThreshold == 0 {
		f.StructuringThreshold = 10000
	}
	if f.StructuringMargin == 0 {
		f.StructuringMargin = 500
	}
	if f.StructuringCount == 0 {
		f.StructuringCount = 3
	}
	if f.StructuringWindowMinutes == 0 {
		f.StructuringWindowMinutes = 15
	}
	if f.VelocityCount == 0 {
		f.VelocityCount = 5
	}
	if f.VelocityWindowMinutes == 0 {
		f.VelocityWindowMinutes = 2
	}
	if f.BurstCount == 0 {
		f.BurstCount = 5
	}
	if f.BurstWindowMinutes == 0 {
		f.BurstWindowMinutes = 5
	}
}

func (cnf *Configuration) addAccountDefaults() {
	if cnf.Accounts.DefaultCurrency == "" {
		cnf.Accounts.DefaultCurrency = cnf.Ledger.Asset
	}
	if cnf.Accounts.RegistrationBalance == 0 {
		cnf.Accounts.RegistrationBalance = 100000
	}
	if cnf.Accounts.BasicDailyLimit == 0 {
		cnf.Accounts.BasicDailyLimit = 50000
	}
}

func loadValidatorsFile(path string) (ValidatorList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open validators file: %w", err)
	}
	defer f.Close()

	var validators ValidatorList
	if err := json.NewDecoder(f).Decode(&validators); err != nil {
		return nil, fmt.Errorf("decode validators file: %w", err)
	}
	return validators, nil
}

// DecodePublicKey parses a hex encoded Ed25519 public key.
func DecodePublicKey(value string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("public key is not hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
