package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// devCodeSecret is used when GATEPASS_CODE_SECRET is unset in dev.  Codes
// and tokens issued under it are worthless outside a developer machine.
const devCodeSecret = "gatepass-dev-secret-do-not-use-in-prod"

type Config struct {
	HTTPAddr string
	GRPCAddr string // "" disables the gRPC health listener

	Env   string // "dev" | "prod"
	Store string // "sqlite" | "memory"

	// DB
	DBPath string // e.g. "./data/gatepass.db"

	RosterPath string

	CodeSecret string
	TokenTTL   time.Duration

	// Workflow policy
	ApprovalValidity time.Duration
	MaxOutstanding   int

	// Expiry scheduler
	SweepInterval   time.Duration
	SweepBatchLimit int
	WarningWindow   time.Duration

	// Notifications
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaUsername string
	KafkaPassword string
	EventEncoding string // "json" | "protobuf"
	NotifyBuffer  int

	ArtifactMaxAttempts int
}

// Load reads envFile into the process environment, without overriding
// variables that are already set, and then returns FromEnv.  A missing
// file is not an error.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv(), nil
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("GATEPASS_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	storeKind := strings.ToLower(getenvDefault("GATEPASS_STORE", "sqlite"))
	if storeKind != "sqlite" && storeKind != "memory" {
		storeKind = "sqlite"
	}

	secret := os.Getenv("GATEPASS_CODE_SECRET")
	if strings.TrimSpace(secret) == "" && env == "dev" {
		secret = devCodeSecret
	}

	return Config{
		HTTPAddr: getenvDefault("GATEPASS_HTTP_ADDR", ":8080"),
		GRPCAddr: getenvOptional("GATEPASS_GRPC_ADDR", ":9090"),
		Env:      env,
		Store:    storeKind,
		DBPath:   getenvDefault("GATEPASS_DB_PATH", "./data/gatepass.db"),

		RosterPath: strings.TrimSpace(os.Getenv("GATEPASS_ROSTER_PATH")),

		CodeSecret: secret,
		TokenTTL:   time.Duration(getenvInt("GATEPASS_TOKEN_TTL_HOURS", 24)) * time.Hour,

		ApprovalValidity: time.Duration(getenvInt("GATEPASS_APPROVAL_VALIDITY_MINUTES", 60)) * time.Minute,
		MaxOutstanding:   getenvInt("GATEPASS_MAX_OUTSTANDING", 3),

		SweepInterval:   time.Duration(getenvInt("GATEPASS_SWEEP_INTERVAL_MINUTES", 5)) * time.Minute,
		SweepBatchLimit: getenvInt("GATEPASS_SWEEP_BATCH_LIMIT", 100),
		WarningWindow:   time.Duration(getenvInt("GATEPASS_WARNING_WINDOW_MINUTES", 15)) * time.Minute,

		KafkaBrokers:  splitCSV(os.Getenv("GATEPASS_KAFKA_BROKERS")),
		KafkaTopic:    getenvDefault("GATEPASS_KAFKA_TOPIC", "gatepass.events"),
		KafkaUsername: os.Getenv("GATEPASS_KAFKA_USERNAME"),
		KafkaPassword: os.Getenv("GATEPASS_KAFKA_PASSWORD"),
		EventEncoding: strings.ToLower(getenvDefault("GATEPASS_EVENT_ENCODING", "json")),
		NotifyBuffer:  getenvInt("GATEPASS_NOTIFY_BUFFER", 256),

		ArtifactMaxAttempts: getenvInt("GATEPASS_ARTIFACT_MAX_ATTEMPTS", 5),
	}
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.CodeSecret) == "" {
		errs = append(errs, errors.New("GATEPASS_CODE_SECRET is required in prod"))
	}
	if c.Store == "sqlite" && strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("GATEPASS_DB_PATH is required for the sqlite store"))
	}
	if c.ApprovalValidity <= 0 {
		errs = append(errs, errors.New("GATEPASS_APPROVAL_VALIDITY_MINUTES must be positive"))
	}
	if c.MaxOutstanding <= 0 {
		errs = append(errs, errors.New("GATEPASS_MAX_OUTSTANDING must be positive"))
	}
	return errors.Join(errs...)
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// getenvOptional is getenvDefault, except that a variable set to the
// empty string yields "" rather than def.
func getenvOptional(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return strings.TrimSpace(v)
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
