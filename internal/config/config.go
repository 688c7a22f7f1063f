package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cfg holds all runtime configuration loaded from environment variables.
type Cfg struct {
	// Hosted record store (PostgREST / Supabase).
	StoreURL string // DATAFIX_STORE_URL, e.g. https://xyz.supabase.co
	StoreKey string // DATAFIX_STORE_KEY, service role key

	// Store client tuning
	PageSize    int           // DATAFIX_PAGE_SIZE, rows per fetch
	MaxAttempts int           // DATAFIX_MAX_ATTEMPTS, tries per request
	Backoff     time.Duration // DATAFIX_BACKOFF, first retry delay
	Workers     int           // DATAFIX_WORKERS, concurrent updates

	// Change journal (SQLite file)
	JournalPath string // DATAFIX_JOURNAL

	// Audit connections
	LegacyDSN string // DATAFIX_LEGACY_DSN, sqlite://... or postgres://...
	TargetDSN string // DATAFIX_TARGET_DSN, optional direct Postgres; REST is used when empty

	// Report attestation
	SigningKey    string // DATAFIX_SIGNING_KEY, hex secp256k1 key (optional)
	TrustedSigner string // DATAFIX_TRUSTED_SIGNER, address verify requires (optional)
}

// Load reads .env (if present) then environment variables and returns Cfg.
func Load() (*Cfg, error) {
	// Best-effort: load .env from current directory
	_ = godotenv.Load()

	storeURL := strings.TrimSpace(os.Getenv("DATAFIX_STORE_URL"))
	storeURL = strings.TrimRight(storeURL, "/")
	storeURL = strings.TrimSuffix(storeURL, "/rest/v1")

	pageSize, err := envInt("DATAFIX_PAGE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	maxAttempts, err := envInt("DATAFIX_MAX_ATTEMPTS", 4)
	if err != nil {
		return nil, err
	}
	workers, err := envInt("DATAFIX_WORKERS", 4)
	if err != nil {
		return nil, err
	}

	backoff := 500 * time.Millisecond
	if raw := strings.TrimSpace(os.Getenv("DATAFIX_BACKOFF")); raw != "" {
		backoff, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("DATAFIX_BACKOFF: %w", err)
		}
	}

	journal := strings.TrimSpace(os.Getenv("DATAFIX_JOURNAL"))
	if journal == "" {
		journal = "datafix-journal.db"
	}

	return &Cfg{
		StoreURL:    storeURL,
		StoreKey:    strings.TrimSpace(os.Getenv("DATAFIX_STORE_KEY")),
		PageSize:    pageSize,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		Workers:     workers,
		JournalPath: journal,
		LegacyDSN:   strings.TrimSpace(os.Getenv("DATAFIX_LEGACY_DSN")),
		TargetDSN:   strings.TrimSpace(os.Getenv("DATAFIX_TARGET_DSN")),
		SigningKey:  strings.TrimSpace(os.Getenv("DATAFIX_SIGNING_KEY")),

		TrustedSigner: strings.TrimSpace(os.Getenv("DATAFIX_TRUSTED_SIGNER")),
	}, nil
}

// RequireStore checks that the store connection is configured.
func (c *Cfg) RequireStore() error {
	if c.StoreURL == "" {
		return fmt.Errorf("DATAFIX_STORE_URL must be set")
	}
	if c.StoreKey == "" {
		return fmt.Errorf("DATAFIX_STORE_KEY must be set")
	}
	return nil
}

// envInt parses a positive integer variable, returning def when unset.
func envInt(name string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return n, nil
}
