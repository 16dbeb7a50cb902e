package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "FEED_PUBLISHER_CONFIG"
	ledgerPathEnv = "LEDGER_PATH"

	defaultPostFormat  = "{title}\n\nRead more: {link}"
	defaultPDSURL      = "https://bsky.social"
	defaultMinPostDate = "2024-11-13"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging  LoggingConfig   `yaml:"logging"`
	Ledger   LedgerConfig    `yaml:"ledger"`
	Bot      BotConfig       `yaml:"bot"`
	Feed     FeedConfig      `yaml:"feed"`
	Accounts []AccountConfig `yaml:"accounts"`
}

// LoggingConfig selects handler level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LedgerConfig describes the SQLite dedup store.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// BotConfig groups pipeline behavior knobs shared by all accounts.
type BotConfig struct {
	PollIntervalSeconds      int    `yaml:"pollIntervalSeconds"`
	MaxItemsPerCycle         int    `yaml:"maxItemsPerCycle"`
	MaxLoginRetries          int    `yaml:"maxLoginRetries"`
	InitialLoginDelaySeconds int    `yaml:"initialLoginDelaySeconds"`
	PostsToCheck             int    `yaml:"postsToCheck"`
	PostSpacingSeconds       int    `yaml:"postSpacingSeconds"`
	PostFormat               string `yaml:"postFormat"`
	CharacterBudget          int    `yaml:"characterBudget"`

	DuplicateDetection DuplicateDetectionConfig `yaml:"duplicateDetection"`
	Enrichment         EnrichmentConfig         `yaml:"enrichment"`
}

// PollInterval resolves the inter-cycle sleep.
func (b BotConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalSeconds) * time.Second
}

// InitialLoginDelay resolves the first login backoff step.
func (b BotConfig) InitialLoginDelay() time.Duration {
	return time.Duration(b.InitialLoginDelaySeconds) * time.Second
}

// PostSpacing resolves the delay inserted between successive publishes.
func (b BotConfig) PostSpacing() time.Duration {
	return time.Duration(b.PostSpacingSeconds) * time.Second
}

// DuplicateDetectionConfig toggles the dedup signals.
type DuplicateDetectionConfig struct {
	CheckLedger  bool `yaml:"checkLedger"`
	CheckRemote  bool `yaml:"checkRemote"`
	AutoBackfill bool `yaml:"autoBackfill"`
}

// EnrichmentConfig controls the preview-resolution chain.
type EnrichmentConfig struct {
	Enabled       bool `yaml:"enabled"`
	MaxImageBytes int  `yaml:"maxImageBytes"`
	MaxDimension  int  `yaml:"maxDimension"`
	JPEGQuality   int  `yaml:"jpegQuality"`

	UseOGImage     bool `yaml:"useOgImage"`
	UseTwitterCard bool `yaml:"useTwitterImage"`
	UseWPPostImage bool `yaml:"useWpPostImage"`
	UseFirstImage  bool `yaml:"useFirstImage"`
}

// FeedConfig filters feed entries before they reach the pipeline.
type FeedConfig struct {
	MinPostDate string `yaml:"minPostDate"`
}

// MinDate parses the YYYY-MM-DD cutoff; zero time when unset or invalid.
func (f FeedConfig) MinDate() time.Time {
	t, err := time.Parse("2006-01-02", f.MinPostDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AccountConfig describes a single remote account. Credentials are loaded
// only from environment variables keyed by the account name; they never
// appear in the YAML file.
type AccountConfig struct {
	Name       string `yaml:"name"`
	Identifier string `yaml:"-"`
	Password   string `yaml:"-"`
	FeedURL    string `yaml:"feedUrl"`
	PDSURL     string `yaml:"pdsUrl"`
}

// Valid reports whether the account carries everything needed to run.
func (a AccountConfig) Valid() bool {
	return a.Name != "" && a.Identifier != "" && a.Password != "" && a.FeedURL != ""
}

// Load reads the YAML file named by FEED_PUBLISHER_CONFIG (if any) over the
// defaults and applies environment overrides. Absent YAML keys keep their
// default values. A FEED_PUBLISHER_CONFIG that names an unreadable or
// unparseable file is an error, never a silent fall-back to defaults.
func Load() (Config, error) {
	if path := os.Getenv(configPathEnv); path != "" {
		return LoadFile(path)
	}

	cfg := defaultConfig()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// LoadFile reads the given YAML file over defaults, then env overrides.
func LoadFile(path string) (Config, error) {
	cfg := defaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	// Unmarshalling into the populated defaults keeps any key the file
	// does not mention.
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return defaultConfig(), fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Validate drops accounts without credentials and fails when none survive.
func (c *Config) Validate() error {
	valid := c.Accounts[:0]
	for _, acct := range c.Accounts {
		if acct.Valid() {
			valid = append(valid, acct)
		}
	}
	c.Accounts = valid

	if len(c.Accounts) == 0 {
		return fmt.Errorf("no account carries identifier, password, and feed URL")
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(ledgerPathEnv); v != "" {
		c.Ledger.Path = v
	}

	for i := range c.Accounts {
		acct := &c.Accounts[i]
		prefix := envPrefix(acct.Name)

		if v := os.Getenv(prefix + "_IDENTIFIER"); v != "" {
			acct.Identifier = v
		}
		if v := os.Getenv(prefix + "_PASSWORD"); v != "" {
			acct.Password = v
		}
		if v := os.Getenv(prefix + "_FEED_URL"); v != "" {
			acct.FeedURL = v
		}
		if v := os.Getenv(prefix + "_PDS_URL"); v != "" {
			acct.PDSURL = v
		}
		if acct.PDSURL == "" {
			acct.PDSURL = defaultPDSURL
		}
	}
}

func envPrefix(name string) string {
	prefix := strings.ToUpper(name)
	prefix = strings.ReplaceAll(prefix, "-", "_")
	return strings.ReplaceAll(prefix, " ", "_")
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Ledger:  LedgerConfig{Enabled: true, Path: "posts.db"},
		Bot: BotConfig{
			PollIntervalSeconds:      300,
			MaxItemsPerCycle:         10,
			MaxLoginRetries:          3,
			InitialLoginDelaySeconds: 5,
			PostsToCheck:             20,
			PostSpacingSeconds:       5,
			PostFormat:               defaultPostFormat,
			CharacterBudget:          300,
			DuplicateDetection: DuplicateDetectionConfig{
				CheckLedger:  true,
				CheckRemote:  true,
				AutoBackfill: true,
			},
			Enrichment: EnrichmentConfig{
				Enabled:        true,
				MaxImageBytes:  1_000_000,
				MaxDimension:   1024,
				JPEGQuality:    65,
				UseOGImage:     true,
				UseTwitterCard: true,
				UseWPPostImage: true,
				UseFirstImage:  true,
			},
		},
		Feed: FeedConfig{MinPostDate: defaultMinPostDate},
	}
}
