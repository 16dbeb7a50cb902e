package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := defaultConfig()

	assert.Equal(t, 5*time.Minute, cfg.Bot.PollInterval())
	assert.Equal(t, 5*time.Second, cfg.Bot.PostSpacing())
	assert.Equal(t, 5*time.Second, cfg.Bot.InitialLoginDelay())
	assert.Equal(t, 3, cfg.Bot.MaxLoginRetries)
	assert.Equal(t, 300, cfg.Bot.CharacterBudget)
	assert.Equal(t, "{title}\n\nRead more: {link}", cfg.Bot.PostFormat)
	assert.True(t, cfg.Bot.DuplicateDetection.CheckLedger)
	assert.True(t, cfg.Bot.Enrichment.Enabled)
	assert.Equal(t, 1_000_000, cfg.Bot.Enrichment.MaxImageBytes)
	assert.True(t, cfg.Ledger.Enabled)
	assert.Equal(t, time.Date(2024, 11, 13, 0, 0, 0, 0, time.UTC), cfg.Feed.MinDate())
}

func TestLoadFileOverridesOnlyPresentKeys(t *testing.T) {
	path := writeConfig(t, `
bot:
  pollIntervalSeconds: 60
logging:
  level: debug
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Bot.PollInterval())
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Absent keys keep their defaults, including default-true booleans.
	assert.Equal(t, 10, cfg.Bot.MaxItemsPerCycle)
	assert.True(t, cfg.Bot.DuplicateDetection.AutoBackfill)
	assert.True(t, cfg.Bot.Enrichment.UseOGImage)
}

func TestLoadFileDisablesFlagsExplicitly(t *testing.T) {
	path := writeConfig(t, `
bot:
  duplicateDetection:
    autoBackfill: false
  enrichment:
    enabled: false
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.False(t, cfg.Bot.DuplicateDetection.AutoBackfill)
	assert.True(t, cfg.Bot.DuplicateDetection.CheckLedger, "sibling keys keep defaults")
	assert.False(t, cfg.Bot.Enrichment.Enabled)
}

func TestCredentialsComeFromEnvironmentOnly(t *testing.T) {
	path := writeConfig(t, `
accounts:
  - name: news-bot
    feedUrl: https://example.org/feed.xml
    identifier: must-be-ignored
    password: must-be-ignored
`)

	t.Setenv("NEWS_BOT_IDENTIFIER", "bot.bsky.social")
	t.Setenv("NEWS_BOT_PASSWORD", "app-password")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 1)

	acct := cfg.Accounts[0]
	assert.Equal(t, "bot.bsky.social", acct.Identifier)
	assert.Equal(t, "app-password", acct.Password)
	assert.Equal(t, "https://example.org/feed.xml", acct.FeedURL)
	assert.Equal(t, defaultPDSURL, acct.PDSURL)
	assert.True(t, acct.Valid())
}

func TestEnvOverridesFeedAndPDSURL(t *testing.T) {
	path := writeConfig(t, `
accounts:
  - name: news-bot
    feedUrl: https://example.org/feed.xml
`)

	t.Setenv("NEWS_BOT_IDENTIFIER", "bot.bsky.social")
	t.Setenv("NEWS_BOT_PASSWORD", "app-password")
	t.Setenv("NEWS_BOT_FEED_URL", "https://override.example.org/feed.xml")
	t.Setenv("NEWS_BOT_PDS_URL", "https://pds.example.org")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 1)

	assert.Equal(t, "https://override.example.org/feed.xml", cfg.Accounts[0].FeedURL)
	assert.Equal(t, "https://pds.example.org", cfg.Accounts[0].PDSURL)
}

func TestLedgerPathEnvOverride(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv("LEDGER_PATH", "/var/lib/feedpublisher/posts.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/feedpublisher/posts.db", cfg.Ledger.Path)
}

func TestLoadFailsOnMissingConfigFile(t *testing.T) {
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadFailsOnUnparseableConfigFile(t *testing.T) {
	t.Setenv(configPathEnv, writeConfig(t, "bot: [not, a, mapping"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestValidateDropsAccountsWithoutCredentials(t *testing.T) {
	cfg := defaultConfig()
	cfg.Accounts = []AccountConfig{
		{Name: "complete", Identifier: "a", Password: "b", FeedURL: "https://example.org/f"},
		{Name: "no-creds", FeedURL: "https://example.org/f"},
		{Name: "no-feed", Identifier: "a", Password: "b"},
	}

	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "complete", cfg.Accounts[0].Name)
}

func TestValidateFailsWithNoUsableAccounts(t *testing.T) {
	cfg := defaultConfig()
	cfg.Accounts = []AccountConfig{{Name: "no-creds"}}

	assert.Error(t, cfg.Validate())
}

func TestEnvPrefixNormalization(t *testing.T) {
	assert.Equal(t, "NEWS_BOT", envPrefix("news-bot"))
	assert.Equal(t, "MY_ACCOUNT", envPrefix("my account"))
	assert.Equal(t, "PLAIN", envPrefix("plain"))
}

func TestMinDateInvalidFallsBackToZero(t *testing.T) {
	f := FeedConfig{MinPostDate: "not-a-date"}
	assert.True(t, f.MinDate().IsZero())
}
