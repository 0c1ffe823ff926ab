// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/list-harvester/internal/browser/headless"
	"github.com/JakeFAU/list-harvester/internal/detector"
	"github.com/JakeFAU/list-harvester/internal/export"
	"github.com/JakeFAU/list-harvester/internal/extract"
	"github.com/JakeFAU/list-harvester/internal/harvest"
	"github.com/JakeFAU/list-harvester/internal/logging"
	"github.com/JakeFAU/list-harvester/internal/navigate"
	"github.com/JakeFAU/list-harvester/internal/progress"
	"github.com/JakeFAU/list-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/list-harvester/internal/storage/postgres"
)

// EnvPrefix prefixes every environment override, e.g. HARVEST_RUN_START_PAGE.
const EnvPrefix = "HARVEST"

// Config captures every harvester knob loaded via Viper.
type Config struct {
	Run        RunConfig        `mapstructure:"run"`
	Site       SiteConfig       `mapstructure:"site"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Navigation NavigationConfig `mapstructure:"navigation"`
	Detect     DetectConfig     `mapstructure:"detect"`
	Traverse   TraverseConfig   `mapstructure:"traverse"`
	Extract    extract.Config   `mapstructure:"extract"`
	Export     export.Config    `mapstructure:"export"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts"`
	State      StateConfig      `mapstructure:"state"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Progress   progress.Config  `mapstructure:"progress"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// RunConfig bounds the page range and the restart loop.
type RunConfig struct {
	StartPage          int           `mapstructure:"start_page"`
	EndPage            int           `mapstructure:"end_page"`
	PageSize           int           `mapstructure:"page_size"`
	RestartBudget      int           `mapstructure:"restart_budget"`
	RestartBackoffBase time.Duration `mapstructure:"restart_backoff_base"`
	RestartBackoffMax  time.Duration `mapstructure:"restart_backoff_max"`
	OutputDir          string        `mapstructure:"output_dir"`
}

// SiteConfig addresses the target site.
type SiteConfig struct {
	ListURL   string `mapstructure:"list_url"`
	PageParam string `mapstructure:"page_param"`
	// EntryURL is opened for manual login; defaults to ListURL.
	EntryURL            string `mapstructure:"entry_url"`
	HealthURL           string `mapstructure:"health_url"`
	ListReadySelector   string `mapstructure:"list_ready_selector"`
	DetailReadySelector string `mapstructure:"detail_ready_selector"`
	LoginPrompt         string `mapstructure:"login_prompt"`
}

// BrowserConfig binds Chrome to a persistent profile.
type BrowserConfig struct {
	ProfileDir      string `mapstructure:"profile_dir"`
	headless.Config `mapstructure:",squash"`
}

// NavigationConfig holds guard windows plus acquisition timeouts.
type NavigationConfig struct {
	navigate.Config `mapstructure:",squash"`
	HealthTimeout   time.Duration `mapstructure:"health_timeout"`
	AuthReadyWait   time.Duration `mapstructure:"auth_ready_wait"`
}

// DetectConfig lists checkpoint signals and loader selectors.
type DetectConfig struct {
	detector.CheckpointConfig `mapstructure:",squash"`
	LoaderSelectors           []string `mapstructure:"loader_selectors"`
}

// TraverseConfig shapes scrolling and detail pacing.
type TraverseConfig struct {
	ScrollSteps    int           `mapstructure:"scroll_steps"`
	ScrollDistance int           `mapstructure:"scroll_distance"`
	ScrollPauseMin time.Duration `mapstructure:"scroll_pause_min"`
	ScrollPauseMax time.Duration `mapstructure:"scroll_pause_max"`
	// DetailRate is detail pages per second; zero disables pacing.
	DetailRate  float64 `mapstructure:"detail_rate"`
	DetailBurst int     `mapstructure:"detail_burst"`
}

// ArtifactsConfig selects where per-record PDFs go.
type ArtifactsConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Backend         string `mapstructure:"backend"`
	LocalDir        string `mapstructure:"local_dir"`
	GCSBucket       string `mapstructure:"gcs_bucket"`
	Prefix          string `mapstructure:"prefix"`
	Landscape       bool   `mapstructure:"landscape"`
	PrintBackground bool   `mapstructure:"print_background"`
}

// StateConfig locates the resume file and the record journal.
type StateConfig struct {
	Path       string `mapstructure:"path"`
	JournalDir string `mapstructure:"journal_dir"`
}

// NotifyConfig toggles operator alert channels.
type NotifyConfig struct {
	Console bool          `mapstructure:"console"`
	Bell    bool          `mapstructure:"bell"`
	Source  string        `mapstructure:"source"`
	PubSub  pubsub.Config `mapstructure:"pubsub"`
}

// LedgerConfig enables the Postgres run ledger when DSN is set.
type LedgerConfig struct {
	postgres.Config `mapstructure:",squash"`
}

// ServerConfig controls the optional ops HTTP server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig selects the zap encoder and minimum level.
type LoggingConfig = logging.Config

// Load builds a Config from defaults, a config file and the environment.
// An empty path searches for harvester.{yaml,json,toml} in the working
// directory and $HOME/.harvester; finding none is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("harvester")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.harvester")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.derive()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.start_page", 37)
	v.SetDefault("run.end_page", 1)
	v.SetDefault("run.page_size", 10)
	v.SetDefault("run.restart_budget", 6)
	v.SetDefault("run.restart_backoff_base", "2s")
	v.SetDefault("run.restart_backoff_max", "30s")
	v.SetDefault("run.output_dir", "output")

	v.SetDefault("site.list_url", "https://www.linkedin.com/my-items/saved-jobs/?cardType=APPLIED")
	v.SetDefault("site.page_param", "start")
	v.SetDefault("site.health_url", "https://www.linkedin.com/feed/")
	v.SetDefault("site.list_ready_selector",
		"xpath://div[contains(@class,'linked-area')]//a[contains(@href, '/jobs/view/')]")
	v.SetDefault("site.detail_ready_selector", "css:h1")

	v.SetDefault("browser.profile_dir", "chrome_profile")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.window_width", 1440)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.script_timeout", "15s")
	v.SetDefault("browser.print_timeout", "60s")

	nav := navigate.DefaultConfig()
	v.SetDefault("navigation.ready_timeout", nav.ReadyTimeout)
	v.SetDefault("navigation.refresh_window", nav.RefreshWindow)
	v.SetDefault("navigation.marker_wait", nav.MarkerWait)
	v.SetDefault("navigation.poll_interval", nav.PollInterval)
	v.SetDefault("navigation.health_timeout", "25s")
	v.SetDefault("navigation.auth_ready_wait", "15s")

	det := detector.DefaultCheckpointConfig()
	v.SetDefault("detect.challenge_paths", det.ChallengePaths)
	v.SetDefault("detect.title_phrases", det.TitlePhrases)
	v.SetDefault("detect.css_markers", det.CSSMarkers)
	v.SetDefault("detect.text_markers", det.TextMarkers)
	v.SetDefault("detect.loader_selectors", detector.DefaultLoaderSelectors)

	v.SetDefault("traverse.scroll_steps", 4)
	v.SetDefault("traverse.scroll_distance", 700)
	v.SetDefault("traverse.scroll_pause_min", "300ms")
	v.SetDefault("traverse.scroll_pause_max", "800ms")
	v.SetDefault("traverse.detail_rate", 0.5)
	v.SetDefault("traverse.detail_burst", 1)

	ex := extract.DefaultConfig()
	v.SetDefault("extract.list_anchor", ex.ListAnchor)
	v.SetDefault("extract.card_title", ex.CardTitle)
	v.SetDefault("extract.card_group", ex.CardGroup)
	v.SetDefault("extract.card_noise", ex.CardNoise)
	v.SetDefault("extract.id_pattern", ex.IDPattern)
	v.SetDefault("extract.detail_title", ex.DetailTitle)
	v.SetDefault("extract.detail_group", ex.DetailGroup)
	v.SetDefault("extract.detail_recency", ex.DetailRecency)
	v.SetDefault("extract.detail_body", ex.DetailBody)
	v.SetDefault("extract.expand_script", ex.ExpandScript)
	v.SetDefault("extract.min_body_length", ex.MinBodyLength)
	v.SetDefault("extract.summary_length", ex.SummaryLength)
	v.SetDefault("extract.timezone", ex.Timezone)
	v.SetDefault("extract.unknown_title", ex.UnknownTitle)
	v.SetDefault("extract.unknown_group", ex.UnknownGroup)
	v.SetDefault("extract.unknown_recency", ex.UnknownRecency)
	v.SetDefault("extract.missing_body_label", ex.MissingBodyLabel)

	v.SetDefault("export.csv", true)
	v.SetDefault("export.xlsx", true)
	v.SetDefault("export.summary_name", "applications_2025_2026")
	v.SetDefault("export.full_name", "applications_full_descriptions")
	v.SetDefault("export.sheet_name", "Applications")

	v.SetDefault("artifacts.enabled", true)
	v.SetDefault("artifacts.backend", "local")
	v.SetDefault("artifacts.prefix", "pdfs")
	v.SetDefault("artifacts.print_background", true)

	v.SetDefault("notify.console", true)
	v.SetDefault("notify.bell", true)

	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "5s")

	v.SetDefault("ledger.max_conns", 4)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", "127.0.0.1:9090")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// derive fills paths that default relative to run.output_dir.
func (c *Config) derive() {
	if c.Site.EntryURL == "" {
		c.Site.EntryURL = c.Site.ListURL
	}
	out := c.Run.OutputDir
	if c.Export.Dir == "" {
		c.Export.Dir = out
	}
	if c.Artifacts.LocalDir == "" {
		c.Artifacts.LocalDir = filepath.Join(out, "pdfs")
	}
	if c.State.Path == "" {
		c.State.Path = filepath.Join(out, "scrape_state.json")
	}
	if c.State.JournalDir == "" {
		c.State.JournalDir = filepath.Join(out, "journal")
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Run.StartPage <= 0 || c.Run.EndPage <= 0 {
		return fmt.Errorf("run.start_page and run.end_page must be >= 1")
	}
	if c.Run.PageSize <= 0 {
		return fmt.Errorf("run.page_size must be > 0")
	}
	if c.Run.RestartBudget <= 0 {
		return fmt.Errorf("run.restart_budget must be > 0")
	}
	if c.Run.OutputDir == "" {
		return fmt.Errorf("run.output_dir is required")
	}
	if c.Site.ListURL == "" {
		return fmt.Errorf("site.list_url is required")
	}
	if c.Site.HealthURL == "" {
		return fmt.Errorf("site.health_url is required")
	}
	if strings.TrimSpace(c.Site.ListReadySelector) == "" {
		return fmt.Errorf("site.list_ready_selector is required")
	}
	if c.Browser.ProfileDir == "" {
		return fmt.Errorf("browser.profile_dir is required")
	}
	if c.Navigation.ReadyTimeout <= 0 || c.Navigation.PollInterval <= 0 {
		return fmt.Errorf("navigation.ready_timeout and navigation.poll_interval must be > 0")
	}
	if c.Traverse.ScrollPauseMax < c.Traverse.ScrollPauseMin {
		return fmt.Errorf("traverse.scroll_pause_max must be >= scroll_pause_min")
	}
	if c.Traverse.DetailRate < 0 {
		return fmt.Errorf("traverse.detail_rate must be >= 0")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if !c.Export.CSV && !c.Export.XLSX {
		return fmt.Errorf("export: enable csv or xlsx")
	}
	if c.Artifacts.Enabled {
		switch c.Artifacts.Backend {
		case "local":
		case "gcs":
			if c.Artifacts.GCSBucket == "" {
				return fmt.Errorf("artifacts.gcs_bucket is required for the gcs backend")
			}
		default:
			return fmt.Errorf("artifacts.backend must be local or gcs, got %q", c.Artifacts.Backend)
		}
	}
	if (c.Notify.PubSub.ProjectID == "") != (c.Notify.PubSub.TopicID == "") {
		return fmt.Errorf("notify.pubsub requires both project_id and topic")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set when the server is enabled")
	}
	return nil
}

// ParseSelector reads "xpath:<expr>" or "css:<expr>"; a bare expression is
// CSS.
func ParseSelector(raw string) harvest.Selector {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "xpath:"):
		return harvest.XPath(strings.TrimPrefix(raw, "xpath:"))
	case strings.HasPrefix(raw, "css:"):
		return harvest.CSS(strings.TrimPrefix(raw, "css:"))
	default:
		return harvest.CSS(raw)
	}
}
