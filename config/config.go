package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a newsletter run. It is loaded once and
// passed by value into each component; nothing reads it from globals.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Mail       MailConfig       `mapstructure:"mail"`
	Template   TemplateConfig   `mapstructure:"template"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug bool `mapstructure:"debug"`
}

// PipelineConfig carries the per-run options.
type PipelineConfig struct {
	Recipient        string `mapstructure:"recipient"`
	Subject          string `mapstructure:"subject"`
	SourceURL        string `mapstructure:"source_url"`
	MaxPlanningTurns int    `mapstructure:"max_planning_turns"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	ArtifactPath     string `mapstructure:"artifact_path"`
}

// Timeout returns TimeoutSeconds as a duration.
func (p PipelineConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

func (p PipelineConfig) Normalize() PipelineConfig {
	p.Recipient = strings.TrimSpace(p.Recipient)
	p.Subject = strings.TrimSpace(p.Subject)
	if p.Subject == "" {
		p.Subject = DefaultSubject
	}
	p.SourceURL = strings.TrimSpace(p.SourceURL)
	if p.SourceURL == "" {
		p.SourceURL = DefaultSourceURL
	}
	if p.MaxPlanningTurns <= 0 {
		p.MaxPlanningTurns = DefaultMaxPlanningTurns
	}
	if p.TimeoutSeconds <= 0 {
		p.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return p
}

func (p PipelineConfig) Validate() error {
	u, err := url.Parse(p.SourceURL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("pipeline.source_url must be an absolute URL, got %q", p.SourceURL)
	}
	if p.MaxPlanningTurns <= 0 {
		return fmt.Errorf("pipeline.max_planning_turns must be > 0")
	}
	if p.TimeoutSeconds <= 0 {
		return fmt.Errorf("pipeline.timeout_seconds must be > 0")
	}
	return nil
}

// FetchConfig selects and tunes the page fetcher.
type FetchConfig struct {
	Backend      string            `mapstructure:"backend"` // http | chromedp
	UserAgent    string            `mapstructure:"user_agent"`
	Headers      map[string]string `mapstructure:"headers"`
	MaxBodyBytes int64             `mapstructure:"max_body_bytes"`
	MaxChars     int               `mapstructure:"max_chars"`
	CacheTTL     time.Duration     `mapstructure:"cache_ttl"`
}

func (f FetchConfig) Normalize() FetchConfig {
	f.Backend = strings.ToLower(strings.TrimSpace(f.Backend))
	if f.Backend == "" {
		f.Backend = "http"
	}
	if strings.TrimSpace(f.UserAgent) == "" {
		f.UserAgent = DefaultUserAgent
	}
	if f.MaxBodyBytes <= 0 {
		f.MaxBodyBytes = 8 << 20
	}
	if f.MaxChars <= 0 {
		f.MaxChars = 12000
	}
	return f
}

func (f FetchConfig) Validate() error {
	switch f.Backend {
	case "http", "chromedp":
		return nil
	default:
		return fmt.Errorf("fetch.backend must be http or chromedp, got %q", f.Backend)
	}
}

// ExtractionConfig holds the CSS selectors used to read article containers.
type ExtractionConfig struct {
	Container   string `mapstructure:"container"`
	Title       string `mapstructure:"title"`
	Date        string `mapstructure:"date"`
	Description string `mapstructure:"description"`
	Link        string `mapstructure:"link"`
	Image       string `mapstructure:"image"`
}

func (e ExtractionConfig) Normalize() ExtractionConfig {
	def := func(v, d string) string {
		if strings.TrimSpace(v) == "" {
			return d
		}
		return strings.TrimSpace(v)
	}
	e.Container = def(e.Container, "li.css-18vzruc")
	e.Title = def(e.Title, "h2.css-1rjem4a")
	e.Date = def(e.Date, "div.css-5ry8xk")
	e.Description = def(e.Description, "p.css-ur5q1p")
	e.Link = def(e.Link, "a.css-1wivj18")
	e.Image = def(e.Image, "img")
	return e
}

// LLMConfig configures the planner model.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai | gemini
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	switch l.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("llm.provider must be openai or gemini, got %q", l.Provider)
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	return nil
}

// MailConfig holds the SMTP submission endpoint and credentials.
type MailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

func (m MailConfig) Normalize() MailConfig {
	if strings.TrimSpace(m.From) == "" {
		m.From = m.Username
	}
	return m
}

func (m MailConfig) Validate() error {
	if strings.TrimSpace(m.Host) == "" {
		return fmt.Errorf("mail.host is required")
	}
	if m.Port <= 0 {
		return fmt.Errorf("mail.port must be > 0")
	}
	return nil
}

// TemplateConfig controls the document shell around the newsletter body.
type TemplateConfig struct {
	Heading         string `mapstructure:"heading"`
	ClosingNote     string `mapstructure:"closing_note"`
	Style           string `mapstructure:"style"`
	TextColor       string `mapstructure:"text_color"`
	BackgroundColor string `mapstructure:"background_color"`
	AccentColor     string `mapstructure:"accent_color"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig backs the fetch cache.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if r.Enabled && strings.TrimSpace(r.Addr) == "" {
		return fmt.Errorf("storage.redis.addr is required when redis is enabled")
	}
	return nil
}

// PostgresConfig backs the run archive.
type PostgresConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Host          string `mapstructure:"host"`
	Port          string `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	DBName        string `mapstructure:"db_name"`
	SSLMode       string `mapstructure:"ssl_mode"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// DSN returns URL when set, otherwise assembles one from the parts.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	host, port, ssl := p.Host, p.Port, p.SSLMode
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "5432"
	}
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, host, port, p.DBName, ssl)
}

func (p PostgresConfig) Validate() error {
	if p.Enabled && p.URL == "" && p.DBName == "" {
		return fmt.Errorf("storage.postgres.url or storage.postgres.db_name is required when postgres is enabled")
	}
	return nil
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && strings.TrimSpace(t.PushgatewayURL) == "" {
		return fmt.Errorf("telemetry.pushgateway_url is required when telemetry is enabled")
	}
	return nil
}

const (
	DefaultSubject          = "Newsletter of the day"
	DefaultSourceURL        = "https://www.healthline.com/health-news"
	DefaultMaxPlanningTurns = 6
	DefaultTimeoutSeconds   = 60
	DefaultUserAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.3"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.subject", DefaultSubject)
	v.SetDefault("pipeline.source_url", DefaultSourceURL)
	v.SetDefault("pipeline.max_planning_turns", DefaultMaxPlanningTurns)
	v.SetDefault("pipeline.timeout_seconds", DefaultTimeoutSeconds)
	v.SetDefault("fetch.backend", "http")
	v.SetDefault("fetch.cache_ttl", 15*time.Minute)
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-1.5-flash")
	v.SetDefault("llm.temperature", 0.5)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("mail.host", "smtp.gmail.com")
	v.SetDefault("mail.port", 465)
	v.SetDefault("template.heading", "Your Health Newsletter")
	v.SetDefault("template.closing_note", "Thanks for reading. See you in the next edition.")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.postgres.migrations_dir", "file://migrations")
	v.SetDefault("telemetry.job", "newsletter")
}

// bindLegacyEnv keeps the credential variable names the older cron scripts
// used working next to the NEWSLETTER_* ones.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("mail.username", "NEWSLETTER_MAIL_USERNAME", "GMAIL_USER")
	_ = v.BindEnv("mail.password", "NEWSLETTER_MAIL_PASSWORD", "GMAIL_PASSWORD")
	_ = v.BindEnv("llm.api_key", "NEWSLETTER_LLM_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("storage.postgres.url", "NEWSLETTER_STORAGE_POSTGRES_URL", "DATABASE_URL")
}

// LoadConfig reads configuration from path (or the default search paths when
// path is empty) and the environment. A missing config file is only an error
// when path was given explicitly.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("NEWSLETTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize applies defaults for every section.
func (c Config) Normalize() Config {
	c.Pipeline = c.Pipeline.Normalize()
	c.Fetch = c.Fetch.Normalize()
	c.Extraction = c.Extraction.Normalize()
	c.Mail = c.Mail.Normalize()
	return c
}

// Validate checks every section. The recipient is validated by the mail
// dispatcher, which owns that rule.
func (c Config) Validate() error {
	validators := []func() error{
		c.Pipeline.Validate,
		c.Fetch.Validate,
		c.LLM.Validate,
		c.Mail.Validate,
		c.Storage.Redis.Validate,
		c.Storage.Postgres.Validate,
		c.Telemetry.Validate,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}
