package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/agoodway/mulberry/crawler"
)

// Config carries everything the CLI needs to run a crawl. Library callers
// use crawler.Options directly; this layer exists so crawls are repeatable
// from a JSON file with flag overrides on top.
type Config struct {
	//===============
	//  Crawl scope
	//===============
	// Initial URLs. In website and sitemap mode only the first is the root.
	seedURLs []string
	// urls | website | sitemap
	mode string

	//===============
	// Limits
	//===============
	maxWorkers int
	maxDepth   int
	maxRetries int
	// crawl-wide deadline; zero means none
	crawlTimeout time.Duration

	//===============
	// Politeness
	//===============
	// per-domain refill rate in requests per second
	rateLimit float64
	// per-domain overrides of the refill rate
	domainRates   map[string]float64
	respectRobots bool
	userAgent     string

	//===============
	// Filtering
	//===============
	includePatterns []string
	excludePatterns []string

	//===============
	// Output
	//===============
	// JSONL results path; empty disables export
	outputPath string
	// stream logfmt crawl events to stderr
	verbose bool
	// return immediately and poll instead of blocking
	async bool
}

type configDTO struct {
	SeedURLs        []string           `json:"seedUrls"`
	Mode            string             `json:"mode,omitempty"`
	MaxWorkers      int                `json:"maxWorkers,omitempty"`
	MaxDepth        int                `json:"maxDepth,omitempty"`
	MaxRetries      int                `json:"maxRetries,omitempty"`
	CrawlTimeoutMs  int64              `json:"crawlTimeoutMs,omitempty"`
	RateLimit       float64            `json:"rateLimit,omitempty"`
	DomainRates     map[string]float64 `json:"domainRates,omitempty"`
	RespectRobots   *bool              `json:"respectRobotsTxt,omitempty"`
	UserAgent       string             `json:"userAgent,omitempty"`
	IncludePatterns []string           `json:"includePatterns,omitempty"`
	ExcludePatterns []string           `json:"excludePatterns,omitempty"`
	OutputPath      string             `json:"outputPath,omitempty"`
	Verbose         bool               `json:"verbose,omitempty"`
	Async           bool               `json:"async,omitempty"`
}

// WithDefault builds a config for the given seeds with every knob at its
// documented default.
func WithDefault(seeds []string) Config {
	return Config{
		seedURLs:      seeds,
		mode:          "urls",
		maxWorkers:    crawler.DefaultMaxWorkers,
		maxDepth:      crawler.DefaultMaxDepth,
		maxRetries:    crawler.DefaultMaxRetries,
		rateLimit:     crawler.DefaultRateLimit,
		respectRobots: true,
		userAgent:     crawler.DefaultUserAgent,
	}
}

// WithConfigFile loads a config from a JSON file.
func WithConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfigFileUnreadable, err)
	}
	var dto configDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfigFileInvalid, err)
	}
	if len(dto.SeedURLs) == 0 {
		return Config{}, fmt.Errorf("%w: seedUrls cannot be empty", ErrInvalidConfig)
	}

	cfg := WithDefault(dto.SeedURLs)
	if dto.Mode != "" {
		cfg.mode = dto.Mode
	}
	if dto.MaxWorkers > 0 {
		cfg.maxWorkers = dto.MaxWorkers
	}
	if dto.MaxDepth > 0 {
		cfg.maxDepth = dto.MaxDepth
	}
	if dto.MaxRetries > 0 {
		cfg.maxRetries = dto.MaxRetries
	}
	if dto.CrawlTimeoutMs > 0 {
		cfg.crawlTimeout = time.Duration(dto.CrawlTimeoutMs) * time.Millisecond
	}
	if dto.RateLimit > 0 {
		cfg.rateLimit = dto.RateLimit
	}
	if dto.RespectRobots != nil {
		cfg.respectRobots = *dto.RespectRobots
	}
	if dto.UserAgent != "" {
		cfg.userAgent = dto.UserAgent
	}
	cfg.domainRates = dto.DomainRates
	cfg.includePatterns = dto.IncludePatterns
	cfg.excludePatterns = dto.ExcludePatterns
	cfg.outputPath = dto.OutputPath
	cfg.verbose = dto.Verbose
	cfg.async = dto.Async

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.mode {
	case "urls", "website", "sitemap":
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.mode)
	}
	if len(c.seedURLs) == 0 {
		return fmt.Errorf("%w: no seed URLs", ErrInvalidConfig)
	}
	if c.rateLimit <= 0 {
		return fmt.Errorf("%w: rate limit must be positive", ErrInvalidConfig)
	}
	return nil
}

// Builder-style overrides for flag values.

func (c Config) WithMode(mode string) Config                 { c.mode = mode; return c }
func (c Config) WithMaxWorkers(n int) Config                 { c.maxWorkers = n; return c }
func (c Config) WithMaxDepth(n int) Config                   { c.maxDepth = n; return c }
func (c Config) WithMaxRetries(n int) Config                 { c.maxRetries = n; return c }
func (c Config) WithCrawlTimeout(d time.Duration) Config     { c.crawlTimeout = d; return c }
func (c Config) WithRateLimit(r float64) Config              { c.rateLimit = r; return c }
func (c Config) WithRespectRobots(b bool) Config             { c.respectRobots = b; return c }
func (c Config) WithUserAgent(ua string) Config              { c.userAgent = ua; return c }
func (c Config) WithIncludePatterns(p []string) Config       { c.includePatterns = p; return c }
func (c Config) WithExcludePatterns(p []string) Config       { c.excludePatterns = p; return c }
func (c Config) WithOutputPath(path string) Config           { c.outputPath = path; return c }
func (c Config) WithVerbose(v bool) Config                   { c.verbose = v; return c }
func (c Config) WithAsync(a bool) Config                     { c.async = a; return c }
func (c Config) WithDomainRates(m map[string]float64) Config { c.domainRates = m; return c }

// Getters.

func (c Config) SeedURLs() []string              { return c.seedURLs }
func (c Config) Mode() string                    { return c.mode }
func (c Config) MaxWorkers() int                 { return c.maxWorkers }
func (c Config) MaxDepth() int                   { return c.maxDepth }
func (c Config) MaxRetries() int                 { return c.maxRetries }
func (c Config) CrawlTimeout() time.Duration     { return c.crawlTimeout }
func (c Config) RateLimit() float64              { return c.rateLimit }
func (c Config) DomainRates() map[string]float64 { return c.domainRates }
func (c Config) RespectRobots() bool             { return c.respectRobots }
func (c Config) UserAgent() string               { return c.userAgent }
func (c Config) IncludePatterns() []string       { return c.includePatterns }
func (c Config) ExcludePatterns() []string       { return c.excludePatterns }
func (c Config) OutputPath() string              { return c.outputPath }
func (c Config) Verbose() bool                   { return c.verbose }
func (c Config) Async() bool                     { return c.async }

// EngineOptions maps the config onto crawler.Options.
func (c Config) EngineOptions() crawler.Options {
	return crawler.Options{
		MaxWorkers:      c.maxWorkers,
		RateLimit:       c.rateLimit,
		MaxDepth:        c.maxDepth,
		MaxRetries:      c.maxRetries,
		CrawlTimeout:    c.crawlTimeout,
		RespectRobots:   crawler.BoolPtr(c.respectRobots),
		UserAgent:       c.userAgent,
		IncludePatterns: c.includePatterns,
		ExcludePatterns: c.excludePatterns,
	}
}
