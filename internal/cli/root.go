package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agoodway/mulberry/internal/build"
	"github.com/agoodway/mulberry/internal/config"
)

var (
	cfgFile         string
	maxWorkers      int
	maxDepth        int
	maxRetries      int
	rateLimit       float64
	respectRobots   bool
	userAgent       string
	includePatterns []string
	excludePatterns []string
	crawlTimeout    time.Duration
	outputPath      string
	verbose         bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mulberry",
	Short: "A concurrent, polite web crawler.",
	Long: `mulberry crawls websites concurrently from seed URLs, a website root,
or sitemap-discovered URLs, extracting structured data and links while
staying polite: per-domain token-bucket rate limiting and robots.txt
compliance are on by default.

Results stream to a JSONL file via --output; crawl events stream to
stderr as logfmt with --verbose.`,
	Version: build.String(),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config-file", "", "config file path (e.g., /home/myuser/crawl.json)")
	pf.IntVar(&maxWorkers, "max-workers", 0, "upper bound on concurrent in-flight URLs")
	pf.IntVar(&maxDepth, "max-depth", 0, "maximum link depth from the root (website mode)")
	pf.IntVar(&maxRetries, "max-retries", 0, "per-URL retry budget for transient failures")
	pf.Float64Var(&rateLimit, "rate-limit", 0, "per-domain request rate in requests per second")
	pf.BoolVar(&respectRobots, "respect-robots", true, "honor robots.txt allow/disallow rules")
	pf.StringVar(&userAgent, "user-agent", "", "user agent string for HTTP requests")
	pf.StringArrayVar(&includePatterns, "include", []string{}, "regex allow-list for discovered URLs (can be repeated)")
	pf.StringArrayVar(&excludePatterns, "exclude", []string{}, "regex deny-list for discovered URLs (can be repeated)")
	pf.DurationVar(&crawlTimeout, "timeout", 0, "crawl-wide deadline (e.g. 5m)")
	pf.StringVar(&outputPath, "output", "", "JSONL results file path")
	pf.BoolVar(&verbose, "verbose", false, "stream crawl events to stderr")
}

// buildConfig merges the config file (if any) with flag overrides.
func buildConfig(mode string, seeds []string) (config.Config, error) {
	var cfg config.Config
	if cfgFile != "" {
		loaded, err := config.WithConfigFile(cfgFile)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
		if len(seeds) > 0 {
			cfg = config.WithDefault(seeds).
				WithMode(cfg.Mode()).
				WithMaxWorkers(cfg.MaxWorkers()).
				WithMaxDepth(cfg.MaxDepth()).
				WithMaxRetries(cfg.MaxRetries()).
				WithCrawlTimeout(cfg.CrawlTimeout()).
				WithRateLimit(cfg.RateLimit()).
				WithRespectRobots(cfg.RespectRobots()).
				WithUserAgent(cfg.UserAgent()).
				WithIncludePatterns(cfg.IncludePatterns()).
				WithExcludePatterns(cfg.ExcludePatterns()).
				WithDomainRates(cfg.DomainRates()).
				WithOutputPath(cfg.OutputPath()).
				WithVerbose(cfg.Verbose()).
				WithAsync(cfg.Async())
		}
	} else {
		if len(seeds) == 0 {
			return config.Config{}, fmt.Errorf("at least one seed URL is required")
		}
		cfg = config.WithDefault(seeds)
	}

	cfg = cfg.WithMode(mode)
	if maxWorkers > 0 {
		cfg = cfg.WithMaxWorkers(maxWorkers)
	}
	if maxDepth > 0 {
		cfg = cfg.WithMaxDepth(maxDepth)
	}
	if maxRetries > 0 {
		cfg = cfg.WithMaxRetries(maxRetries)
	}
	if rateLimit > 0 {
		cfg = cfg.WithRateLimit(rateLimit)
	}
	if !respectRobots {
		cfg = cfg.WithRespectRobots(false)
	}
	if userAgent != "" {
		cfg = cfg.WithUserAgent(userAgent)
	}
	if len(includePatterns) > 0 {
		cfg = cfg.WithIncludePatterns(includePatterns)
	}
	if len(excludePatterns) > 0 {
		cfg = cfg.WithExcludePatterns(excludePatterns)
	}
	if crawlTimeout > 0 {
		cfg = cfg.WithCrawlTimeout(crawlTimeout)
	}
	if outputPath != "" {
		cfg = cfg.WithOutputPath(outputPath)
	}
	if verbose {
		cfg = cfg.WithVerbose(true)
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
