package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agoodway/mulberry/crawler"
	"github.com/agoodway/mulberry/internal/config"
	"github.com/agoodway/mulberry/internal/export"
	"github.com/agoodway/mulberry/internal/metadata"
	"github.com/agoodway/mulberry/pkg/hashutil"
)

var urlsCmd = &cobra.Command{
	Use:   "urls <url>...",
	Short: "Crawl an explicit list of URLs without following links.",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl("urls", args)
	},
}

var websiteCmd = &cobra.Command{
	Use:   "website <root-url>",
	Short: "Crawl a website breadth-first, following same-domain links.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl("website", args)
	},
}

var sitemapCmd = &cobra.Command{
	Use:   "sitemap <root-url>",
	Short: "Crawl the URLs listed in a site's sitemaps.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl("sitemap", args)
	},
}

func init() {
	rootCmd.AddCommand(urlsCmd, websiteCmd, sitemapCmd)
}

func runCrawl(mode string, seeds []string) error {
	cfg, err := buildConfig(mode, seeds)
	if err != nil {
		return err
	}

	opts := cfg.EngineOptions()
	for domain, rate := range cfg.DomainRates() {
		crawler.SetDomainRateLimit(domain, rate)
	}
	if cfg.Verbose() {
		crawlID := hashutil.ShortHash([]byte(fmt.Sprintf("%s-%d", mode, time.Now().UnixNano())))
		opts.Metadata = metadata.NewRecorder(crawlID, os.Stderr)
	}

	var sink *export.JSONLSink
	if cfg.OutputPath() != "" {
		sink, err = export.NewJSONLSink(cfg.OutputPath(), opts.Metadata)
		if err != nil {
			return err
		}
		defer sink.Close()
		opts.OnURLSuccess = func(url string, r crawler.Result, _ crawler.Stats) {
			sink.Write(r)
		}
		opts.OnURLFailure = func(url string, r crawler.Result, _ crawler.Stats) {
			sink.Write(r)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := startCrawl(ctx, cfg, opts)
	if err != nil {
		return err
	}

	if cfg.Async() {
		fmt.Fprintln(os.Stderr, "crawl started; press Ctrl-C to cancel")
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
	poll:
		for {
			select {
			case <-handle.Done():
				break poll
			case <-ticker.C:
				s := handle.Stats()
				fmt.Fprintf(os.Stderr, "crawled=%d failed=%d discovered=%d filtered=%d\n",
					s.Crawled, s.Failed, s.URLsDiscovered, s.URLsFiltered)
			}
		}
	}

	report, err := handle.Wait(context.Background())
	if err != nil {
		return err
	}
	printSummary(report)
	return nil
}

func startCrawl(ctx context.Context, cfg config.Config, opts crawler.Options) (*crawler.Crawl, error) {
	switch cfg.Mode() {
	case "website":
		return crawler.StartWebsite(ctx, cfg.SeedURLs()[0], opts)
	case "sitemap":
		return crawler.StartSitemap(ctx, cfg.SeedURLs()[0], opts)
	default:
		return crawler.StartURLs(ctx, cfg.SeedURLs(), opts)
	}
}

func printSummary(report *crawler.Report) {
	s := report.Stats
	fmt.Printf("Crawl %s in %v\n", report.State, s.Duration.Round(time.Millisecond))
	fmt.Printf("  crawled:        %d\n", s.Crawled)
	fmt.Printf("  failed:         %d\n", s.Failed)
	fmt.Printf("  discovered:     %d\n", s.URLsDiscovered)
	fmt.Printf("  filtered:       %d\n", s.URLsFiltered)
	fmt.Printf("  robots blocked: %d\n", s.RobotsBlocked)
	if len(s.Domains) > 0 {
		fmt.Println("  per domain:")
		for domain, d := range s.Domains {
			fmt.Printf("    %-30s crawled=%d failed=%d avg=%v\n",
				domain, d.Crawled, d.Failed, d.AverageResponseTime().Round(time.Millisecond))
		}
	}
}
