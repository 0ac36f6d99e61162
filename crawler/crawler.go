// Package crawler is a concurrent web crawling engine: a URL frontier, a
// bounded worker pool, per-domain token-bucket rate limiting, a shared
// robots.txt cache, and a pluggable extraction interface, streaming
// per-URL results into a final report.
//
// Three entry points cover the crawl shapes:
//
//	report, err := crawler.CrawlURLs(ctx, seeds, opts)        // explicit list
//	report, err := crawler.CrawlWebsite(ctx, root, opts)      // BFS, same domain
//	report, err := crawler.CrawlFromSitemap(ctx, root, opts)  // sitemap-seeded
//
// Each has a Start* sibling returning a *Crawl handle immediately for
// callers that poll, stream, or cancel mid-flight.
//
// Failure isolation: expected per-URL failures (robots denials, network
// errors, upstream throttling, extractor bugs) become failed results inside
// the report; the crawl keeps going and returns partial results. Hard
// errors are reserved for invalid seeds, unusable retriever configuration,
// and cancellation before any successful fetch.
package crawler

import (
	"context"
	"net/http"

	"github.com/agoodway/mulberry/internal/sitemap"
)

// Crawl is the handle for an in-flight crawl.
type Crawl struct {
	o      *orchestrator
	cancel context.CancelFunc
	done   chan struct{}
	report *Report
	err    error
}

// Wait blocks until the crawl reaches a terminal state or ctx is done.
func (c *Crawl) Wait(ctx context.Context) (*Report, error) {
	select {
	case <-c.done:
		return c.report, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests cooperative cancellation: no new workers are spawned and
// in-flight workers are drained under a grace deadline.
func (c *Crawl) Cancel() {
	c.cancel()
}

// Done is closed when the crawl reaches a terminal state.
func (c *Crawl) Done() <-chan struct{} {
	return c.done
}

// Stats returns a copy of the statistics as of the last applied result.
func (c *Crawl) Stats() Stats {
	return c.o.Snapshot()
}

// CrawlURLs crawls the explicit seed list. Links found on the pages are
// reported but not followed.
func CrawlURLs(ctx context.Context, seeds []string, opts Options) (*Report, error) {
	c, err := StartURLs(ctx, seeds, opts)
	if err != nil {
		return nil, err
	}
	return c.Wait(context.Background())
}

// StartURLs is the asynchronous form of CrawlURLs.
func StartURLs(ctx context.Context, seeds []string, opts Options) (*Crawl, error) {
	return start(ctx, ModeURLs, seeds, opts)
}

// CrawlWebsite crawls breadth-first from root, following same-domain links
// up to MaxDepth.
func CrawlWebsite(ctx context.Context, root string, opts Options) (*Report, error) {
	c, err := StartWebsite(ctx, root, opts)
	if err != nil {
		return nil, err
	}
	return c.Wait(context.Background())
}

// StartWebsite is the asynchronous form of CrawlWebsite.
func StartWebsite(ctx context.Context, root string, opts Options) (*Crawl, error) {
	return start(ctx, ModeWebsite, []string{root}, opts)
}

// CrawlFromSitemap discovers root's sitemaps and crawls the URLs they list.
// Links found on the pages are not followed.
func CrawlFromSitemap(ctx context.Context, root string, opts Options) (*Report, error) {
	c, err := StartSitemap(ctx, root, opts)
	if err != nil {
		return nil, err
	}
	return c.Wait(context.Background())
}

// StartSitemap is the asynchronous form of CrawlFromSitemap.
func StartSitemap(ctx context.Context, root string, opts Options) (*Crawl, error) {
	resolved := opts.withDefaults()
	discoverer := sitemap.NewDiscoverer(sitemap.DiscovererOptions{
		Client:    &http.Client{},
		Robots:    resolved.Robots,
		Sink:      resolved.Metadata,
		UserAgent: resolved.UserAgent,
	})
	seeds, err := discoverer.Discover(ctx, root)
	if err != nil {
		return nil, err
	}
	return start(ctx, ModeSitemap, seeds, resolved)
}

func start(ctx context.Context, mode Mode, seeds []string, opts Options) (*Crawl, error) {
	o, err := newOrchestrator(mode, seeds, opts)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := &Crawl{
		o:      o,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer cancel()
		c.report, c.err = o.run(runCtx)
		close(c.done)
	}()
	return c, nil
}
