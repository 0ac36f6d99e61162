// Package sitemap discovers and parses sitemaps for seeding crawls.
//
// Discovery inspects robots.txt Sitemap directives and probes the
// conventional /sitemap.xml and /sitemap_index.xml locations. Parsing
// handles plain XML, gzipped XML (detected by magic bytes), and
// sitemap-index nesting up to a fixed depth so a self-referencing index
// cannot recurse unboundedly.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agoodway/mulberry/internal/metadata"
	"github.com/agoodway/mulberry/internal/robots"
)

const (
	// MaxIndexDepth bounds sitemap-index nesting.
	MaxIndexDepth = 3

	fetchConcurrency = 4
	maxSitemapLen    = 50 << 20
	fetchTimeout     = 30 * time.Second
)

// ErrNoSitemap is returned when discovery finds no URLs at all.
var ErrNoSitemap = errors.New("no sitemap found")

// DiscovererOptions configures NewDiscoverer. Zero values resolve to
// defaults; Robots is optional (no directive lookup without it).
type DiscovererOptions struct {
	Client    *http.Client
	Robots    *robots.Cache
	Sink      metadata.Sink
	UserAgent string
}

type Discoverer struct {
	client    *http.Client
	robots    *robots.Cache
	sink      metadata.Sink
	userAgent string
}

func NewDiscoverer(opts DiscovererOptions) *Discoverer {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: fetchTimeout}
	}
	if opts.Sink == nil {
		opts.Sink = metadata.NopSink{}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "mulberry/1.0"
	}
	return &Discoverer{
		client:    opts.Client,
		robots:    opts.Robots,
		sink:      opts.Sink,
		userAgent: opts.UserAgent,
	}
}

// Discover returns the page URLs reachable from base's sitemaps, deduplicated
// in first-seen order. Candidates come from robots.txt directives plus the
// well-known locations; indexes are followed to MaxIndexDepth.
func (d *Discoverer) Discover(ctx context.Context, base string) ([]string, error) {
	root, err := url.Parse(base)
	if err != nil || root.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", base)
	}

	var candidates []string
	if d.robots != nil {
		candidates = d.robots.Sitemaps(ctx, base)
	}
	origin := root.Scheme + "://" + root.Host
	candidates = append(candidates, origin+"/sitemap.xml", origin+"/sitemap_index.xml")

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
		out  []string
	)
	collect := func(urls []string) {
		mu.Lock()
		defer mu.Unlock()
		for _, u := range urls {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}

	visited := make(map[string]struct{})
	var visitedMu sync.Mutex
	level := dedupe(candidates)

	for depth := 0; depth <= MaxIndexDepth && len(level) > 0; depth++ {
		next := make([]string, 0)
		var nextMu sync.Mutex

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(fetchConcurrency)
		for _, sitemapURL := range level {
			visitedMu.Lock()
			if _, dup := visited[sitemapURL]; dup {
				visitedMu.Unlock()
				continue
			}
			visited[sitemapURL] = struct{}{}
			visitedMu.Unlock()

			g.Go(func() error {
				content, err := d.fetch(gctx, sitemapURL)
				if err != nil {
					d.sink.RecordError("sitemap", "fetch", err, metadata.A(metadata.AttrURL, sitemapURL))
					return nil // a missing candidate is not fatal
				}
				urls, children, err := Parse(content)
				if err != nil {
					d.sink.RecordError("sitemap", "parse", err, metadata.A(metadata.AttrURL, sitemapURL))
					return nil
				}
				collect(urls)
				if len(children) > 0 {
					nextMu.Lock()
					next = append(next, children...)
					nextMu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		level = dedupe(next)
	}

	if len(out) == 0 {
		return nil, ErrNoSitemap
	}
	return out, nil
}

func (d *Discoverer) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "application/xml,text/xml,*/*")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d fetching %s", resp.StatusCode, rawURL)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSitemapLen))
}

type locEntry struct {
	Loc string `xml:"loc"`
}

type sitemapDoc struct {
	XMLName  xml.Name
	URLs     []locEntry `xml:"url"`
	Sitemaps []locEntry `xml:"sitemap"`
}

// Parse decodes sitemap content into page URLs and child sitemap URLs.
// Gzipped content is detected by its magic bytes and decompressed first.
func Parse(content []byte) (urls []string, children []string, err error) {
	if len(content) >= 2 && content[0] == 0x1f && content[1] == 0x8b {
		reader, gzErr := gzip.NewReader(bytes.NewReader(content))
		if gzErr != nil {
			return nil, nil, fmt.Errorf("gunzip sitemap: %w", gzErr)
		}
		defer reader.Close()
		content, err = io.ReadAll(io.LimitReader(reader, maxSitemapLen))
		if err != nil {
			return nil, nil, fmt.Errorf("gunzip sitemap: %w", err)
		}
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode sitemap: %w", err)
	}

	for _, u := range doc.URLs {
		if loc := trimLoc(u.Loc); loc != "" {
			urls = append(urls, loc)
		}
	}
	for _, s := range doc.Sitemaps {
		if loc := trimLoc(s.Loc); loc != "" {
			children = append(children, loc)
		}
	}
	return urls, children, nil
}

func trimLoc(loc string) string {
	return string(bytes.TrimSpace([]byte(loc)))
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
