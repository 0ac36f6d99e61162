// Package robots fetches, parses, and caches robots.txt policies per domain.
//
// Responsibilities:
//   - One cached ruleset per domain with a TTL; an expired entry is absent
//   - Exactly one fetch per domain however many callers miss concurrently
//   - Permissive fallback on any fetch failure, cached for the TTL, so a
//     broken robots endpoint cannot cause a fetch storm
//   - Advisory Crawl-delay and Sitemap directive exposure
//
// Rule evaluation (agent-group specificity, * and $ patterns, longest-match
// precedence with Allow winning ties) is delegated to temoto/robotstxt,
// which compiles path patterns to finite regexes up front.
package robots

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"

	"github.com/agoodway/mulberry/internal/metadata"
)

const (
	// DefaultTTL is how long a fetched ruleset (or a permissive fallback)
	// stays authoritative.
	DefaultTTL = time.Hour

	fetchTimeout = 10 * time.Second
	maxRobotsLen = 500 * 1024
)

type entry struct {
	data       *robotstxt.RobotsData // nil for a permissive entry
	sitemaps   []string
	crawlDelay map[string]time.Duration // lowercased agent -> delay
	fetchedAt  time.Time
}

func (e *entry) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.fetchedAt) > ttl
}

// CacheOptions configures NewCache. Zero values resolve to defaults.
type CacheOptions struct {
	Client    *http.Client
	TTL       time.Duration
	UserAgent string
	Sink      metadata.Sink
	Now       func() time.Time
}

// Cache is the process-wide robots.txt authority, shared by every crawl.
// Reads are concurrent; a lookup never blocks on an unrelated domain's
// fetch.
type Cache struct {
	client    *http.Client
	ttl       time.Duration
	userAgent string
	sink      metadata.Sink
	now       func() time.Time

	entries sync.Map // domain -> *entry
	group   singleflight.Group
}

func NewCache(opts CacheOptions) *Cache {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: fetchTimeout}
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "mulberry/1.0"
	}
	if opts.Sink == nil {
		opts.Sink = metadata.NopSink{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		client:    opts.Client,
		ttl:       opts.TTL,
		userAgent: opts.UserAgent,
		sink:      opts.Sink,
		now:       opts.Now,
	}
}

// Allowed reports whether userAgent may fetch rawURL. Unparseable URLs and
// every failure mode fail open: the crawl should not stall because a robots
// endpoint is misbehaving.
func (c *Cache) Allowed(ctx context.Context, userAgent, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}

	e := c.lookup(ctx, u.Scheme, strings.ToLower(u.Host))
	if e.data == nil {
		return true
	}
	return e.data.TestAgent(u.RequestURI(), userAgent)
}

// CrawlDelay returns the Crawl-delay declared for userAgent on the domain.
// Parsed but advisory: the engine's token bucket paces requests.
func (c *Cache) CrawlDelay(ctx context.Context, userAgent, domain string) (time.Duration, bool) {
	e := c.lookup(ctx, "https", strings.ToLower(domain))
	if len(e.crawlDelay) == 0 {
		return 0, false
	}
	agent := strings.ToLower(userAgent)
	// most specific declared agent prefix wins; * is the fallback
	bestLen := -1
	var best time.Duration
	for declared, delay := range e.crawlDelay {
		switch {
		case declared == "*":
			if bestLen < 0 {
				best, bestLen = delay, 0
			}
		case strings.HasPrefix(agent, declared) && len(declared) > bestLen:
			best, bestLen = delay, len(declared)
		}
	}
	if bestLen < 0 {
		return 0, false
	}
	return best, true
}

// Sitemaps returns the Sitemap directives for baseURL's domain.
func (c *Cache) Sitemaps(ctx context.Context, baseURL string) []string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil
	}
	e := c.lookup(ctx, u.Scheme, strings.ToLower(u.Host))
	return append([]string(nil), e.sitemaps...)
}

// lookup returns the live cache entry for the domain, fetching robots.txt
// at most once across concurrent callers when the entry is absent or past
// its TTL.
func (c *Cache) lookup(ctx context.Context, scheme, domain string) *entry {
	if cached, ok := c.entries.Load(domain); ok {
		if e := cached.(*entry); !e.expired(c.now(), c.ttl) {
			return e
		}
	}

	v, _, _ := c.group.Do(domain, func() (any, error) {
		// a caller queued behind the flight may arrive after the store
		if cached, ok := c.entries.Load(domain); ok {
			if e := cached.(*entry); !e.expired(c.now(), c.ttl) {
				return e, nil
			}
		}
		e := c.fetch(ctx, scheme, domain)
		c.entries.Store(domain, e)
		return e, nil
	})
	return v.(*entry)
}

// fetch retrieves and parses scheme://domain/robots.txt. It never fails:
// every error path yields a permissive entry cached for the TTL.
func (c *Cache) fetch(ctx context.Context, scheme, domain string) *entry {
	permissive := &entry{fetchedAt: c.now()}
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, domain)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		c.recordFailure(domain, err)
		return permissive
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/plain,*/*")

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure(domain, err)
		return permissive
	}
	defer resp.Body.Close()

	// 4xx means no robots.txt: genuinely permissive. Anything outside
	// 2xx/4xx is a failure: fail open rather than over-block.
	if resp.StatusCode >= 500 || resp.StatusCode < 200 || resp.StatusCode == 429 {
		c.recordFailure(domain, fmt.Errorf("status %d fetching %s", resp.StatusCode, robotsURL))
		return permissive
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsLen))
	if err != nil {
		c.recordFailure(domain, err)
		return permissive
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		c.recordFailure(domain, err)
		return permissive
	}

	sitemaps, delays := scanDirectives(body)
	return &entry{
		data:       data,
		sitemaps:   sitemaps,
		crawlDelay: delays,
		fetchedAt:  c.now(),
	}
}

func (c *Cache) recordFailure(domain string, err error) {
	c.sink.RecordError("robots", "fetch", err, metadata.A(metadata.AttrHost, domain))
}

// scanDirectives pulls Sitemap and Crawl-delay lines out of the raw file.
// Sitemap is global; Crawl-delay belongs to the preceding User-agent group.
func scanDirectives(body []byte) ([]string, map[string]time.Duration) {
	var sitemaps []string
	delays := make(map[string]time.Duration)
	var currentAgents []string
	agentRun := false

	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx != -1 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		colon := strings.Index(line, ":")
		if colon == -1 {
			continue
		}
		field := strings.ToLower(strings.TrimSpace(line[:colon]))
		value := strings.TrimSpace(line[colon+1:])

		switch field {
		case "user-agent":
			if agentRun {
				currentAgents = append(currentAgents, strings.ToLower(value))
			} else {
				currentAgents = []string{strings.ToLower(value)}
				agentRun = true
			}
			continue
		case "sitemap":
			if value != "" {
				sitemaps = append(sitemaps, value)
			}
		case "crawl-delay":
			var seconds float64
			if _, err := fmt.Sscanf(value, "%f", &seconds); err == nil && seconds >= 0 {
				for _, agent := range currentAgents {
					delays[agent] = time.Duration(seconds * float64(time.Second))
				}
			}
		}
		agentRun = false
	}
	return sitemaps, delays
}
