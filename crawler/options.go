package crawler

import (
	"math"
	"sync"
	"time"

	"github.com/agoodway/mulberry/fetch"
	"github.com/agoodway/mulberry/internal/metadata"
	"github.com/agoodway/mulberry/internal/robots"
	"github.com/agoodway/mulberry/pkg/limiter"
)

// Defaults for zero-valued Options fields.
const (
	DefaultMaxWorkers = 5
	DefaultRateLimit  = 1.0
	DefaultMaxDepth   = 3
	DefaultMaxRetries = 3
	DefaultUserAgent  = "mulberry/1.0 (+https://github.com/agoodway/mulberry)"

	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 30 * time.Second
	defaultWorkerGrace    = 5 * time.Second
)

// Options configures one crawl.
type Options struct {
	// MaxWorkers bounds concurrent in-flight URLs.
	MaxWorkers int

	// RateLimit is the per-domain refill rate in requests per second. The
	// bucket's capacity is max(1, floor(RateLimit)) so a 1 rps crawl paces
	// from the first request.
	RateLimit float64

	// MaxDepth bounds link hops from a seed in website mode.
	MaxDepth int

	// Retriever fetches pages. Nil selects the plain HTTP retriever; wrap
	// several with fetch.NewChain for fallback behavior.
	Retriever fetch.Retriever

	// RespectRobots gates robots.txt checks. Nil means true.
	RespectRobots *bool

	// IncludePatterns is a regex allow-list for discovered URLs; empty
	// allows all. ExcludePatterns is a deny-list.
	IncludePatterns []string
	ExcludePatterns []string

	// MaxRetries is the per-URL budget across transient fetch failures and
	// worker crashes.
	MaxRetries int

	// CrawlTimeout is the crawl-wide deadline. Zero means none.
	CrawlTimeout time.Duration

	UserAgent string

	// Implementation supplies extraction; nil selects
	// SameDomainImplementation.
	Implementation Implementation

	// Metadata receives crawl events; nil discards them.
	Metadata metadata.Sink

	// Hooks. Panics inside hooks are contained and must not take down the
	// crawl. Stats snapshots are copies.
	OnURLSuccess func(url string, result Result, stats Stats)
	OnURLFailure func(url string, result Result, stats Stats)
	OnComplete   func(report *Report)

	// Limiter and Robots override the process-wide singletons, primarily
	// for tests.
	Limiter *limiter.TokenLimiter
	Robots  *robots.Cache

	// RetryBaseDelay is the initial fetch-retry backoff. Zero means 500ms.
	RetryBaseDelay time.Duration

	// WorkerGrace bounds how long cancellation waits for in-flight workers.
	// Zero means 5s.
	WorkerGrace time.Duration
}

// BoolPtr is a helper for setting optional bool fields.
//
//	crawler.Options{RespectRobots: crawler.BoolPtr(false)}
func BoolPtr(b bool) *bool {
	return &b
}

func (o Options) withDefaults() Options {
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = DefaultMaxWorkers
	}
	if o.RateLimit <= 0 {
		o.RateLimit = DefaultRateLimit
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Implementation == nil {
		o.Implementation = NewSameDomainImplementation()
	}
	if o.Metadata == nil {
		o.Metadata = metadata.NopSink{}
	}
	if o.Retriever == nil {
		o.Retriever = fetch.NewHTTPRetriever(fetch.HTTPRetrieverOptions{UserAgent: o.UserAgent})
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = defaultRetryBaseDelay
	}
	if o.WorkerGrace <= 0 {
		o.WorkerGrace = defaultWorkerGrace
	}
	if o.Limiter == nil {
		o.Limiter = sharedLimiter()
	}
	if o.Robots == nil {
		o.Robots = sharedRobots()
	}
	return o
}

func (o Options) respectRobots() bool {
	return o.RespectRobots == nil || *o.RespectRobots
}

// limiterPolicy maps the configured rate onto a bucket policy.
func (o Options) limiterPolicy() limiter.Policy {
	capacity := int(math.Floor(o.RateLimit))
	if capacity < 1 {
		capacity = 1
	}
	return limiter.Policy{Rate: o.RateLimit, Capacity: capacity}
}

// The rate limiter and robots cache are process-wide: buckets and rulesets
// are shared across every crawl and worker in the application.
var (
	sharedOnce       sync.Once
	sharedLimiterVal *limiter.TokenLimiter
	sharedRobotsVal  *robots.Cache
)

func initShared() {
	sharedOnce.Do(func() {
		sharedLimiterVal = limiter.NewTokenLimiter()
		sharedLimiterVal.StartJanitor(10*time.Minute, time.Hour)
		sharedRobotsVal = robots.NewCache(robots.CacheOptions{})
	})
}

func sharedLimiter() *limiter.TokenLimiter {
	initShared()
	return sharedLimiterVal
}

func sharedRobots() *robots.Cache {
	initShared()
	return sharedRobotsVal
}

// SetDomainRateLimit pins a per-domain refill rate on the process-wide
// limiter, overriding the crawl-level RateLimit for that domain.
func SetDomainRateLimit(domain string, ratePerSec float64) {
	if ratePerSec <= 0 {
		return
	}
	capacity := int(math.Floor(ratePerSec))
	if capacity < 1 {
		capacity = 1
	}
	sharedLimiter().SetOverride(domain, limiter.Policy{Rate: ratePerSec, Capacity: capacity})
}
