package crawler_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoodway/mulberry/crawler"
	"github.com/agoodway/mulberry/fetch"
	"github.com/agoodway/mulberry/internal/robots"
	"github.com/agoodway/mulberry/pkg/limiter"
)

// Token starvation must pace dispatch, not drop URLs: with a one-token
// bucket every URL still crawls, one refill interval apart.
func TestRateLimitDenialKeepsURLs(t *testing.T) {
	mock := fetch.NewMockRetriever()
	seeds := make([]string, 5)
	for i := range seeds {
		seeds[i] = fmt.Sprintf("http://a.test/%d", i)
		require.NoError(t, mock.AddPage(seeds[i], page()))
	}

	opts := testOptions(mock)
	opts.MaxWorkers = 10
	opts.RateLimit = 50 // capacity 50 would burst; pin the bucket down
	opts.Limiter = limiter.NewTokenLimiter()
	opts.Limiter.SetOverride("a.test", limiter.Policy{Rate: 50, Capacity: 1})

	start := time.Now()
	report, err := crawler.CrawlURLs(context.Background(), seeds, opts)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.ElementsMatch(t, seeds, resultURLs(report))
	assert.Equal(t, 5, report.Stats.Crawled)
	// every dispatch consumed a token: exactly one fetch per URL
	for _, s := range seeds {
		assert.Equal(t, 1, mock.CallCount(s), s)
	}
	// 4 refills at 50/s after the initial token
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestNoURLDispatchedTwice(t *testing.T) {
	mock := fetch.NewMockRetriever()
	// a dense link mesh: every page links to every other page
	urls := make([]string, 8)
	for i := range urls {
		urls[i] = fmt.Sprintf("http://a.test/p/%d", i)
	}
	for _, u := range urls {
		require.NoError(t, mock.AddPage(u, page(urls...)))
	}

	opts := testOptions(mock)
	opts.MaxWorkers = 8
	report, err := crawler.CrawlWebsite(context.Background(), urls[0], opts)
	require.NoError(t, err)

	assert.Len(t, report.Results, len(urls))
	for _, u := range urls {
		assert.Equal(t, 1, mock.CallCount(u), "URL %s dispatched more than once", u)
	}
	// every page reports all 8 mesh links raw, before duplicate filtering
	assert.Equal(t, 8*8, report.Stats.URLsDiscovered)
}

// A worker crash (panic outside the extractor) must not lose the URL: it is
// requeued at the frontier head and either succeeds on a later dispatch or
// exhausts the retry budget as a worker_crash failure.
func TestWorkerCrashRequeuesURL(t *testing.T) {
	pages := fetch.NewMockRetriever()
	seeds := []string{"http://a.test/0", "http://a.test/1", "http://a.test/2"}
	for _, s := range seeds {
		require.NoError(t, pages.AddPage(s, page()))
	}

	var crashes atomic.Int64
	crashy := fetch.NewMockRetriever()
	crashy.GetFunc = func(ctx context.Context, rawURL string, opts fetch.Options) (*fetch.Response, error) {
		if rawURL == "http://a.test/2" && crashes.Add(1) == 1 {
			panic("injected worker fault")
		}
		return pages.Get(ctx, rawURL, opts)
	}

	report, err := crawler.CrawlURLs(context.Background(), seeds, testOptions(crashy))
	require.NoError(t, err)

	assert.Equal(t, len(seeds), report.Stats.Crawled+report.Stats.Failed,
		"every enqueued URL is accounted for")
	assert.ElementsMatch(t, seeds, resultURLs(report))
	assert.Equal(t, 3, report.Stats.Crawled, "crashed URL succeeds after requeue")
	assert.Equal(t, 2, crashy.CallCount("http://a.test/2"))
}

func TestWorkerCrashExhaustsRetries(t *testing.T) {
	crashy := fetch.NewMockRetriever()
	crashy.GetFunc = func(ctx context.Context, rawURL string, opts fetch.Options) (*fetch.Response, error) {
		panic("always broken")
	}

	opts := testOptions(crashy)
	opts.MaxRetries = 2
	report, err := crawler.CrawlURLs(context.Background(), []string{"http://a.test/doomed"}, opts)
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, crawler.StatusFailed, report.Results[0].Status)
	assert.Equal(t, crawler.KindWorkerCrash, report.Results[0].ErrorKind)
	assert.Equal(t, 1, report.Stats.ErrorKinds[crawler.KindWorkerCrash])
	// initial dispatch + MaxRetries requeues
	assert.Equal(t, 3, crashy.CallCount("http://a.test/doomed"))
}

// robots.txt declares /private/ off limits: the private seed is reported
// robots_blocked without a page fetch, the public one crawls.
func TestRobotsBlocking(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	private := server.URL + "/private/x"
	public := server.URL + "/public/y"

	mock := fetch.NewMockRetriever()
	require.NoError(t, mock.AddPage(private, page()))
	require.NoError(t, mock.AddPage(public, page()))

	opts := testOptions(mock)
	opts.RespectRobots = nil // default on
	opts.Robots = robots.NewCache(robots.CacheOptions{})
	report, err := crawler.CrawlURLs(context.Background(), []string{private, public}, opts)
	require.NoError(t, err)

	byURL := make(map[string]crawler.Result)
	for _, r := range report.Results {
		byURL[r.URL] = r
	}
	assert.Equal(t, crawler.StatusFailed, byURL[private].Status)
	assert.Equal(t, crawler.KindRobotsBlocked, byURL[private].ErrorKind)
	assert.Equal(t, crawler.StatusOK, byURL[public].Status)
	assert.Equal(t, 1, report.Stats.RobotsBlocked)
	assert.Equal(t, 0, mock.CallCount(private), "blocked URL never reaches the retriever")
}

func TestRobotsDisabled(t *testing.T) {
	mock := fetch.NewMockRetriever()
	require.NoError(t, mock.AddPage("http://a.test/private/x", page()))

	opts := testOptions(mock) // RespectRobots false
	report, err := crawler.CrawlURLs(context.Background(), []string{"http://a.test/private/x"}, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.Crawled)
}

func TestCancelBeforeAnySuccess(t *testing.T) {
	mock := fetch.NewMockRetriever()
	mock.Delay = 300 * time.Millisecond
	require.NoError(t, mock.AddPage("http://a.test/slow", page()))

	c, err := crawler.StartURLs(context.Background(), []string{"http://a.test/slow"}, testOptions(mock))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	c.Cancel()

	_, err = c.Wait(context.Background())
	assert.ErrorIs(t, err, crawler.ErrCancelled)
}

func TestCancelDeliversPartialResults(t *testing.T) {
	fast := "http://a.test/fast"
	slow := "http://a.test/slow"
	pages := fetch.NewMockRetriever()
	require.NoError(t, pages.AddPage(fast, page()))
	require.NoError(t, pages.AddPage(slow, page()))

	slowGate := make(chan struct{})
	mock := fetch.NewMockRetriever()
	mock.GetFunc = func(ctx context.Context, rawURL string, opts fetch.Options) (*fetch.Response, error) {
		if rawURL == slow {
			select {
			case <-slowGate:
			case <-ctx.Done():
				return nil, fetch.NewError(fetch.KindTimeout, rawURL, ctx.Err())
			}
		}
		return pages.Get(ctx, rawURL, opts)
	}

	opts := testOptions(mock)
	opts.MaxWorkers = 2
	var once sync.Once
	var crawl *crawler.Crawl
	ready := make(chan struct{})
	opts.OnURLSuccess = func(url string, r crawler.Result, s crawler.Stats) {
		once.Do(func() { close(ready) })
	}

	crawl, err := crawler.StartURLs(context.Background(), []string{fast, slow}, opts)
	require.NoError(t, err)

	<-ready
	crawl.Cancel()
	defer close(slowGate)

	report, err := crawl.Wait(context.Background())
	require.NoError(t, err, "a crawl with a successful fetch returns partial results")
	assert.Equal(t, crawler.StateCancelled, report.State)
	assert.Equal(t, 1, report.Stats.Crawled)
	assert.Equal(t, []string{fast}, resultURLs(report))
}

func TestCrawlTimeout(t *testing.T) {
	mock := fetch.NewMockRetriever()
	mock.Delay = time.Second
	require.NoError(t, mock.AddPage("http://a.test/slow", page()))

	opts := testOptions(mock)
	opts.CrawlTimeout = 50 * time.Millisecond
	opts.WorkerGrace = 100 * time.Millisecond
	_, err := crawler.CrawlURLs(context.Background(), []string{"http://a.test/slow"}, opts)
	assert.ErrorIs(t, err, crawler.ErrCrawlTimeout)
}

func TestAsyncHandle(t *testing.T) {
	mock := fetch.NewMockRetriever()
	require.NoError(t, mock.AddPage("http://a.test/", page()))

	c, err := crawler.StartURLs(context.Background(), []string{"http://a.test/"}, testOptions(mock))
	require.NoError(t, err)

	report, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.StateCompleted, report.State)

	select {
	case <-c.Done():
	default:
		t.Fatal("Done must be closed after Wait returns")
	}
	assert.Equal(t, 1, c.Stats().Crawled)
}

func TestHooksObserveOutcomes(t *testing.T) {
	mock := fetch.NewMockRetriever()
	require.NoError(t, mock.AddPage("http://a.test/ok", page()))
	mock.AddError("http://a.test/bad", fetch.KindHTTP4xx)

	var mu sync.Mutex
	var successes, failures []string
	var completed *crawler.Report

	opts := testOptions(mock)
	opts.OnURLSuccess = func(url string, r crawler.Result, s crawler.Stats) {
		mu.Lock()
		successes = append(successes, url)
		mu.Unlock()
	}
	opts.OnURLFailure = func(url string, r crawler.Result, s crawler.Stats) {
		mu.Lock()
		failures = append(failures, url)
		mu.Unlock()
	}
	opts.OnComplete = func(r *crawler.Report) {
		mu.Lock()
		completed = r
		mu.Unlock()
	}

	_, err := crawler.CrawlURLs(context.Background(),
		[]string{"http://a.test/ok", "http://a.test/bad"}, opts)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"http://a.test/ok"}, successes)
	assert.Equal(t, []string{"http://a.test/bad"}, failures)
	require.NotNil(t, completed)
	assert.Equal(t, crawler.StateCompleted, completed.State)
}

func TestPanickingHooksAreContained(t *testing.T) {
	mock := fetch.NewMockRetriever()
	require.NoError(t, mock.AddPage("http://a.test/", page()))

	opts := testOptions(mock)
	opts.OnURLSuccess = func(string, crawler.Result, crawler.Stats) { panic("hook bug") }
	opts.OnComplete = func(*crawler.Report) { panic("hook bug") }

	report, err := crawler.CrawlURLs(context.Background(), []string{"http://a.test/"}, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.Crawled)
}

// Many workers, many domains: stress the dispatch/ingest loop under -race.
func TestConcurrentCrawlStress(t *testing.T) {
	mock := fetch.NewMockRetriever()
	var seeds []string
	for d := 0; d < 5; d++ {
		for p := 0; p < 20; p++ {
			u := fmt.Sprintf("http://d%d.test/p/%d", d, p)
			seeds = append(seeds, u)
			require.NoError(t, mock.AddPage(u, page()))
		}
	}

	opts := testOptions(mock)
	opts.MaxWorkers = 16
	report, err := crawler.CrawlURLs(context.Background(), seeds, opts)
	require.NoError(t, err)

	assert.Len(t, report.Results, len(seeds))
	assert.Equal(t, len(seeds), report.Stats.Crawled)
	assert.Len(t, report.Stats.Domains, 5)
}
