package crawler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/agoodway/mulberry/fetch"
	"github.com/agoodway/mulberry/internal/frontier"
	"github.com/agoodway/mulberry/internal/metadata"
	"github.com/agoodway/mulberry/internal/robots"
	"github.com/agoodway/mulberry/pkg/limiter"
	"github.com/agoodway/mulberry/pkg/urlutil"
)

/*
The orchestrator is the sole control-plane authority of a crawl.

Admission and accounting guarantees:
- Only the orchestrator decides whether a URL enters the frontier; every
  rejection is accounted as a filter with its reason.
- A URL leaves the frontier only once a rate-limiter token has been granted
  and a worker is about to run. Popping before the token would drop URLs on
  rate-limited retries.
- The orchestrator goroutine is the ordering point for result application:
  stats folding, hook invocation, and link admission all happen there.
- Worker termination is always observed: structured results, and crash
  reports for anything that escaped the worker's pipeline, flow through one
  channel. A crashed worker's URL is requeued at the frontier head, bounded
  by the retry budget.

Completion holds exactly when the frontier is empty, the active-worker map
is empty, and no rate-limited retry wake-up is pending.
*/

// activeWorker is one in-flight URL: enough to reattribute it on a crash
// and to tell how long it has been running.
type activeWorker struct {
	entry     frontier.Entry
	startedAt time.Time
}

type orchestrator struct {
	opts       Options
	mode       Mode
	rootDomain string

	impl      Implementation
	retriever fetch.Retriever
	robots    *robots.Cache
	limiter   *limiter.TokenLimiter
	policy    limiter.Policy
	sink      metadata.Sink

	include []*regexp.Regexp
	exclude []*regexp.Regexp

	// orchestrator-goroutine state
	queue      *frontier.Queue
	visited    *frontier.Visited
	active     map[int64]activeWorker
	nextWorker int64
	retries    map[string]int
	results    []Result
	stats      Stats
	state      State
	startedAt  time.Time

	resultsCh chan workerReport

	// rate-limited dispatch retry
	retryCh      chan struct{}
	pendingRetry bool
	retryTimer   *time.Timer
	retryDelay   time.Duration

	// snapshot state readable from other goroutines
	snapMu   sync.Mutex
	snapshot Stats
}

func newOrchestrator(mode Mode, seeds []string, opts Options) (*orchestrator, error) {
	opts = opts.withDefaults()

	include, err := urlutil.CompilePatterns(opts.IncludePatterns)
	if err != nil {
		return nil, err
	}
	exclude, err := urlutil.CompilePatterns(opts.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	o := &orchestrator{
		opts:       opts,
		mode:       mode,
		impl:       opts.Implementation,
		retriever:  opts.Retriever,
		robots:     opts.Robots,
		limiter:    opts.Limiter,
		policy:     opts.limiterPolicy(),
		sink:       opts.Metadata,
		include:    include,
		exclude:    exclude,
		queue:      frontier.NewQueue(),
		visited:    frontier.NewVisited(),
		active:     make(map[int64]activeWorker),
		retries:    make(map[string]int),
		stats:      newStats(),
		state:      StateInitializing,
		resultsCh:  make(chan workerReport, opts.MaxWorkers),
		retryCh:    make(chan struct{}, 1),
		retryDelay: dispatchRetryDelay(opts.RateLimit),
	}

	admitted := 0
	for _, seed := range seeds {
		normalized, err := urlutil.Normalize(seed)
		if err != nil {
			o.filter(seed, FilterInvalidURL)
			continue
		}
		if !o.visited.AddIfAbsent(normalized) {
			o.filter(normalized, FilterDuplicate)
			continue
		}
		if o.rootDomain == "" {
			o.rootDomain = urlutil.Domain(normalized)
		}
		o.queue.Push(frontier.Entry{URL: normalized, Depth: 0})
		admitted++
	}
	if admitted == 0 {
		return nil, fmt.Errorf("%w: none of %d seed(s) parsed", ErrInvalidSeeds, len(seeds))
	}
	return o, nil
}

// dispatchRetryDelay is how long dispatch waits after a token denial before
// peeking again: roughly one refill interval, clamped to keep the loop
// responsive without spinning.
func dispatchRetryDelay(rate float64) time.Duration {
	d := time.Duration(float64(time.Second) / rate)
	if d < 50*time.Millisecond {
		return 50 * time.Millisecond
	}
	if d > time.Second {
		return time.Second
	}
	return d
}

// run drives the crawl to a terminal state. It is the only goroutine that
// touches the queue, stats, and the active-worker map.
func (o *orchestrator) run(ctx context.Context) (*Report, error) {
	if o.opts.CrawlTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.CrawlTimeout)
		defer cancel()
	}

	o.state = StateRunning
	o.startedAt = time.Now()
	defer func() {
		o.sink.RecordFinalCrawlStats(
			o.stats.Crawled, o.stats.Failed,
			o.stats.URLsDiscovered, o.stats.URLsFiltered,
			o.stats.Duration,
		)
	}()

	for {
		o.dispatch(ctx)
		if o.completed() {
			o.state = StateCompleted
			break
		}
		select {
		case rep := <-o.resultsCh:
			o.ingest(rep)
		case <-o.retryCh:
			o.pendingRetry = false
		case <-ctx.Done():
			o.drain(ctx)
		}
		if o.state == StateCancelled || o.state == StateFailed {
			break
		}
	}

	o.stopRetryTimer()
	o.stats.Duration = time.Since(o.startedAt)
	return o.finalize()
}

// dispatch starts workers while capacity and tokens allow.
//
// The protocol is peek-then-pop on purpose: the head entry is only removed
// from the frontier after the rate limiter granted a token, so a denial
// leaves the URL where it was and merely schedules a wake-up.
func (o *orchestrator) dispatch(ctx context.Context) {
	if o.state != StateRunning || ctx.Err() != nil {
		return
	}
	for len(o.active) < o.opts.MaxWorkers {
		entry, ok := o.queue.Peek()
		if !ok {
			return
		}
		domain := urlutil.Domain(entry.URL)
		if !o.limiter.TryConsume(domain, o.policy) {
			o.scheduleDispatchRetry()
			return
		}
		o.queue.Pop()
		id := o.nextWorker
		o.nextWorker++
		o.active[id] = activeWorker{entry: entry, startedAt: time.Now()}
		go o.runWorker(ctx, id, entry)
	}
}

func (o *orchestrator) scheduleDispatchRetry() {
	if o.pendingRetry {
		return
	}
	o.pendingRetry = true
	o.retryTimer = time.AfterFunc(o.retryDelay, func() {
		select {
		case o.retryCh <- struct{}{}:
		default:
		}
	})
}

func (o *orchestrator) stopRetryTimer() {
	if o.retryTimer != nil {
		o.retryTimer.Stop()
		o.retryTimer = nil
	}
	o.pendingRetry = false
}

func (o *orchestrator) completed() bool {
	return o.state == StateRunning &&
		o.queue.Len() == 0 &&
		len(o.active) == 0 &&
		!o.pendingRetry
}

// ingest applies one worker report. Runs on the orchestrator goroutine.
func (o *orchestrator) ingest(rep workerReport) {
	delete(o.active, rep.id)

	if rep.crashed {
		o.sink.RecordError("worker", "run",
			fmt.Errorf("worker crashed: %v", rep.crashValue),
			metadata.A(metadata.AttrURL, rep.entry.URL))
		o.retries[rep.entry.URL]++
		if o.retries[rep.entry.URL] <= o.opts.MaxRetries {
			o.queue.PushFront(rep.entry)
			return
		}
		o.applyResult(Result{
			URL:       rep.entry.URL,
			Status:    StatusFailed,
			ErrorKind: KindWorkerCrash,
			Error:     fmt.Sprintf("worker crashed after %d retries: %v", o.opts.MaxRetries, rep.crashValue),
			Depth:     rep.entry.Depth,
			SourceURL: rep.entry.Source,
		})
		return
	}

	o.applyResult(rep.result)
	if rep.result.Status == StatusOK && o.mode == ModeWebsite {
		o.admitDiscovered(rep.result, rep.entry)
	}
}

func (o *orchestrator) applyResult(r Result) {
	o.stats.applyResult(r)
	o.results = append(o.results, r)
	o.sink.RecordOutcome(r.URL, r.Status == StatusOK, string(r.ErrorKind), r.Depth)
	o.publishSnapshot()

	if r.Status == StatusOK {
		if hook := o.opts.OnURLSuccess; hook != nil {
			safeHook(func() { hook(r.URL, r, o.stats.clone()) })
		}
	} else if hook := o.opts.OnURLFailure; hook != nil {
		safeHook(func() { hook(r.URL, r, o.stats.clone()) })
	}
}

// admitDiscovered runs a result's raw links through the admission pipeline:
// resolve, normalize, domain scope, depth, patterns, the implementation's
// vote, and finally the visited set's insert-if-absent. Every rejection is
// accounted with its reason.
func (o *orchestrator) admitDiscovered(r Result, source frontier.Entry) {
	depth := source.Depth + 1
	for _, raw := range r.DiscoveredURLs {
		resolved, err := urlutil.Resolve(raw, source.URL)
		if err != nil {
			o.filter(raw, FilterInvalidURL)
			continue
		}
		normalized, err := urlutil.Normalize(resolved)
		if err != nil {
			o.filter(raw, FilterInvalidURL)
			continue
		}
		if !urlutil.SameDomain(normalized, o.rootDomain) {
			o.filter(normalized, FilterCrossDomain)
			continue
		}
		if depth > o.opts.MaxDepth {
			o.filter(normalized, FilterDepthExceeded)
			continue
		}
		if !urlutil.Matches(normalized, o.include, o.exclude) {
			o.filter(normalized, FilterPattern)
			continue
		}
		cc := Context{Mode: o.mode, RootDomain: o.rootDomain, Depth: depth, SourceURL: source.URL}
		if !safeShouldCrawl(o.impl, normalized, cc) {
			o.filter(normalized, FilterDeclined)
			continue
		}
		if !o.visited.AddIfAbsent(normalized) {
			o.filter(normalized, FilterDuplicate)
			continue
		}
		o.queue.Push(frontier.Entry{URL: normalized, Depth: depth, Source: source.URL})
	}
}

func (o *orchestrator) filter(url string, reason FilterReason) {
	o.stats.applyFilter(reason, 1)
	o.sink.RecordFilter(url, string(reason))
}

// drain handles cancellation and the crawl-wide deadline: stop dispatching,
// clear timers, let in-flight workers finish under the grace deadline, and
// discard their late results.
func (o *orchestrator) drain(ctx context.Context) {
	if o.state != StateRunning {
		return
	}
	o.state = StateDraining
	o.stopRetryTimer()

	grace := time.NewTimer(o.opts.WorkerGrace)
	defer grace.Stop()
	for len(o.active) > 0 {
		select {
		case rep := <-o.resultsCh:
			delete(o.active, rep.id)
		case <-grace.C:
			// abandoned workers hold no per-crawl state; their sends land
			// in the buffered channel and are garbage collected with it
			o.active = make(map[int64]activeWorker)
		}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && o.opts.CrawlTimeout > 0 {
		o.state = StateFailed
	} else {
		o.state = StateCancelled
	}
}

func (o *orchestrator) finalize() (*Report, error) {
	report := &Report{
		Results: o.results,
		Stats:   o.stats.clone(),
		State:   o.state,
	}

	switch o.state {
	case StateCancelled:
		if o.stats.Crawled == 0 {
			return nil, ErrCancelled
		}
	case StateFailed:
		if o.stats.Crawled == 0 {
			return nil, ErrCrawlTimeout
		}
	}

	if hook := o.opts.OnComplete; hook != nil {
		safeHook(func() { hook(report) })
	}
	return report, nil
}

func (o *orchestrator) publishSnapshot() {
	o.snapMu.Lock()
	o.snapshot = o.stats.clone()
	o.snapMu.Unlock()
}

// Snapshot returns a copy of the stats as of the last applied result.
func (o *orchestrator) Snapshot() Stats {
	o.snapMu.Lock()
	defer o.snapMu.Unlock()
	return o.snapshot.clone()
}

// Hook and implementation callbacks run user code; their failures must not
// take down the crawl.
func safeHook(fn func()) {
	defer func() { recover() }()
	fn()
}

func safeShouldCrawl(impl Implementation, rawURL string, cc Context) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return impl.ShouldCrawl(rawURL, cc)
}
