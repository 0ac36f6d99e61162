package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/agoodway/mulberry/fetch"
	"github.com/agoodway/mulberry/internal/frontier"
	"github.com/agoodway/mulberry/pkg/failure"
	"github.com/agoodway/mulberry/pkg/retry"
	"github.com/agoodway/mulberry/pkg/timeutil"
)

// workerReport is what a worker sends back to the orchestrator: either a
// structured result or notice of its own crash.
type workerReport struct {
	id         int64
	entry      frontier.Entry
	result     Result
	crashed    bool
	crashValue any
}

// runWorker owns one URL from dispatch to result delivery. Expected
// failures become structured failed results; only a true bug escapes the
// pipeline, and even that is contained here and reported as a crash so the
// orchestrator can requeue the URL.
func (o *orchestrator) runWorker(ctx context.Context, id int64, entry frontier.Entry) {
	defer func() {
		if r := recover(); r != nil {
			o.resultsCh <- workerReport{id: id, entry: entry, crashed: true, crashValue: r}
		}
	}()
	result := o.processEntry(ctx, entry)
	o.resultsCh <- workerReport{id: id, entry: entry, result: result}
}

func (o *orchestrator) processEntry(ctx context.Context, entry frontier.Entry) Result {
	result := Result{
		URL:       entry.URL,
		Depth:     entry.Depth,
		SourceURL: entry.Source,
	}

	if o.opts.respectRobots() && !o.robots.Allowed(ctx, o.opts.UserAgent, entry.URL) {
		result.Status = StatusFailed
		result.ErrorKind = KindRobotsBlocked
		return result
	}

	resp, attempts, fetchErr := o.fetchWithRetry(ctx, entry)
	result.Attempts = attempts
	if fetchErr != nil {
		result.Status = StatusFailed
		result.ErrorKind = ErrorKind(fetchErr.Kind)
		result.HTTPStatus = fetchErr.StatusCode
		result.Error = fetchErr.Error()
		o.sink.RecordFetch(entry.URL, fetchErr.StatusCode, 0, string(fetchErr.Kind), attempts, entry.Depth)
		return result
	}

	result.HTTPStatus = resp.StatusCode
	result.ResponseTime = resp.ResponseTime
	o.sink.RecordFetch(entry.URL, resp.StatusCode, resp.ResponseTime, "", attempts, entry.Depth)

	data, dataErr := safeExtractData(o.impl, resp.Document, entry.URL)
	urls, urlsErr := safeExtractURLs(o.impl, resp.Document, entry.URL)
	if dataErr != nil || urlsErr != nil {
		err := dataErr
		if err == nil {
			err = urlsErr
		}
		result.Status = StatusFailed
		result.ErrorKind = KindParse
		result.Error = err.Error()
		return result
	}

	result.Status = StatusOK
	result.Data = data
	result.DiscoveredURLs = urls
	return result
}

// fetchWithRetry drives the retriever under the classified retry policy:
// timeouts, resolver and connection failures, and 5xx responses back off
// exponentially; an upstream 429 backs off four times longer; client errors
// and parse failures are terminal on the first attempt.
func (o *orchestrator) fetchWithRetry(ctx context.Context, entry frontier.Entry) (*fetch.Response, int, *fetch.Error) {
	opts := fetch.Options{}
	if entry.Source != "" {
		opts.Headers = map[string]string{"Referer": entry.Source}
	}

	param := retry.NewRetryParam(
		o.opts.MaxRetries+1,
		o.opts.RetryBaseDelay/4,
		time.Now().UnixNano(),
		timeutil.NewBackoffParam(o.opts.RetryBaseDelay, 2.0, defaultRetryMaxDelay),
	).WithBackoffScale(func(err failure.ClassifiedError) float64 {
		if fetchErr, ok := err.(*fetch.Error); ok && fetchErr.Kind == fetch.KindRateLimited {
			return 4
		}
		return 0
	})

	result := retry.Retry(ctx, param, func() (*fetch.Response, failure.ClassifiedError) {
		resp, err := o.retriever.Get(ctx, entry.URL, opts)
		if err == nil {
			return resp, nil
		}
		if fetchErr, ok := err.(*fetch.Error); ok {
			return nil, fetchErr
		}
		return nil, fetch.NewError(fetch.KindConnection, entry.URL, err)
	})

	if err := result.Err(); err != nil {
		if fetchErr, ok := err.(*fetch.Error); ok {
			return nil, result.Attempts(), fetchErr
		}
		return nil, result.Attempts(), fetch.NewError(fetch.KindConnection, entry.URL, err)
	}
	return result.Value(), result.Attempts(), nil
}

// The extractor is allowed to fail per URL; a panic inside it is the same
// as an error, not a worker crash.
func safeExtractData(impl Implementation, doc *fetch.Document, rawURL string) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract_data panicked: %v", r)
		}
	}()
	return impl.ExtractData(doc, rawURL)
}

func safeExtractURLs(impl Implementation, doc *fetch.Document, baseURL string) (urls []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract_urls panicked: %v", r)
		}
	}()
	return impl.ExtractURLs(doc, baseURL)
}
