package metadata

import "time"

/*
Metadata collected
- Fetch timestamps, status codes, durations
- Per-URL outcomes and filter decisions
- Component errors
- Final crawl statistics

Recording is observational only and MUST NOT influence scheduling, retries,
or crawl termination. Sinks must be safe for concurrent use: workers emit
fetch events in parallel.
*/

// Sink receives crawl events. The zero-cost implementation is NopSink;
// Recorder encodes events as logfmt lines.
type Sink interface {
	RecordFetch(url string, status int, duration time.Duration, errKind string, attempt, depth int)
	RecordOutcome(url string, ok bool, kind string, depth int)
	RecordFilter(url, reason string)
	RecordError(component, action string, err error, attrs ...Attr)
	RecordFinalCrawlStats(crawled, failed, discovered, filtered int, duration time.Duration)
}

type Attr struct {
	Key   string
	Value string
}

func A(key, value string) Attr {
	return Attr{Key: key, Value: value}
}

// Well-known attribute keys.
const (
	AttrURL    = "url"
	AttrHost   = "host"
	AttrDepth  = "depth"
	AttrReason = "reason"
)

// NopSink discards every event. Library callers that do not care about
// observability get this by default.
type NopSink struct{}

func (NopSink) RecordFetch(string, int, time.Duration, string, int, int) {}
func (NopSink) RecordOutcome(string, bool, string, int)                  {}
func (NopSink) RecordFilter(string, string)                              {}
func (NopSink) RecordError(string, string, error, ...Attr)               {}
func (NopSink) RecordFinalCrawlStats(int, int, int, int, time.Duration)  {}
