package metadata

import (
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/go-logfmt/logfmt"
)

// Recorder encodes crawl events as logfmt records on a writer. One line per
// event; the crawl identifier is stamped on every record so interleaved
// crawls can be separated downstream.
type Recorder struct {
	mu      sync.Mutex
	w       io.Writer
	crawlID string
	now     func() time.Time
}

func NewRecorder(crawlID string, w io.Writer) *Recorder {
	return &Recorder{
		w:       w,
		crawlID: crawlID,
		now:     time.Now,
	}
}

func (r *Recorder) emit(event string, pairs ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enc := logfmt.NewEncoder(r.w)
	enc.EncodeKeyval("ts", r.now().Format(time.RFC3339Nano))
	enc.EncodeKeyval("crawl", r.crawlID)
	enc.EncodeKeyval("event", event)
	for i := 0; i+1 < len(pairs); i += 2 {
		enc.EncodeKeyval(pairs[i], pairs[i+1])
	}
	enc.EndRecord()
}

func (r *Recorder) RecordFetch(url string, status int, duration time.Duration, errKind string, attempt, depth int) {
	pairs := []any{
		"url", url,
		"status", status,
		"duration_ms", duration.Milliseconds(),
		"attempt", attempt,
		"depth", depth,
	}
	if errKind != "" {
		pairs = append(pairs, "error_kind", errKind)
	}
	r.emit("fetch", pairs...)
}

func (r *Recorder) RecordOutcome(url string, ok bool, kind string, depth int) {
	pairs := []any{"url", url, "ok", strconv.FormatBool(ok), "depth", depth}
	if kind != "" {
		pairs = append(pairs, "kind", kind)
	}
	r.emit("outcome", pairs...)
}

func (r *Recorder) RecordFilter(url, reason string) {
	r.emit("filter", "url", url, "reason", reason)
}

func (r *Recorder) RecordError(component, action string, err error, attrs ...Attr) {
	pairs := []any{"component", component, "action", action, "error", err.Error()}
	for _, a := range attrs {
		pairs = append(pairs, a.Key, a.Value)
	}
	r.emit("error", pairs...)
}

func (r *Recorder) RecordFinalCrawlStats(crawled, failed, discovered, filtered int, duration time.Duration) {
	r.emit("crawl_stats",
		"crawled", crawled,
		"failed", failed,
		"discovered", discovered,
		"filtered", filtered,
		"duration_ms", duration.Milliseconds(),
	)
}
