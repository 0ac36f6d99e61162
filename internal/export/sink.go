// Package export persists crawl results as artifacts.
//
// Output characteristics:
//   - One JSON object per line, append order = ingestion order
//   - Deterministic artifact identity derived from the result URL's hash
//   - Overwrite-safe reruns (a rerun replaces the file)
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agoodway/mulberry/crawler"
	"github.com/agoodway/mulberry/internal/metadata"
	"github.com/agoodway/mulberry/pkg/fileutil"
	"github.com/agoodway/mulberry/pkg/hashutil"
)

// WriteResult identifies one persisted record.
type WriteResult struct {
	urlHash string
	path    string
}

func (w WriteResult) URLHash() string { return w.urlHash }
func (w WriteResult) Path() string    { return w.path }

// Sink receives results as the crawl produces them.
type Sink interface {
	Write(r crawler.Result) (WriteResult, error)
	Close() error
}

// JSONLSink writes results to a single JSONL file.
type JSONLSink struct {
	mu   sync.Mutex
	f    *os.File
	enc  *json.Encoder
	path string
	sink metadata.Sink
}

func NewJSONLSink(path string, meta metadata.Sink) (*JSONLSink, error) {
	if meta == nil {
		meta = metadata.NopSink{}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fileutil.EnsureDir(dir); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create export file %s: %w", path, err)
	}
	return &JSONLSink{
		f:    f,
		enc:  json.NewEncoder(f),
		path: path,
		sink: meta,
	}, nil
}

func (s *JSONLSink) Write(r crawler.Result) (WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(r); err != nil {
		s.sink.RecordError("export", "write", err, metadata.A(metadata.AttrURL, r.URL))
		return WriteResult{}, fmt.Errorf("encode result for %s: %w", r.URL, err)
	}
	return WriteResult{
		urlHash: hashutil.ShortHash([]byte(r.URL)),
		path:    s.path,
	}, nil
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
