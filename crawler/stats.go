package crawler

import (
	"time"

	"github.com/agoodway/mulberry/pkg/urlutil"
)

// DomainStats accumulates per-domain outcome counts and response times.
type DomainStats struct {
	Crawled           int           `json:"crawled"`
	Failed            int           `json:"failed"`
	TotalResponseTime time.Duration `json:"total_response_ms"`
}

// AverageResponseTime derives the mean response time on read.
func (d DomainStats) AverageResponseTime() time.Duration {
	n := d.Crawled + d.Failed
	if n == 0 {
		return 0
	}
	return d.TotalResponseTime / time.Duration(n)
}

// Stats is the fold of every per-URL outcome. It is applied exclusively on
// the orchestrator goroutine, which is the ordering point for result
// application; readers get copies via clone.
type Stats struct {
	Crawled        int `json:"crawled"`
	Failed         int `json:"failed"`
	URLsDiscovered int `json:"urls_discovered"`
	URLsFiltered   int `json:"urls_filtered"`
	RobotsBlocked  int `json:"urls_robots_blocked"`

	StatusCodes   map[int]int            `json:"status_codes"`
	ErrorKinds    map[ErrorKind]int      `json:"error_kinds"`
	FilterReasons map[FilterReason]int   `json:"filter_reasons"`
	Domains       map[string]DomainStats `json:"domains"`

	Duration time.Duration `json:"duration_ms"`
}

func newStats() Stats {
	return Stats{
		StatusCodes:   make(map[int]int),
		ErrorKinds:    make(map[ErrorKind]int),
		FilterReasons: make(map[FilterReason]int),
		Domains:       make(map[string]DomainStats),
	}
}

// applyResult folds one worker outcome into the accumulator.
func (s *Stats) applyResult(r Result) {
	domain := urlutil.Domain(r.URL)
	d := s.Domains[domain]
	d.TotalResponseTime += r.ResponseTime

	switch r.Status {
	case StatusOK:
		s.Crawled++
		d.Crawled++
	default:
		s.Failed++
		d.Failed++
		if r.ErrorKind != "" {
			s.ErrorKinds[r.ErrorKind]++
		}
		if r.ErrorKind == KindRobotsBlocked {
			s.RobotsBlocked++
		}
	}
	s.Domains[domain] = d

	if r.HTTPStatus != 0 {
		s.StatusCodes[r.HTTPStatus]++
	}
	s.URLsDiscovered += len(r.DiscoveredURLs)
}

// applyFilter records a discovered URL that never entered the frontier.
func (s *Stats) applyFilter(reason FilterReason, n int) {
	if n <= 0 {
		return
	}
	s.URLsFiltered += n
	s.FilterReasons[reason] += n
}

// clone deep-copies the accumulator for hooks and snapshots.
func (s Stats) clone() Stats {
	out := s
	out.StatusCodes = make(map[int]int, len(s.StatusCodes))
	for k, v := range s.StatusCodes {
		out.StatusCodes[k] = v
	}
	out.ErrorKinds = make(map[ErrorKind]int, len(s.ErrorKinds))
	for k, v := range s.ErrorKinds {
		out.ErrorKinds[k] = v
	}
	out.FilterReasons = make(map[FilterReason]int, len(s.FilterReasons))
	for k, v := range s.FilterReasons {
		out.FilterReasons[k] = v
	}
	out.Domains = make(map[string]DomainStats, len(s.Domains))
	for k, v := range s.Domains {
		out.Domains[k] = v
	}
	return out
}
