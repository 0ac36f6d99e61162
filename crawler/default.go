package crawler

import (
	"errors"

	"github.com/agoodway/mulberry/fetch"
	"github.com/agoodway/mulberry/pkg/urlutil"
)

// ErrNoDocument is returned by the default implementation when the
// retriever produced no parseable document for a URL.
var ErrNoDocument = errors.New("no document to extract from")

// SameDomainImplementation is the stock crawler implementation: follow
// links on the crawl's root domain and pull page metadata.
type SameDomainImplementation struct{}

func NewSameDomainImplementation() SameDomainImplementation {
	return SameDomainImplementation{}
}

func (SameDomainImplementation) ShouldCrawl(rawURL string, cc Context) bool {
	if cc.RootDomain == "" {
		return true
	}
	return urlutil.SameDomain(rawURL, cc.RootDomain)
}

func (SameDomainImplementation) ExtractData(doc *fetch.Document, rawURL string) (any, error) {
	if doc == nil {
		return nil, ErrNoDocument
	}
	data := map[string]any{
		"title":        doc.Title,
		"content_hash": doc.ContentHash,
	}
	if desc, ok := doc.Meta["description"]; ok {
		data["description"] = desc
	}
	if doc.Markdown != "" {
		data["markdown"] = doc.Markdown
	}
	return data, nil
}

func (SameDomainImplementation) ExtractURLs(doc *fetch.Document, baseURL string) ([]string, error) {
	if doc == nil {
		return nil, nil
	}
	urls := make([]string, 0, len(doc.Links))
	for _, link := range doc.Links {
		urls = append(urls, link.URL)
	}
	return urls, nil
}
