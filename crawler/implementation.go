package crawler

import "github.com/agoodway/mulberry/fetch"

// Mode selects how a crawl treats discovered links.
type Mode string

const (
	// ModeURLs crawls the explicit seed list; links are reported, never
	// followed.
	ModeURLs Mode = "urls"
	// ModeWebsite breadth-first follows same-domain links up to MaxDepth.
	ModeWebsite Mode = "website"
	// ModeSitemap seeds from sitemap discovery; links are not followed.
	ModeSitemap Mode = "sitemap"
)

// Context is the crawl-side information handed to ShouldCrawl.
type Context struct {
	Mode       Mode
	RootDomain string
	Depth      int
	SourceURL  string
}

// Implementation is the user-supplied extraction capability. ExtractData
// and ExtractURLs may fail (or panic) per URL; such failures become
// ordinary failed outcomes for that URL, never a worker crash.
type Implementation interface {
	// ShouldCrawl votes on a discovered URL before it enters the frontier.
	ShouldCrawl(rawURL string, cc Context) bool

	// ExtractData pulls the caller's structured payload out of a document.
	ExtractData(doc *fetch.Document, rawURL string) (any, error)

	// ExtractURLs returns the raw candidate links found in a document.
	ExtractURLs(doc *fetch.Document, baseURL string) ([]string, error)
}
