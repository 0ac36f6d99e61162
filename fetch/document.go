package fetch

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/agoodway/mulberry/pkg/hashutil"
)

// Link is a hyperlink found on a page, resolved against the page URL.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// Document is the parsed view of a fetched page the extraction interface
// works against: title, textual markdown, link anchors, and structured
// metadata.
type Document struct {
	Title       string            `json:"title,omitempty"`
	Markdown    string            `json:"markdown,omitempty"`
	Links       []Link            `json:"links,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	ContentHash string            `json:"content_hash"`
}

// ParseDocument builds a Document from raw HTML. Relative hrefs are resolved
// against base. Failures are parse-kind errors: reported, never retried.
func ParseDocument(body []byte, base *url.URL) (*Document, error) {
	rawURL := ""
	if base != nil {
		rawURL = base.String()
	}

	gq, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, NewError(KindParse, rawURL, err)
	}

	doc := &Document{
		Title:       strings.TrimSpace(gq.Find("title").First().Text()),
		Meta:        extractMeta(gq),
		Links:       extractLinks(body, base),
		ContentHash: hashutil.ContentHash(body),
	}

	if len(bytes.TrimSpace(body)) > 0 {
		markdown, err := convertMarkdown(body)
		if err != nil {
			return nil, NewError(KindParse, rawURL, err)
		}
		doc.Markdown = markdown
	}

	return doc, nil
}

func extractMeta(gq *goquery.Document) map[string]string {
	meta := make(map[string]string)
	gq.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok {
			return
		}
		if name, ok := s.Attr("name"); ok && name != "" {
			meta[strings.ToLower(name)] = content
			return
		}
		if property, ok := s.Attr("property"); ok && property != "" {
			meta[strings.ToLower(property)] = content
		}
	})
	return meta
}

// extractLinks scans anchors with a single tokenizer pass, collecting hrefs
// and their anchor text. Non-http(s) and unresolvable hrefs are skipped.
func extractLinks(body []byte, base *url.URL) []Link {
	var links []Link
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	var pending *Link
	var textParts []string

	flush := func() {
		if pending == nil {
			return
		}
		pending.Text = strings.TrimSpace(strings.Join(textParts, " "))
		links = append(links, *pending)
		pending = nil
		textParts = nil
	}

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			flush()
			return links
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			if token.Data != "a" {
				continue
			}
			flush()
			for _, attr := range token.Attr {
				if attr.Key != "href" {
					continue
				}
				if resolved, ok := resolveHref(attr.Val, base); ok {
					pending = &Link{URL: resolved}
				}
				break
			}
		case html.TextToken:
			if pending != nil {
				if text := strings.TrimSpace(tokenizer.Token().Data); text != "" {
					textParts = append(textParts, text)
				}
			}
		case html.EndTagToken:
			if token := tokenizer.Token(); token.Data == "a" {
				flush()
			}
		}
	}
}

func resolveHref(href string, base *url.URL) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if ref.IsAbs() && ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	if !ref.IsAbs() {
		if base == nil {
			return "", false
		}
		ref = base.ResolveReference(ref)
	}
	ref.Fragment = ""
	return ref.String(), true
}

func convertMarkdown(body []byte) (string, error) {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	return conv.ConvertString(string(body))
}
