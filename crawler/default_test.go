package crawler_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoodway/mulberry/crawler"
	"github.com/agoodway/mulberry/fetch"
)

func sampleDoc(t *testing.T) *fetch.Document {
	t.Helper()
	base, err := url.Parse("http://a.test/")
	require.NoError(t, err)
	doc, err := fetch.ParseDocument([]byte(`<html>
<head><title>Home</title><meta name="description" content="the home page"></head>
<body><p>hello</p><a href="/x">x</a><a href="http://b.test/y">y</a></body>
</html>`), base)
	require.NoError(t, err)
	return doc
}

func TestSameDomainShouldCrawl(t *testing.T) {
	impl := crawler.NewSameDomainImplementation()
	cc := crawler.Context{Mode: crawler.ModeWebsite, RootDomain: "a.test"}

	assert.True(t, impl.ShouldCrawl("http://a.test/x", cc))
	assert.True(t, impl.ShouldCrawl("http://docs.a.test/x", cc))
	assert.False(t, impl.ShouldCrawl("http://b.test/y", cc))

	// without a root domain there is nothing to scope by
	assert.True(t, impl.ShouldCrawl("http://b.test/y", crawler.Context{}))
}

func TestSameDomainExtractData(t *testing.T) {
	impl := crawler.NewSameDomainImplementation()
	data, err := impl.ExtractData(sampleDoc(t), "http://a.test/")
	require.NoError(t, err)

	m, ok := data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Home", m["title"])
	assert.Equal(t, "the home page", m["description"])
	assert.NotEmpty(t, m["content_hash"])
	assert.Contains(t, m["markdown"], "hello")
}

func TestSameDomainExtractDataNoDocument(t *testing.T) {
	impl := crawler.NewSameDomainImplementation()
	_, err := impl.ExtractData(nil, "http://a.test/")
	assert.ErrorIs(t, err, crawler.ErrNoDocument)
}

func TestSameDomainExtractURLs(t *testing.T) {
	impl := crawler.NewSameDomainImplementation()
	urls, err := impl.ExtractURLs(sampleDoc(t), "http://a.test/")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.test/x", "http://b.test/y"}, urls)

	urls, err = impl.ExtractURLs(nil, "http://a.test/")
	require.NoError(t, err)
	assert.Empty(t, urls)
}
