package webctx

import (
	"context"
	"net/netip"
	"unicode/utf8"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<!DOCTYPE html>
<html><head><title>Quarterly Report</title></head>
<body><article><h1>Quarterly Report</h1>
<p>Revenue grew by twelve percent over the previous quarter, driven mostly by new subscriptions in the
European market. Operating costs stayed flat while headcount increased slightly.</p>
<p>The board expects similar growth next quarter if the current pricing holds.</p></article></body>
</html>`))
	}))
	defer srv.Close()

	page, err := New(WithHTTPClient(srv.Client())).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly Report", page.Title)
	assert.Contains(t, page.Text, "twelve percent")
	assert.Contains(t, page.Context(), "Source: "+srv.URL)
}

func TestFetchPlainTextIsLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer srv.Close()

	page, err := New(WithHTTPClient(srv.Client()), WithMaxSize(10)).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 10), page.Text)
	assert.Empty(t, page.Title)
}

func TestFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := New(WithHTTPClient(srv.Client()))
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "HTTP 404")

	_, err = f.Fetch(context.Background(), "file:///etc/passwd")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab\n... [truncated]", truncate("abc", 2))
}

func TestFetchRefusesPrivateAddresses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("loopback server must not be reached")
	}))
	defer srv.Close()

	_, err := New().Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrBlockedAddress)
}

func TestIsPublic(t *testing.T) {
	for addr, want := range map[string]bool{
		"93.184.216.34":    true,
		"2606:4700::1111":  true,
		"127.0.0.1":        false,
		"10.1.2.3":         false,
		"172.16.0.9":       false,
		"192.168.1.1":      false,
		"169.254.169.254":  false,
		"100.64.0.1":       false,
		"0.0.0.0":          false,
		"::1":              false,
		"fe80::1":          false,
		"fd00::1":          false,
		"::ffff:127.0.0.1": false,
	} {
		assert.Equal(t, want, isPublic(netip.MustParseAddr(addr)), addr)
	}
}

func TestFetchHTMLBodyIsCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><head><title>Kept</title></head><body><p>early text</p>"))
		w.Write([]byte(strings.Repeat("<p>late text</p>", 1000)))
	}))
	defer srv.Close()

	page, err := New(WithHTTPClient(srv.Client()), WithMaxBody(80)).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.NotContains(t, page.Text, "late text")
}

func TestCutsKeepRunesWhole(t *testing.T) {
	s := "héllo wörld"
	for n := 0; n <= len(s); n++ {
		got := truncate(s, n)
		assert.True(t, utf8.ValidString(got), "cut at %d", n)
	}
	assert.Equal(t, "h\n... [truncated]", truncate(s, 2))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("aé"))
	}))
	defer srv.Close()

	page, err := New(WithHTTPClient(srv.Client()), WithMaxSize(2)).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "a", page.Text)
}
