// Package webctx turns a URL into readable problem context.
package webctx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	readability "codeberg.org/readeck/go-readability/v2"
)

const (
	DefaultMaxSize = 50 * 1024
	// DefaultMaxBody caps how much HTML is read before extraction.
	DefaultMaxBody = 2 << 20
	DefaultTimeout = 30 * time.Second
	userAgent      = "agora/1.0"
)

var (
	// ErrUnsupportedScheme is returned for anything but http and https URLs.
	ErrUnsupportedScheme = errors.New("webctx: only http and https URLs are supported")
	// ErrBlockedAddress is returned when a URL resolves to a loopback,
	// private, link-local or otherwise non-public address.
	ErrBlockedAddress = errors.New("webctx: address is not public")
)

// Page is the readable text extracted from a URL.
type Page struct {
	Title string
	URL   string
	Text  string
}

// Context renders the page as problem context.
func (p Page) Context() string {
	if p.Title == "" {
		return fmt.Sprintf("Source: %s\n\n%s", p.URL, p.Text)
	}
	return fmt.Sprintf("Title: %s\nSource: %s\n\n%s", p.Title, p.URL, p.Text)
}

// Fetcher downloads pages and extracts their main text.
type Fetcher struct {
	client  *http.Client
	maxSize int
	maxBody int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the HTTP client. The client's own dialer decides
// which addresses are reachable; the default client only dials public ones.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxSize caps the extracted text, in bytes.
func WithMaxSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxSize = n
		}
	}
}

// WithMaxBody caps how many bytes of HTML are read.
func WithMaxBody(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

// New creates a Fetcher whose client refuses non-public addresses.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  publicClient(),
		maxSize: DefaultMaxSize,
		maxBody: DefaultMaxBody,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads rawURL. HTML is run through readability; other text
// content is returned as-is. The text is truncated to the size limit.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Page{}, fmt.Errorf("webctx: invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Page{}, ErrUnsupportedScheme
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("webctx: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("webctx: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("webctx: fetch: HTTP %d", resp.StatusCode)
	}

	page := Page{URL: rawURL}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		body, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.maxSize)))
		if err != nil {
			return Page{}, fmt.Errorf("webctx: read: %w", err)
		}
		page.Text = string(body[:runeBoundary(body, len(body))])
		return page, nil
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, f.maxBody), u)
	if err != nil {
		return Page{}, fmt.Errorf("webctx: parse: %w", err)
	}
	var buf bytes.Buffer
	if err := article.RenderText(&buf); err != nil {
		return Page{}, fmt.Errorf("webctx: render: %w", err)
	}

	page.Title = article.Title()
	page.Text = truncate(strings.TrimSpace(buf.String()), f.maxSize)
	return page, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:runeBoundary([]byte(s), max)] + "\n... [truncated]"
}

// runeBoundary returns the largest cut at or below n that does not split
// a multibyte rune.
func runeBoundary(b []byte, n int) int {
	n = min(n, len(b))
	for i := n - 1; i >= 0 && i >= n-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:n]) {
				return n
			}
			return i
		}
	}
	return n
}

func publicClient() *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, Control: publicOnly}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: DefaultTimeout, Transport: transport}
}

// publicOnly runs after name resolution, so it also covers redirects and
// hostnames that resolve to internal addresses.
func publicOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || !isPublic(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

func isPublic(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsGlobalUnicast() &&
		!ip.IsPrivate() &&
		!ip.IsLoopback() &&
		!ip.IsLinkLocalUnicast() &&
		!sharedAddressSpace.Contains(ip)
}
