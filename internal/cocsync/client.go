package cocsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/cocledger-backend/pkg/errors"
)

const (
	defaultTimeout              = 30 * time.Second
	responseBodyReadLimit int64 = 1024
	sinceLayout                 = "2006-01-02"
)

var errFeedURLRequired = errors.New("coc feed url is required")

// Client pulls supplier receipts from the third-party COC feed.
type Client struct {
	httpClient *http.Client
	feedURL    string
	token      string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithToken sets the bearer token sent to the feed.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithTimeout bounds each feed request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

func NewClient(feedURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(feedURL)
	if trimmed == "" {
		return nil, errFeedURLRequired
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("parse coc feed url: %w", err)
	}

	client := &Client{
		feedURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return client, nil
}

// Page is one feed response: the receipts that decoded cleanly plus the rows
// that did not.
type Page struct {
	Receipts []Receipt
	Rejected []Rejection
}

// FetchReceipts asks the feed for receipts received on or after since.
func (c *Client) FetchReceipts(ctx context.Context, since time.Time) (*Page, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "coc feed client not configured")
	}

	endpoint, err := url.Parse(c.feedURL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "parse coc feed url")
	}
	if !since.IsZero() {
		q := endpoint.Query()
		q.Set("since", since.UTC().Format(sinceLayout))
		endpoint.RawQuery = q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build coc feed request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute coc feed request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "coc feed request failed")
	}

	var envelope struct {
		Receipts []json.RawMessage `json:"receipts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode coc feed response")
	}

	page := &Page{Receipts: make([]Receipt, 0, len(envelope.Receipts))}
	for i, raw := range envelope.Receipts {
		receipt, err := decodeRow(raw)
		if err != nil {
			page.Rejected = append(page.Rejected, Rejection{Row: i, InvoiceNo: receipt.InvoiceNo, Reason: err.Error()})
			continue
		}
		page.Receipts = append(page.Receipts, receipt)
	}
	return page, nil
}
