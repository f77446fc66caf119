package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/punchsync/internal/ingest"
	"github.com/roach88/punchsync/internal/punch"
)

// DefaultPageSize is the number of records requested per listing page.
const DefaultPageSize = 200

// Client fetches transaction pages from the vendor terminal API.
type Client interface {
	// Transactions returns one page of transactions for serial punched at or
	// after since. Pages are numbered from 1.
	Transactions(ctx context.Context, serial string, since time.Time, page int) (ingest.Page, error)
}

// HTTPClient talks to the vendor's HTTP listing endpoint:
//
//	GET {BaseURL}/iclock/api/transactions/?terminal_sn=..&start_time=..&page=..&page_size=..
type HTTPClient struct {
	BaseURL  string
	Token    string
	PageSize int
	HTTP     *http.Client
}

// NewHTTPClient creates a client against baseURL.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Token:    token,
		PageSize: DefaultPageSize,
		HTTP:     &http.Client{},
	}
}

// Transactions implements Client.
func (c *HTTPClient) Transactions(ctx context.Context, serial string, since time.Time, page int) (ingest.Page, error) {
	q := url.Values{}
	q.Set("terminal_sn", serial)
	q.Set("start_time", punch.FormatTimestamp(since))
	q.Set("page", strconv.Itoa(page))
	size := c.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	q.Set("page_size", strconv.Itoa(size))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/iclock/api/transactions/?"+q.Encode(), nil)
	if err != nil {
		return ingest.Page{}, fmt.Errorf("list transactions %s: %w", serial, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Token "+c.Token)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return ingest.Page{}, fmt.Errorf("list transactions %s: %w", serial, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ingest.Page{}, fmt.Errorf("list transactions %s: status %d: %s", serial, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p ingest.Page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return ingest.Page{}, fmt.Errorf("list transactions %s: decode: %w", serial, err)
	}
	return p, nil
}
