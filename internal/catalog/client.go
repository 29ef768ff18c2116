package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/your-org/cardscan/internal/config"
	"github.com/your-org/cardscan/internal/models"
)

// StatusError is a non-2xx upstream response. Callers branch on the code:
// 400 and 404 on a set search mean the set does not exist upstream.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the upstream card catalog service. Every request carries
// the User-Agent and Accept headers the upstream demands.
type Client struct {
	baseURL   string
	userAgent string
	httpc     *http.Client
}

func NewClient(cfg config.CatalogConfig) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		httpc:     &http.Client{Timeout: 30 * time.Second},
	}
}

type imageURIs struct {
	Normal string `json:"normal"`
}

type cardFace struct {
	ImageURIs *imageURIs `json:"image_uris"`
}

type cardJSON struct {
	ID              string     `json:"id"`
	OracleID        string     `json:"oracle_id"`
	Name            string     `json:"name"`
	Set             string     `json:"set"`
	CollectorNumber string     `json:"collector_number"`
	ReleasedAt      string     `json:"released_at"`
	SetType         string     `json:"set_type"`
	ImageURIs       *imageURIs `json:"image_uris"`
	CardFaces       []cardFace `json:"card_faces"`
}

// Record converts an upstream card to a printing record. The face image
// falls back to the first card face for multi-face layouts; an unparseable
// release date becomes the zero time, still UTC-kinded.
func (c cardJSON) Record() models.PrintingRecord {
	imageURL := ""
	if c.ImageURIs != nil {
		imageURL = c.ImageURIs.Normal
	}
	if imageURL == "" && len(c.CardFaces) > 0 && c.CardFaces[0].ImageURIs != nil {
		imageURL = c.CardFaces[0].ImageURIs.Normal
	}

	releasedAt, err := time.ParseInLocation("2006-01-02", c.ReleasedAt, time.UTC)
	if err != nil {
		releasedAt = time.Time{}
	}

	return models.PrintingRecord{
		PrintingID:      c.ID,
		OracleID:        c.OracleID,
		Name:            c.Name,
		SetCode:         strings.ToUpper(c.Set),
		CollectorNumber: c.CollectorNumber,
		ImageURL:        imageURL,
		ReleasedAt:      releasedAt,
		SetType:         c.SetType,
	}
}

// SearchPage is one page of a printings search.
type SearchPage struct {
	Data     []cardJSON `json:"data"`
	NextPage string     `json:"next_page"`
}

// SetInfo is one entry of the upstream set list.
type SetInfo struct {
	Code    string `json:"code"`
	SetType string `json:"set_type"`
}

type setsResponse struct {
	Data []SetInfo `json:"data"`
}

// SearchURL builds the first-page URL for all printings of a set.
func (c *Client) SearchURL(setCode string) string {
	q := url.Values{}
	q.Set("q", "e:"+strings.ToLower(setCode))
	q.Set("unique", "prints")
	q.Set("include_extras", "false")
	return c.baseURL + "/cards/search?" + q.Encode()
}

// GetPage fetches one search page; pageURL is either a SearchURL result or
// the next_page link of a previous page.
func (c *Client) GetPage(ctx context.Context, pageURL string) (*SearchPage, error) {
	body, err := c.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	page := &SearchPage{}
	if err := json.Unmarshal(body, page); err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}
	return page, nil
}

// ListSets fetches the upstream set catalog.
func (c *Client) ListSets(ctx context.Context) ([]SetInfo, error) {
	body, err := c.get(ctx, c.baseURL+"/sets")
	if err != nil {
		return nil, err
	}
	resp := &setsResponse{}
	if err := json.Unmarshal(body, resp); err != nil {
		return nil, fmt.Errorf("parse sets: %w", err)
	}
	return resp.Data, nil
}

// FetchImage downloads a card face image.
func (c *Client) FetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	return c.get(ctx, imageURL)
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
