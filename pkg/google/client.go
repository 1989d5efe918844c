// Package google is a Places API (New) client covering the two calls the
// pipeline pays for: Text Search (discovery) and Place Details (contact
// enrichment). Field masks keep each call on the cheapest SKU that still
// returns what the store needs.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

// textSearchFieldMask lists the discovery fields (places.* plus the
// pagination token).
var textSearchFieldMask = strings.Join([]string{
	"places.id",
	"places.displayName",
	"places.formattedAddress",
	"places.location",
	"places.types",
	"places.primaryType",
	"places.businessStatus",
	"nextPageToken",
}, ",")

// detailsFieldMask lists the call-ready enrichment fields (single place
// object fields, not places.*).
var detailsFieldMask = strings.Join([]string{
	"id",
	"displayName",
	"formattedAddress",
	"location",
	"types",
	"primaryType",
	"businessStatus",
	"internationalPhoneNumber",
	"nationalPhoneNumber",
	"websiteUri",
	"rating",
	"userRatingCount",
	"googleMapsUri",
	"regularOpeningHours",
}, ",")

// Client performs Google Places API operations.
type Client interface {
	TextSearch(ctx context.Context, query string) ([]PlaceLite, error)
	PlaceDetails(ctx context.Context, placeID string) (*PlaceDetails, error)
}

// PlaceLite is a lightweight discovery result.
type PlaceLite struct {
	PlaceID        string
	Name           string
	Address        string
	Lat            *float64
	Lng            *float64
	PrimaryType    *string
	Types          []string
	BusinessStatus *string
}

// PlaceDetails carries the call-ready fields for one place.
type PlaceDetails struct {
	PlaceID        string
	Name           string
	Address        string
	Phone          *string
	Website        *string
	Rating         *float64
	ReviewCount    *int64
	MapsURL        *string
	OpeningHours   json.RawMessage
	Lat            *float64
	Lng            *float64
	PrimaryType    *string
	Types          []string
	BusinessStatus *string
}

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Rectangle is a lat/lng viewport used for location biasing.
type Rectangle struct {
	Low  LatLng `json:"low"`
	High LatLng `json:"high"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = url }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRegion sets the region code sent with text searches.
func WithRegion(code string) Option {
	return func(c *httpClient) { c.regionCode = code }
}

// WithLanguage sets the language code sent with text searches.
func WithLanguage(code string) Option {
	return func(c *httpClient) { c.languageCode = code }
}

// WithLocationBias biases text search results toward a rectangle.
func WithLocationBias(rect Rectangle) Option {
	return func(c *httpClient) { c.bias = &rect }
}

// WithPageSize sets the per-page result count (API max is 20).
func WithPageSize(n int) Option {
	return func(c *httpClient) { c.pageSize = n }
}

// WithMaxPages caps pagination per query.
func WithMaxPages(n int) Option {
	return func(c *httpClient) { c.maxPages = n }
}

// WithIncludedType restricts text search to one place type.
func WithIncludedType(placeType string, strict bool) Option {
	return func(c *httpClient) {
		c.includedType = placeType
		c.strictType = strict
	}
}

// WithPageTokenDelay overrides the wait before reusing a pagination token.
// Tokens often need a short delay before the API accepts them.
func WithPageTokenDelay(d time.Duration) Option {
	return func(c *httpClient) { c.pageTokenDelay = d }
}

type httpClient struct {
	apiKey         string
	baseURL        string
	http           *http.Client
	regionCode     string
	languageCode   string
	bias           *Rectangle
	pageSize       int
	maxPages       int
	includedType   string
	strictType     bool
	pageTokenDelay time.Duration
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:         apiKey,
		baseURL:        defaultBaseURL,
		regionCode:     "CA",
		languageCode:   "en",
		pageSize:       20,
		maxPages:       3,
		pageTokenDelay: 2 * time.Second,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type textSearchRequest struct {
	TextQuery           string     `json:"textQuery"`
	PageSize            int        `json:"pageSize"`
	RegionCode          string     `json:"regionCode,omitempty"`
	LanguageCode        string     `json:"languageCode,omitempty"`
	LocationBias        *biasBody  `json:"locationBias,omitempty"`
	IncludedType        string     `json:"includedType,omitempty"`
	StrictTypeFiltering bool       `json:"strictTypeFiltering,omitempty"`
	PageToken           string     `json:"pageToken,omitempty"`
}

type biasBody struct {
	Rectangle Rectangle `json:"rectangle"`
}

type placeBody struct {
	ID               string          `json:"id"`
	DisplayName      displayName     `json:"displayName"`
	FormattedAddress string          `json:"formattedAddress"`
	Location         *LatLng         `json:"location"`
	Types            []string        `json:"types"`
	PrimaryType      *string         `json:"primaryType"`
	BusinessStatus   *string         `json:"businessStatus"`

	InternationalPhoneNumber *string         `json:"internationalPhoneNumber"`
	NationalPhoneNumber      *string         `json:"nationalPhoneNumber"`
	WebsiteURI               *string         `json:"websiteUri"`
	Rating                   *float64        `json:"rating"`
	UserRatingCount          *int64          `json:"userRatingCount"`
	GoogleMapsURI            *string         `json:"googleMapsUri"`
	RegularOpeningHours      json.RawMessage `json:"regularOpeningHours"`
}

type displayName struct {
	Text string `json:"text"`
}

type textSearchResponse struct {
	Places        []placeBody `json:"places"`
	NextPageToken string      `json:"nextPageToken"`
}

// TextSearch runs a Places Text Search, following pagination tokens up to
// the configured page cap and deduplicating place ids across pages.
func (c *httpClient) TextSearch(ctx context.Context, query string) ([]PlaceLite, error) {
	req := textSearchRequest{
		TextQuery:    query,
		PageSize:     c.pageSize,
		RegionCode:   c.regionCode,
		LanguageCode: c.languageCode,
	}
	if c.bias != nil {
		req.LocationBias = &biasBody{Rectangle: *c.bias}
	}
	if c.includedType != "" {
		req.IncludedType = c.includedType
		req.StrictTypeFiltering = c.strictType
	}

	var results []PlaceLite
	seen := make(map[string]struct{})

	for page := 0; page < c.maxPages; page++ {
		var resp textSearchResponse
		if err := c.post(ctx, "/places:searchText", textSearchFieldMask, req, &resp); err != nil {
			return nil, err
		}

		for _, p := range resp.Places {
			if p.ID == "" {
				continue
			}
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			results = append(results, parsePlaceLite(p))
		}

		if resp.NextPageToken == "" {
			break
		}
		req.PageToken = resp.NextPageToken

		if c.pageTokenDelay > 0 {
			timer := time.NewTimer(c.pageTokenDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return results, ctx.Err()
			case <-timer.C:
			}
		}
	}

	zap.L().Debug("text search complete",
		zap.String("query", query),
		zap.Int("results", len(results)),
	)
	return results, nil
}

// PlaceDetails fetches call-ready details for a single place id.
func (c *httpClient) PlaceDetails(ctx context.Context, placeID string) (*PlaceDetails, error) {
	if placeID == "" {
		return nil, eris.New("google: empty place id")
	}

	var p placeBody
	if err := c.get(ctx, "/places/"+placeID, detailsFieldMask, &p); err != nil {
		return nil, err
	}

	return parsePlaceDetails(p), nil
}

func (c *httpClient) post(ctx context.Context, path, fieldMask string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "google: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "google: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, fieldMask, out)
}

func (c *httpClient) get(ctx context.Context, path, fieldMask string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "google: create request")
	}
	return c.send(req, fieldMask, out)
}

func (c *httpClient) send(req *http.Request, fieldMask string, out any) error {
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "google: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 300)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "google: unmarshal response")
	}
	return nil
}

// APIError is a non-200 Places API response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("google: unexpected status %d: %s", e.StatusCode, e.Body)
}

func parsePlaceLite(p placeBody) PlaceLite {
	lite := PlaceLite{
		PlaceID:        p.ID,
		Name:           p.DisplayName.Text,
		Address:        p.FormattedAddress,
		PrimaryType:    p.PrimaryType,
		Types:          p.Types,
		BusinessStatus: p.BusinessStatus,
	}
	if p.Location != nil {
		lite.Lat = &p.Location.Latitude
		lite.Lng = &p.Location.Longitude
	}
	return lite
}

func parsePlaceDetails(p placeBody) *PlaceDetails {
	d := &PlaceDetails{
		PlaceID:        p.ID,
		Name:           p.DisplayName.Text,
		Address:        p.FormattedAddress,
		Website:        p.WebsiteURI,
		Rating:         p.Rating,
		ReviewCount:    p.UserRatingCount,
		MapsURL:        p.GoogleMapsURI,
		OpeningHours:   p.RegularOpeningHours,
		PrimaryType:    p.PrimaryType,
		Types:          p.Types,
		BusinessStatus: p.BusinessStatus,
	}

	// Phone fallback: international first, national second.
	if p.InternationalPhoneNumber != nil && *p.InternationalPhoneNumber != "" {
		d.Phone = p.InternationalPhoneNumber
	} else if p.NationalPhoneNumber != nil && *p.NationalPhoneNumber != "" {
		d.Phone = p.NationalPhoneNumber
	}

	if p.Location != nil {
		d.Lat = &p.Location.Latitude
		d.Lng = &p.Location.Longitude
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
