package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"
	"unicode"
	"unicode/utf8"
)

const defaultGoogleURL = "https://www.googleapis.com/customsearch/v1"

var subredditPattern = regexp.MustCompile(`reddit\.com/r/(\w+)`)

// Google queries a Custom Search engine for the label and turns subreddit
// links in the results into candidate short names.
type Google struct {
	apiKey   string
	engineID string
	baseURL  string
	client   *http.Client
}

type GoogleConfig struct {
	APIKey   string
	EngineID string
	// BaseURL overrides the Custom Search endpoint.
	BaseURL    string
	HTTPClient *http.Client
}

func NewGoogle(cfg GoogleConfig) *Google {
	g := &Google{
		apiKey:   cfg.APIKey,
		engineID: cfg.EngineID,
		baseURL:  cfg.BaseURL,
		client:   cfg.HTTPClient,
	}
	if g.baseURL == "" {
		g.baseURL = defaultGoogleURL
	}
	if g.client == nil {
		g.client = &http.Client{Timeout: 10 * time.Second}
	}
	return g
}

type googleResponse struct {
	Items []struct {
		Link string `json:"link"`
	} `json:"items"`
}

// Lookup searches for the quoted label and returns subreddit names in
// result order, first letter capitalized, without duplicates.
func (g *Google) Lookup(ctx context.Context, label string) ([]string, error) {
	params := url.Values{}
	params.Set("q", `"`+label+`"`)
	params.Set("key", g.apiKey)
	params.Set("cx", g.engineID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build google request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google search: unexpected status %d", resp.StatusCode)
	}

	var body googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode google response: %w", err)
	}

	seen := map[string]bool{}
	var candidates []string
	for _, item := range body.Items {
		match := subredditPattern.FindStringSubmatch(item.Link)
		if match == nil {
			continue
		}
		name := capitalize(match[1])
		if seen[name] {
			continue
		}
		seen[name] = true
		candidates = append(candidates, name)
	}
	return candidates, nil
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
