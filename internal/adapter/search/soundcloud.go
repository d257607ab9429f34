package search

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

	"github.com/cwygoda/audiodrop/internal/domain"
)

// DefaultSoundCloudURL is the public api-v2 endpoint used by the web player.
const DefaultSoundCloudURL = "https://api-v2.soundcloud.com"

// SoundCloud searches tracks on SoundCloud's api-v2.
type SoundCloud struct {
	clientID string
	baseURL  string
	client   *http.Client
}

// NewSoundCloud creates a SoundCloud provider. An empty baseURL uses
// DefaultSoundCloudURL; a nil client gets a 10s timeout.
func NewSoundCloud(clientID, baseURL string, client *http.Client) *SoundCloud {
	if baseURL == "" {
		baseURL = DefaultSoundCloudURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SoundCloud{
		clientID: clientID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
	}
}

func (s *SoundCloud) Name() string {
	return "SoundCloud"
}

type soundcloudTracks struct {
	Collection []struct {
		Title        string `json:"title"`
		PermalinkURL string `json:"permalink_url"`
	} `json:"collection"`
}

func (s *SoundCloud) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("client_id", s.clientID)
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search/tracks?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("soundcloud search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("soundcloud search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tracks soundcloudTracks
	if err := json.NewDecoder(resp.Body).Decode(&tracks); err != nil {
		return nil, fmt.Errorf("soundcloud search: decode: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(tracks.Collection))
	for _, t := range tracks.Collection {
		if t.PermalinkURL == "" {
			continue
		}
		results = append(results, domain.SearchResult{
			Title:  t.Title,
			URL:    t.PermalinkURL,
			Source: s.Name(),
		})
	}
	return results, nil
}
