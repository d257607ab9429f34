package search

import (
	"context"
	"fmt"
	"html"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/cwygoda/audiodrop/internal/domain"
)

const youtubeWatchURL = "https://www.youtube.com/watch?v="

// YouTube searches videos with the YouTube Data API v3.
type YouTube struct {
	svc *youtube.Service
}

// NewYouTube creates a YouTube provider authenticated with an API key.
// Extra options are applied after the key (tests point the endpoint at a
// local server).
func NewYouTube(ctx context.Context, apiKey string, opts ...option.ClientOption) (*YouTube, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube client: %w", err)
	}
	return &YouTube{svc: svc}, nil
}

func (y *YouTube) Name() string {
	return "YouTube"
}

func (y *YouTube) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	resp, err := y.svc.Search.List([]string{"snippet"}).
		Q(query).
		Type("video").
		MaxResults(int64(limit)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("youtube search: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.VideoId == "" {
			continue
		}
		var title string
		if item.Snippet != nil {
			// The API returns HTML-escaped titles.
			title = html.UnescapeString(item.Snippet.Title)
		}
		results = append(results, domain.SearchResult{
			Title:  title,
			URL:    youtubeWatchURL + item.Id.VideoId,
			Source: y.Name(),
		})
	}
	return results, nil
}
