package processor

import (
	"regexp"

	"github.com/cwygoda/audiodrop/internal/config"
)

var youtubePattern = regexp.MustCompile(`^https?://(www\.|m\.|music\.)?(youtube\.com|youtu\.be)/`)

// NewYouTubeFetcher creates the built-in fetcher for YouTube URLs.
func NewYouTubeFetcher(dl config.DownloadsConfig) *CommandFetcher {
	return &CommandFetcher{
		name:      "youtube",
		pattern:   youtubePattern,
		ytdlp:     orDefault(dl.YtDlp, "yt-dlp"),
		ffmpeg:    orDefault(dl.FFmpeg, "ffmpeg"),
		dir:       config.ExpandPath(dl.Dir),
		transcode: dl.Transcode,
	}
}

// NewGenericFetcher creates the catch-all fetcher, leaving site support to
// yt-dlp's extractors.
func NewGenericFetcher(dl config.DownloadsConfig) *CommandFetcher {
	f := NewYouTubeFetcher(dl)
	f.name = "generic"
	f.pattern = regexp.MustCompile(`^https?://`)
	return f
}
