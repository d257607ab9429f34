package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cwygoda/audiodrop/internal/config"
	"github.com/cwygoda/audiodrop/internal/domain"
)

// CommandFetcher fetches audio for matching URLs by running yt-dlp, and
// optionally ffmpeg to transcode the result to mp3.
type CommandFetcher struct {
	name      string
	pattern   *regexp.Regexp
	ytdlp     string
	ffmpeg    string
	dir       string
	args      []string
	transcode bool
}

// NewCommandFetcher creates a fetcher from a [[fetchers]] entry. Binaries,
// target directory and the transcode default come from the downloads section.
func NewCommandFetcher(fc config.FetcherConfig, dl config.DownloadsConfig) (*CommandFetcher, error) {
	re, err := regexp.Compile(fc.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", fc.Pattern, err)
	}

	transcode := dl.Transcode
	if fc.Transcode != nil {
		transcode = *fc.Transcode
	}

	return &CommandFetcher{
		name:      fc.Name,
		pattern:   re,
		ytdlp:     orDefault(dl.YtDlp, "yt-dlp"),
		ffmpeg:    orDefault(dl.FFmpeg, "ffmpeg"),
		dir:       config.ExpandPath(dl.Dir),
		args:      fc.Args,
		transcode: transcode,
	}, nil
}

func (p *CommandFetcher) Name() string {
	return p.name
}

func (p *CommandFetcher) Match(url string) bool {
	return p.pattern.MatchString(url)
}

// videoInfo is the subset of yt-dlp's --dump-json output we use.
type videoInfo struct {
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
}

// Metadata asks yt-dlp for the title and thumbnail without downloading.
func (p *CommandFetcher) Metadata(ctx context.Context, url string) (*domain.Metadata, error) {
	args := []string{"--dump-json", "--no-playlist", "--no-warnings", "--skip-download"}
	args = append(args, p.extraArgs(url)...)
	args = append(args, url)

	out, err := p.run(ctx, p.ytdlp, args)
	if err != nil {
		return nil, err
	}

	var info videoInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("parse %s output: %w", p.ytdlp, err)
	}
	return &domain.Metadata{Title: info.Title, Thumbnail: info.Thumbnail}, nil
}

// Download writes the best audio stream to <dir>/<basename>.<ext>. yt-dlp
// appends to <basename>.<ext>.part while the download runs and renames it on
// completion, which is what lets the audio endpoint stream it early.
func (p *CommandFetcher) Download(ctx context.Context, url, basename string) error {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}

	args := []string{
		"-f", "bestaudio/best",
		"--no-playlist",
		"--no-warnings",
		"--newline",
		"-o", filepath.Join(p.dir, basename+".%(ext)s"),
	}
	args = append(args, p.extraArgs(url)...)
	args = append(args, url)

	if _, err := p.run(ctx, p.ytdlp, args); err != nil {
		return err
	}

	if !p.transcode {
		return nil
	}
	return p.transcodeMP3(ctx, basename)
}

// transcodeMP3 converts the downloaded file to <basename>.mp3. The output is
// written under a .part name and renamed so a half-written mp3 is never
// served as finished.
func (p *CommandFetcher) transcodeMP3(ctx context.Context, basename string) error {
	src, err := p.downloaded(basename)
	if err != nil {
		return err
	}
	if filepath.Ext(src) == domain.TargetExt {
		return nil
	}

	dst := filepath.Join(p.dir, basename+domain.TargetExt)
	tmp := dst + ".part"
	args := []string{"-y", "-loglevel", "error", "-i", src, "-vn", "-codec:a", "libmp3lame", "-q:a", "2", "-f", "mp3", tmp}
	if _, err := p.run(ctx, p.ffmpeg, args); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("rename transcoded file: %w", err)
	}
	if err := os.Remove(src); err != nil {
		log.Printf("transcode: remove %s: %v", src, err)
	}
	return nil
}

// downloaded finds the finished file yt-dlp produced for basename.
func (p *CommandFetcher) downloaded(basename string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(p.dir, escapeGlob(basename)+".*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		return m, nil
	}
	return "", fmt.Errorf("no downloaded file for %s", basename)
}

func (p *CommandFetcher) extraArgs(url string) []string {
	args := make([]string, len(p.args))
	for i, arg := range p.args {
		args[i] = strings.ReplaceAll(arg, "{url}", url)
	}
	return args
}

func (p *CommandFetcher) run(ctx context.Context, command string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s failed: %w: %s", command, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s failed: %w", command, err)
	}
	return out, nil
}

var globMeta = strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)

func escapeGlob(s string) string {
	return globMeta.Replace(s)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
