package domain

import "strings"

// TargetExt is the extension of a finished artifact.
const TargetExt = ".mp3"

var basenameReplacer = strings.NewReplacer("://", "_", "/", "_", "?", "_", "&", "_", "=", "_")

// ArtifactBasename derives the deterministic on-disk name for a source URL.
func ArtifactBasename(rawURL string) string {
	return basenameReplacer.Replace(rawURL)
}

// ArtifactFilename returns the finished artifact file name for a source URL.
func ArtifactFilename(rawURL string) string {
	return ArtifactBasename(rawURL) + TargetExt
}
