package rangeserve

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var contentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".webm": "audio/webm",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".aac":  "audio/aac",
}

// ContentType returns the media type for path, looking through a ".part" suffix.
func ContentType(path string) string {
	path = strings.TrimSuffix(path, ".part")
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Result describes a response written by Serve.
type Result struct {
	Status int
	Bytes  int64
}

// Serve writes path to w, answering r's Range header. The file size is read
// once per call, so a growing file is served up to its size at open time.
//
// A non-nil error means nothing was written; the caller owns the response.
// Failures while copying the body are logged and reflected in Result.Bytes.
func Serve(w http.ResponseWriter, r *http.Request, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Result{}, err
	}
	size := info.Size()

	h := w.Header()
	h.Set("Content-Type", ContentType(path))
	h.Set("Accept-Ranges", "bytes")

	rng, ok := ParseRange(r.Header.Get("Range"))
	if !ok {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return copyBody(w, r, f, path, http.StatusOK, size), nil
	}

	start, end, err := rng.Bounds(size)
	if err != nil {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Requested range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return Result{Status: http.StatusRequestedRangeNotSatisfiable}, nil
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return Result{}, err
	}

	length := end - start + 1
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	return copyBody(w, r, f, path, http.StatusPartialContent, length), nil
}

func copyBody(w io.Writer, r *http.Request, f *os.File, path string, status int, n int64) Result {
	if r.Method == http.MethodHead {
		return Result{Status: status}
	}
	written, err := io.CopyN(w, f, n)
	if err != nil {
		log.Printf("serve %s: copied %d of %d bytes: %v", filepath.Base(path), written, n, err)
	}
	return Result{Status: status, Bytes: written}
}
