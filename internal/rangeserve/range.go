// Package rangeserve serves files that may still be growing, honoring a
// single HTTP byte range.
//
// Only the first range of a Range header is considered. Headers that do not
// start with a well-formed "bytes=<start>-<end?>" range are ignored and the
// whole file is served.
package rangeserve

import (
	"errors"
	"regexp"
	"strconv"

	"github.com/samber/mo"
)

// ErrRangeNotSatisfiable is returned when a range starts beyond the end of file.
var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

var rangePattern = regexp.MustCompile(`^\s*bytes=(\d+)-(\d*)\s*(?:,|$)`)

// Range is a requested byte interval. A missing End means "through the end
// of the file at the time of the read".
type Range struct {
	Start int64
	End   mo.Option[int64]
}

// ParseRange parses a Range header value. ok is false for absent or
// malformed headers.
func ParseRange(header string) (Range, bool) {
	m := rangePattern.FindStringSubmatch(header)
	if m == nil {
		return Range{}, false
	}

	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Range{}, false
	}
	r := Range{Start: start, End: mo.None[int64]()}

	if m[2] != "" {
		end, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil || end < start {
			return Range{}, false
		}
		r.End = mo.Some(end)
	}
	return r, true
}

// Bounds clamps r to a file of the given size and returns the inclusive
// byte interval to serve.
func (r Range) Bounds(size int64) (start, end int64, err error) {
	if r.Start >= size {
		return 0, 0, ErrRangeNotSatisfiable
	}
	end = size - 1
	if v, ok := r.End.Get(); ok && v < end {
		end = v
	}
	return r.Start, end, nil
}
