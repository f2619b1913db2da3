// Package rangehttp serves a local file with RFC 7233 byte-range support,
// backing the direct-play and copy-video/copy-audio delivery path.
package rangehttp

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mantonx/playserver/internal/play"
)

// byteRange is an inclusive [start, end] span into the file.
type byteRange struct {
	start, end int64
}

func (r byteRange) length() int64 { return r.end - r.start + 1 }

// parseRange parses a single-range "Range: bytes=start-end" header value
// against a file of the given size. A missing header yields the whole file
// (no error, ok is false to signal "not a partial response"). Multi-range
// requests ("bytes=0-99,200-299") are not rejected: this server serves the
// first range only, treating anything after the first comma as absent, since
// HLS/DASH and ordinary `<video>` byte-range probing never send multi-range
// requests in practice.
func parseRange(header string, size int64) (byteRange, bool, error) {
	if header == "" {
		return byteRange{0, size - 1}, false, nil
	}
	if !strings.HasPrefix(header, "bytes=") {
		return byteRange{}, false, play.ErrRangeNotSatisfiable
	}
	spec := strings.TrimPrefix(header, "bytes=")
	if idx := strings.Index(spec, ","); idx >= 0 {
		spec = spec[:idx]
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return byteRange{}, false, play.ErrRangeNotSatisfiable
	}

	startStr, endStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

	var r byteRange
	switch {
	case startStr == "" && endStr == "":
		return byteRange{}, false, play.ErrRangeNotSatisfiable
	case startStr == "":
		// suffix range: last N bytes
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return byteRange{}, false, play.ErrRangeNotSatisfiable
		}
		if n > size {
			n = size
		}
		r = byteRange{start: size - n, end: size - 1}
	case endStr == "":
		start, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || start < 0 {
			return byteRange{}, false, play.ErrRangeNotSatisfiable
		}
		r = byteRange{start: start, end: size - 1}
	default:
		start, err1 := strconv.ParseInt(startStr, 10, 64)
		end, err2 := strconv.ParseInt(endStr, 10, 64)
		if err1 != nil || err2 != nil || start < 0 || end < start || end >= size {
			return byteRange{}, false, play.ErrRangeNotSatisfiable
		}
		r = byteRange{start: start, end: end}
	}

	if r.start >= size || r.start < 0 || r.end < r.start {
		return byteRange{}, false, play.ErrRangeNotSatisfiable
	}
	return r, true, nil
}

// ServeFile writes path to w, honoring a Range request header. It sets
// Content-Type from the file extension, Accept-Ranges: bytes always, and on
// a satisfiable partial request, 206 with Content-Range; on no Range header,
// 200 with the full body; on an unsatisfiable range, 416 with
// Content-Range: bytes */size and no body.
func ServeFile(w http.ResponseWriter, r *http.Request, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Encoding", "identity")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Range")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Range, Content-Length, Accept-Ranges")
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}

	rng, partial, err := parseRange(r.Header.Get("Range"), size)
	if err == play.ErrRangeNotSatisfiable {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	if err != nil {
		return err
	}

	if !partial {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		_, err = copyRange(w, f, 0, size)
		return err
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(rng.length(), 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}
	_, err = copyRange(w, f, rng.start, rng.length())
	return err
}

func copyRange(w http.ResponseWriter, f *os.File, offset, length int64) (int64, error) {
	if _, err := f.Seek(offset, 0); err != nil {
		return 0, err
	}
	return copyN(w, f, length)
}

func copyN(w http.ResponseWriter, f *os.File, n int64) (int64, error) {
	buf := make([]byte, 64*1024)
	var written int64
	for written < n {
		chunk := int64(len(buf))
		if remaining := n - written; remaining < chunk {
			chunk = remaining
		}
		read, err := f.Read(buf[:chunk])
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				return written, werr
			}
			written += int64(read)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return written, err
		}
	}
	return written, nil
}
