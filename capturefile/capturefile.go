// Package capturefile reads and writes the versioned, single-file-per-
// capture binary format produced by the live-capture variant: a small
// line-oriented header followed by zlib-compressed HTML and log payloads.
package capturefile

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/har"
)

const (
	magicV00 = "\x7Fcap 00\n"
	magicV01 = "\x7Fcap 01\n"
)

// Capture is one decoded capture-file's contents.
type Capture struct {
	Version      int
	OriginalURL  string
	FinalURL     string
	CoarseResult string
	FineDetail   string
	Elapsed      time.Duration
	HTML         []byte
	Log          har.HAR
}

// Write serializes cap in the current (v01) format to path, via a
// temp-file-then-rename so a crash mid-write never leaves a truncated
// file at the destination.
func Write(path string, cap Capture) error {
	logJSON, err := json.Marshal(cap.Log)
	if err != nil {
		return fmt.Errorf("capturefile: marshal har log: %w", err)
	}

	content, err := zlibCompress(cap.HTML)
	if err != nil {
		return fmt.Errorf("capturefile: compress html: %w", err)
	}
	logZ, err := zlibCompress(logJSON)
	if err != nil {
		return fmt.Errorf("capturefile: compress log: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(magicV01)
	buf.WriteString(cap.OriginalURL)
	buf.WriteByte('\n')
	buf.WriteString(cap.FinalURL)
	buf.WriteByte('\n')
	buf.WriteString(cap.CoarseResult)
	buf.WriteByte('\n')
	buf.WriteString(cap.FineDetail)
	buf.WriteByte('\n')
	fmt.Fprintf(&buf, "%g\n", cap.Elapsed.Seconds())
	fmt.Fprintf(&buf, "%d %d\n", len(content), len(logZ))
	buf.Write(content)
	buf.Write(logZ)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".capturefile-*")
	if err != nil {
		return fmt.Errorf("capturefile: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName) // no-op once renamed
	}()

	if _, err := buf.WriteTo(tmp); err != nil {
		return fmt.Errorf("capturefile: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("capturefile: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("capturefile: rename into place: %w", err)
	}
	return nil
}

// Read decodes a capture file of either version.
func Read(path string) (*Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capturefile: open: %w", err)
	}
	defer f.Close()
	return decode(bufio.NewReader(f))
}

func decode(r *bufio.Reader) (*Capture, error) {
	magic := make([]byte, len(magicV01))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("capturefile: read magic: %w", err)
	}

	var version int
	switch string(magic) {
	case magicV00:
		version = 0
	case magicV01:
		version = 1
	default:
		return nil, fmt.Errorf("capturefile: unrecognized magic %q", magic)
	}

	originalURL, err := readLine(r)
	if err != nil {
		return nil, fmt.Errorf("capturefile: read original_url: %w", err)
	}
	finalURL, err := readLine(r)
	if err != nil {
		return nil, fmt.Errorf("capturefile: read final_url: %w", err)
	}
	coarse, err := readLine(r)
	if err != nil {
		return nil, fmt.Errorf("capturefile: read coarse_status: %w", err)
	}
	fine, err := readLine(r)
	if err != nil {
		return nil, fmt.Errorf("capturefile: read fine_detail: %w", err)
	}
	elapsedLine, err := readLine(r)
	if err != nil {
		return nil, fmt.Errorf("capturefile: read elapsed_seconds: %w", err)
	}
	elapsedSeconds, err := strconv.ParseFloat(elapsedLine, 64)
	if err != nil {
		return nil, fmt.Errorf("capturefile: parse elapsed_seconds %q: %w", elapsedLine, err)
	}

	sizeLine, err := readLine(r)
	if err != nil {
		return nil, fmt.Errorf("capturefile: read content/log lengths: %w", err)
	}
	var contentLen, logLen int
	if _, err := fmt.Sscanf(sizeLine, "%d %d", &contentLen, &logLen); err != nil {
		return nil, fmt.Errorf("capturefile: parse content/log lengths %q: %w", sizeLine, err)
	}

	contentZ := make([]byte, contentLen)
	if _, err := io.ReadFull(r, contentZ); err != nil {
		return nil, fmt.Errorf("capturefile: read content payload: %w", err)
	}
	logZ := make([]byte, logLen)
	if _, err := io.ReadFull(r, logZ); err != nil {
		return nil, fmt.Errorf("capturefile: read log payload: %w", err)
	}

	// version 00 stored genuinely empty content as zero raw bytes, not a
	// zero-length zlib stream; zlibDecompress treats an empty payload as
	// empty content either way, so both versions decode the same here.
	html, err := zlibDecompress(contentZ)
	if err != nil {
		return nil, fmt.Errorf("capturefile: decompress content: %w", err)
	}

	var logHAR har.HAR
	if len(logZ) > 0 {
		logJSON, err := zlibDecompress(logZ)
		if err != nil {
			return nil, fmt.Errorf("capturefile: decompress log: %w", err)
		}
		if version == 1 {
			if err := json.Unmarshal(logJSON, &logHAR); err != nil {
				return nil, fmt.Errorf("capturefile: unmarshal har log: %w", err)
			}
		}
		// version 00's custom log format predates the HAR payload and is
		// read here only for its header fields; its body is not parsed.
	}

	return &Capture{
		Version:      version,
		OriginalURL:  originalURL,
		FinalURL:     finalURL,
		CoarseResult: coarse,
		FineDetail:   fine,
		Elapsed:      time.Duration(elapsedSeconds * float64(time.Second)),
		HTML:         html,
		Log:          logHAR,
	}, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return line[:len(line)-1], nil
}

func zlibCompress(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(p); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func zlibDecompress(p []byte) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}
	r, err := zlib.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
