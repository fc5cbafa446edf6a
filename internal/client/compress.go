package client

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/klauspost/compress/zlib"
)

// compressSource zlib-compresses UTF-8 source text.
func compressSource(source string) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := io.WriteString(w, source); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to compress source: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress source: %w", err)
	}
	return buf.Bytes(), nil
}

// decompressSource inflates a zlib payload into UTF-8 source text.
func decompressSource(data []byte) (string, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decompress source: %w", err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to decompress source: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("decompressed source is not valid UTF-8")
	}
	return string(raw), nil
}
