// Package compress decodes compressed task artifacts.
//
// Export and report tasks can hand back artifact blobs that are gzip or
// Zstandard compressed, usually without a reliable Content-Encoding
// header on the storage URL. The package sniffs the payload's magic
// bytes and decompresses accordingly, passing unrecognized payloads
// through untouched.
//
// Example usage:
//
//	body, err := client.DownloadTask(ctx, taskID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	data, err := compress.Decode(body)
package compress

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Format identifies a compression container.
type Format string

const (
	// FormatZstd is the Zstandard frame format.
	FormatZstd Format = "zstd"

	// FormatGzip is the gzip container format.
	FormatGzip Format = "gzip"

	// FormatNone means the payload is not compressed (or not in a
	// format this package recognizes).
	FormatNone Format = "none"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Detect sniffs the leading bytes of data and reports its format.
func Detect(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		return FormatZstd
	case bytes.HasPrefix(data, gzipMagic):
		return FormatGzip
	default:
		return FormatNone
	}
}

// Decode decompresses data according to its sniffed format. Payloads in
// no recognized format are returned as-is.
func Decode(data []byte) ([]byte, error) {
	switch Detect(data) {
	case FormatZstd:
		return decodeZstd(data)
	case FormatGzip:
		return decodeGzip(data)
	default:
		return data, nil
	}
}

// DecodeReader wraps r in a decompressing reader according to format.
// Callers that know the format up front (e.g. from a Content-Encoding
// header) can avoid buffering the whole payload.
func DecodeReader(r io.Reader, format Format) (io.ReadCloser, error) {
	switch format {
	case FormatZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil
	case FormatGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return gz, nil
	case FormatNone:
		return io.NopCloser(r), nil
	default:
		return nil, fmt.Errorf("unknown format: %q", format)
	}
}

// FormatFromEncoding maps a Content-Encoding header value to a Format.
// Unknown encodings (including "identity" and empty) map to FormatNone.
func FormatFromEncoding(encoding string) Format {
	switch encoding {
	case "zstd":
		return FormatZstd
	case "gzip", "x-gzip":
		return FormatGzip
	default:
		return FormatNone
	}
}

func decodeZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

func decodeGzip(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	return out, nil
}
