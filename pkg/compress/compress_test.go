package compress

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	return enc.EncodeAll(data, nil)
}

func TestDetect(t *testing.T) {
	plain := []byte(`{"content": []}`)

	if got := Detect(plain); got != FormatNone {
		t.Errorf("Detect(plain) = %q, want %q", got, FormatNone)
	}
	if got := Detect(gzipBytes(t, plain)); got != FormatGzip {
		t.Errorf("Detect(gzip) = %q, want %q", got, FormatGzip)
	}
	if got := Detect(zstdBytes(t, plain)); got != FormatZstd {
		t.Errorf("Detect(zstd) = %q, want %q", got, FormatZstd)
	}
	if got := Detect(nil); got != FormatNone {
		t.Errorf("Detect(nil) = %q, want %q", got, FormatNone)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	original := []byte(strings.Repeat(`{"kind":"host","id":"a"}`, 100))

	for _, tc := range []struct {
		name string
		data []byte
	}{
		{"plain", original},
		{"gzip", gzipBytes(t, original)},
		{"zstd", zstdBytes(t, original)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(tc.data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !bytes.Equal(got, original) {
				t.Errorf("Decode() returned %d bytes, want %d matching original", len(got), len(original))
			}
		})
	}
}

func TestDecodeCorruptGzip(t *testing.T) {
	data := append([]byte{0x1f, 0x8b}, []byte("not a gzip stream")...)
	if _, err := Decode(data); err == nil {
		t.Error("expected error for corrupt gzip payload")
	}
}

func TestDecodeReader(t *testing.T) {
	original := []byte("artifact body")

	rc, err := DecodeReader(bytes.NewReader(gzipBytes(t, original)), FormatGzip)
	if err != nil {
		t.Fatalf("DecodeReader() error = %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Errorf("DecodeReader() = %q, want %q", got, original)
	}
}

func TestDecodeReaderPassthrough(t *testing.T) {
	rc, err := DecodeReader(strings.NewReader("plain"), FormatNone)
	if err != nil {
		t.Fatalf("DecodeReader() error = %v", err)
	}
	defer rc.Close()

	got, _ := io.ReadAll(rc)
	if string(got) != "plain" {
		t.Errorf("DecodeReader() = %q, want %q", got, "plain")
	}
}

func TestFormatFromEncoding(t *testing.T) {
	cases := map[string]Format{
		"gzip":     FormatGzip,
		"x-gzip":   FormatGzip,
		"zstd":     FormatZstd,
		"identity": FormatNone,
		"":         FormatNone,
		"br":       FormatNone,
	}
	for encoding, want := range cases {
		if got := FormatFromEncoding(encoding); got != want {
			t.Errorf("FormatFromEncoding(%q) = %q, want %q", encoding, got, want)
		}
	}
}
