package output

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fbz-tec/pg2parquet/core/errs"
)

const testData = "1,alice,2024-01-02 03:04:05+00\n2,,\n3,NULL,\n"

func TestCreateWriterRoundTrip(t *testing.T) {
	tests := []struct {
		compression string
		wantPath    string
	}{
		{None, "staging.csv"},
		{"", "staging.csv"},
		{GZIP, "staging.csv.gz"},
		{ZSTD, "staging.csv.zst"},
		{LZ4, "staging.csv.lz4"},
		{"ZSTD", "staging.csv.zst"},
	}

	for _, tt := range tests {
		t.Run(tt.compression, func(t *testing.T) {
			dir := t.TempDir()
			cfg := OutputConfig{Path: filepath.Join(dir, "staging.csv"), Compression: tt.compression}

			writer, err := CreateWriter(cfg)
			if err != nil {
				t.Fatalf("CreateWriter() error = %v", err)
			}
			if _, err := writer.Write([]byte(testData)); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if err := writer.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			path := filepath.Join(dir, tt.wantPath)
			if _, err := os.Stat(path); err != nil {
				t.Fatalf("Expected file %s: %v", path, err)
			}

			reader, err := OpenReader(OutputConfig{Path: path, Compression: tt.compression})
			if err != nil {
				t.Fatalf("OpenReader() error = %v", err)
			}
			defer reader.Close()

			content, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if string(content) != testData {
				t.Errorf("content = %q, want %q", string(content), testData)
			}
		})
	}
}

func TestCompressedFilesAreNotPlainText(t *testing.T) {
	dir := t.TempDir()
	data := strings.Repeat(testData, 1000)

	for _, c := range []string{GZIP, ZSTD, LZ4} {
		writer, err := CreateWriter(OutputConfig{Path: filepath.Join(dir, "s.csv"), Compression: c})
		if err != nil {
			t.Fatalf("%s: CreateWriter() error = %v", c, err)
		}
		writer.Write([]byte(data))
		if err := writer.Close(); err != nil {
			t.Fatalf("%s: Close() error = %v", c, err)
		}

		raw, err := os.ReadFile(filepath.Join(dir, "s.csv"+Extension(c)))
		if err != nil {
			t.Fatalf("%s: %v", c, err)
		}
		if len(raw) >= len(data) {
			t.Errorf("%s: compressed size %d not smaller than %d", c, len(raw), len(data))
		}
	}
}

func TestResolvePathKeepsExistingExtension(t *testing.T) {
	tests := []struct {
		cfg  OutputConfig
		want string
	}{
		{OutputConfig{Path: "a.csv", Compression: GZIP}, "a.csv.gz"},
		{OutputConfig{Path: "a.csv.gz", Compression: GZIP}, "a.csv.gz"},
		{OutputConfig{Path: "a.csv.ZST", Compression: ZSTD}, "a.csv.ZST"},
		{OutputConfig{Path: "a.csv", Compression: None}, "a.csv"},
	}
	for _, tt := range tests {
		got, err := ResolvePath(tt.cfg)
		if err != nil {
			t.Fatalf("ResolvePath(%+v) error = %v", tt.cfg, err)
		}
		if got != tt.want {
			t.Errorf("ResolvePath(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestUnsupportedCompression(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.csv")

	_, err := CreateWriter(OutputConfig{Path: path, Compression: "zip"})
	if !errors.Is(err, errs.ErrConfig) {
		t.Errorf("CreateWriter(zip) error = %v, want ErrConfig", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("no file should be created for an unsupported codec")
	}

	_, err = OpenReader(OutputConfig{Path: path, Compression: "brotli"})
	if err == nil {
		t.Error("OpenReader() with unsupported codec should fail")
	}
}

func TestOpenReaderRejectsCorruptInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.csv.gz")
	if err := os.WriteFile(path, []byte(testData), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenReader(OutputConfig{Path: path, Compression: GZIP}); err == nil {
		t.Error("OpenReader() should reject a file that is not gzip")
	}
}

func TestCreateWriterInvalidDirectory(t *testing.T) {
	_, err := CreateWriter(OutputConfig{Path: filepath.Join(t.TempDir(), "missing", "x.csv"), Compression: None})
	if err == nil {
		t.Error("CreateWriter() into a missing directory should fail")
	}
}
