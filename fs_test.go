// Sandboxed filesystem helper tests: atomic writes, gzip round-trips,
// and the size-cap enforcement readFileRoot/readFileGzipRoot apply on
// the read side.
package partdb

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func openTestRoot(t *testing.T) *os.Root {
	t.Helper()
	dir := t.TempDir()
	root, err := os.OpenRoot(dir)
	if err != nil {
		t.Fatalf("OpenRoot: %v", err)
	}
	t.Cleanup(func() { root.Close() })
	return root
}

func TestReadFileRootRejectsOversizedFile(t *testing.T) {
	root := openTestRoot(t)
	if err := writeFileAtomicRoot(root, "big.json", []byte("0123456789")); err != nil {
		t.Fatalf("writeFileAtomicRoot: %v", err)
	}

	if _, err := readFileRoot(root, "big.json", 9); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("readFileRoot = %v, want ErrFileTooLarge", err)
	}

	buf, err := readFileRoot(root, "big.json", 10)
	if err != nil {
		t.Fatalf("readFileRoot at the exact limit: %v", err)
	}
	if !bytes.Equal(buf, []byte("0123456789")) {
		t.Errorf("readFileRoot = %q, want the full file", buf)
	}
}

func TestReadFileGzipRootRejectsOversizedFile(t *testing.T) {
	root := openTestRoot(t)

	payload := []byte("this is the decompressed content written to disk")
	var compressed bytes.Buffer
	gw := gzip.NewWriter(&compressed)
	if _, err := gw.Write(payload); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := writeFileAtomicRoot(root, "big.json.gz", compressed.Bytes()); err != nil {
		t.Fatalf("writeFileAtomicRoot: %v", err)
	}

	if _, err := readFileGzipRoot(root, "big.json.gz", len(payload)-1); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("readFileGzipRoot = %v, want ErrFileTooLarge", err)
	}

	buf, err := readFileGzipRoot(root, "big.json.gz", len(payload))
	if err != nil {
		t.Fatalf("readFileGzipRoot at the exact limit: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Errorf("readFileGzipRoot = %q, want %q", buf, payload)
	}
}

func TestReadFileRootMissingFileIsNotError(t *testing.T) {
	root := openTestRoot(t)
	buf, err := readFileRoot(root, "missing.json", 1024)
	if err != nil {
		t.Fatalf("readFileRoot: %v", err)
	}
	if buf != nil {
		t.Errorf("readFileRoot = %v, want nil for a missing file", buf)
	}
}
