// Sandboxed filesystem helpers shared by Database, Table, and
// Partition. All on-disk access for a Database goes through a single
// os.Root opened at folder_path, so no component can ever resolve a
// path outside the database's own directory tree — the same guarantee
// the teacher's single-file store gets from os.OpenRoot, extended here
// to a multi-file, multi-directory layout.
package partdb

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// mkdirAllRoot creates every missing directory component of dir
// (slash-separated, relative to root) since os.Root has no MkdirAll.
func mkdirAllRoot(root *os.Root, dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	parts := strings.Split(path.Clean(dir), "/")
	var built string
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		if built == "" {
			built = p
		} else {
			built = built + "/" + p
		}
		if err := root.Mkdir(built, 0o755); err != nil && !os.IsExist(err) {
			return err
		}
	}
	return nil
}

// writeFileAtomicRoot writes data to name by writing to name+".tmp"
// then renaming over name, so a reader never observes a partial file
// (spec §5: partition writes are all-or-nothing).
func writeFileAtomicRoot(root *os.Root, name string, data []byte) error {
	if dir := path.Dir(name); dir != "." {
		if err := mkdirAllRoot(root, dir); err != nil {
			return err
		}
	}
	tmp := name + ".tmp"
	f, err := root.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		root.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		root.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		root.Remove(tmp)
		return err
	}
	if err := root.Rename(tmp, name); err != nil {
		root.Remove(tmp)
		return err
	}
	return nil
}

// writeFileAtomicGzipRoot is writeFileAtomicRoot but gzip-compresses
// data first, using klauspost/compress's gzip implementation in place
// of the standard library's.
func writeFileAtomicGzipRoot(root *os.Root, name string, data []byte) error {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return writeFileAtomicRoot(root, name, buf.Bytes())
}

// readFileRoot reads name fully. Returns (nil, nil) if it does not exist.
func readFileRoot(root *os.Root, name string, maxSize int) ([]byte, error) {
	f, err := root.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	buf, err := io.ReadAll(io.LimitReader(f, int64(maxSize)+1))
	if err != nil {
		return nil, err
	}
	if len(buf) > maxSize {
		return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, name)
	}
	return buf, nil
}

// readFileGzipRoot reads and gzip-decompresses name. Returns (nil, nil)
// if it does not exist.
func readFileGzipRoot(root *os.Root, name string, maxSize int) ([]byte, error) {
	f, err := root.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	buf, err := io.ReadAll(io.LimitReader(gr, int64(maxSize)+1))
	if err != nil {
		return nil, err
	}
	if len(buf) > maxSize {
		return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, name)
	}
	return buf, nil
}

// removeIfExistsRoot removes name, treating a missing file as success.
func removeIfExistsRoot(root *os.Root, name string) error {
	err := root.Remove(name)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// statRoot is os.Root.Stat with the not-exist case flattened to (nil, nil).
func statRoot(root *os.Root, name string) (fs.FileInfo, error) {
	info, err := root.Stat(name)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return info, err
}
