package usecase

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"itchdl/shared/domain/storage"
)

var errNotArchive = errors.New("not a zip or tar archive")

// unpackedSize sums the regular files inside a stored zip or tar archive.
// The uploads API sometimes reports this instead of the download size.
func unpackedSize(ctx context.Context, store storage.ObjectStorage, key string, size int64) (int64, error) {
	name := strings.ToLower(key)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return zipSize(ctx, store, key, size)
	case strings.HasSuffix(name, ".tar"):
		return tarSize(ctx, store, key, false)
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return tarSize(ctx, store, key, true)
	default:
		return 0, errNotArchive
	}
}

func zipSize(ctx context.Context, store storage.ObjectStorage, key string, size int64) (int64, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	// zip needs random access; remote objects are spooled to a temp file
	ra, ok := rc.(io.ReaderAt)
	if !ok {
		tmp, err := os.CreateTemp("", "itchdl-*.zip")
		if err != nil {
			return 0, fmt.Errorf("failed to create temp file: %w", err)
		}
		defer os.Remove(tmp.Name())
		defer tmp.Close()

		if size, err = io.Copy(tmp, rc); err != nil {
			return 0, fmt.Errorf("failed to spool archive: %w", err)
		}
		ra = tmp
	}

	archive, err := zip.NewReader(ra, size)
	if err != nil {
		return 0, err
	}

	var total int64
	files := 0
	for _, f := range archive.File {
		if f.FileInfo().IsDir() {
			continue
		}
		total += int64(f.UncompressedSize64)
		files++
	}
	if files == 0 {
		return 0, errNotArchive
	}
	return total, nil
}

func tarSize(ctx context.Context, store storage.ObjectStorage, key string, gzipped bool) (int64, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if gzipped {
		gz, err := gzip.NewReader(rc)
		if err != nil {
			return 0, err
		}
		defer gz.Close()
		r = gz
	}

	var total int64
	files := 0
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if hdr.Typeflag == tar.TypeReg {
			total += hdr.Size
			files++
		}
	}
	if files == 0 {
		return 0, errNotArchive
	}
	return total, nil
}
