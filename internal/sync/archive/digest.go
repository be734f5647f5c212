package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

// Sum returns the content digest of data.
func Sum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// DigestReader returns the content digest of everything read from r.
func DigestReader(r io.Reader) (string, error) {
	d := xxhash.New()
	if _, err := io.Copy(d, r); err != nil {
		return "", fmt.Errorf("failed to calculate digest: %w", err)
	}
	return fmt.Sprintf("%016x", d.Sum64()), nil
}

// DigestFile returns the content digest of the file at path.
func DigestFile(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return DigestReader(f)
}

// DigestPath digests a file directly and a directory through its
// deterministic archive, so a folder and its zip share one digest.
func DigestPath(fs afero.Fs, path string) (string, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return DigestFile(fs, path)
	}

	tmp, err := TempPath(fs, "digest-*.zip")
	if err != nil {
		return "", err
	}
	defer fs.Remove(tmp)

	if err := ZipFolder(fs, path, tmp); err != nil {
		return "", err
	}
	return DigestFile(fs, tmp)
}

// ModTime returns the modification time of a file, or the newest file
// modification time inside a directory.
func ModTime(fs afero.Fs, path string) (int64, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.ModTime().UnixMilli(), nil
	}

	var newest int64
	err = afero.Walk(fs, path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() && fi.ModTime().UnixMilli() > newest {
			newest = fi.ModTime().UnixMilli()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if newest == 0 {
		newest = info.ModTime().UnixMilli()
	}
	return newest, nil
}

// Size returns the byte size of a file, or the summed size of the files in a
// directory.
func Size(fs afero.Fs, path string) (int64, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = afero.Walk(fs, path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return total, err
}

// TempPath reserves a unique temporary file name and returns its path.
func TempPath(fs afero.Fs, pattern string) (string, error) {
	dir := os.TempDir()
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	f, err := afero.TempFile(fs, dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	f.Close()
	return filepath.Clean(name), nil
}
