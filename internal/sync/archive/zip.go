package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	apperrors "github.com/rommapp/argosy-launcher-sub002/internal/errors"
)

// zipEpoch is stamped on every entry so identical folders zip to identical
// bytes.
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// IsZipName reports whether name has a .zip extension.
func IsZipName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}

// ZipFolder writes srcDir to dstZip. Entries are named
// "<folder name>/<relative path>" and written in sorted order.
func ZipFolder(fs afero.Fs, srcDir, dstZip string) error {
	root := filepath.Base(filepath.Clean(srcDir))

	var files []string
	err := afero.Walk(fs, srcDir, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", srcDir, err)
	}
	sort.Strings(files)

	out, err := fs.Create(dstZip)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	zw := zip.NewWriter(out)
	for _, p := range files {
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			out.Close()
			return err
		}
		if err := addZipEntry(fs, zw, path.Join(root, filepath.ToSlash(rel)), p); err != nil {
			out.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finish archive: %w", err)
	}
	return out.Close()
}

// ZipFiles writes the given files into dstZip as flat entries named by their
// base names, in sorted order.
func ZipFiles(fs afero.Fs, files []string, dstZip string) error {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	out, err := fs.Create(dstZip)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	zw := zip.NewWriter(out)
	for _, p := range sorted {
		if err := addZipEntry(fs, zw, filepath.Base(p), p); err != nil {
			out.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finish archive: %w", err)
	}
	return out.Close()
}

func addZipEntry(fs afero.Fs, zw *zip.Writer, name, src string) error {
	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: zipEpoch,
	}
	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.Copy(w, in)
	return err
}

// Entry is one extracted archive member.
type Entry struct {
	Name string
	Data []byte
}

// ReadZip parses archive bytes, ignoring a trailing hardcore trailer.
func ReadZip(data []byte) ([]Entry, error) {
	data = StripTrailer(data)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCorruptedArchive, "read archive", err)
	}

	var entries []Entry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Clean(f.Name)
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return nil, apperrors.New(apperrors.ErrCorruptedArchive, "unsafe entry "+f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCorruptedArchive, "open entry "+f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCorruptedArchive, "read entry "+f.Name, err)
		}
		entries = append(entries, Entry{Name: name, Data: b})
	}
	return entries, nil
}

// stripCommonRoot removes a leading folder shared by every entry.
func stripCommonRoot(entries []Entry) []Entry {
	if len(entries) == 0 {
		return entries
	}
	var root string
	for i, e := range entries {
		idx := strings.Index(e.Name, "/")
		if idx <= 0 {
			return entries
		}
		if i == 0 {
			root = e.Name[:idx]
		} else if e.Name[:idx] != root {
			return entries
		}
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = Entry{Name: e.Name[len(root)+1:], Data: e.Data}
	}
	return out
}

// ExtractFolder replaces targetDir with the contents of archive data. A single
// top-level folder inside the archive is unwrapped. The archive is fully
// decoded before targetDir is touched.
func ExtractFolder(fs afero.Fs, data []byte, targetDir string) error {
	entries, err := ReadZip(data)
	if err != nil {
		return err
	}
	entries = stripCommonRoot(entries)

	if err := fs.RemoveAll(targetDir); err != nil {
		return err
	}
	if err := fs.MkdirAll(targetDir, 0755); err != nil {
		return err
	}
	for _, e := range entries {
		dst := filepath.Join(targetDir, filepath.FromSlash(e.Name))
		if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		if err := afero.WriteFile(fs, dst, e.Data, 0644); err != nil {
			return err
		}
	}
	return nil
}

// ExtractFlat writes every archive member into dir by base name, leaving other
// files in dir untouched, and returns the written paths.
func ExtractFlat(fs afero.Fs, data []byte, dir string) ([]string, error) {
	entries, err := ReadZip(data)
	if err != nil {
		return nil, err
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var written []string
	for _, e := range entries {
		dst := filepath.Join(dir, path.Base(e.Name))
		if err := afero.WriteFile(fs, dst, e.Data, 0644); err != nil {
			return written, err
		}
		written = append(written, dst)
	}
	return written, nil
}
