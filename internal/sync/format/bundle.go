package format

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/rommapp/argosy-launcher-sub002/internal/sync/archive"
)

// BundleHandler handles console formats that keep one game's save as several
// sibling files with a shared extension, shipped as a flat zip.
type BundleHandler struct {
	fs  afero.Fs
	ext string
}

// NewBundleHandler creates a BundleHandler packing files ending in ext.
func NewBundleHandler(fs afero.Fs, ext string) *BundleHandler {
	return &BundleHandler{fs: fs, ext: strings.ToLower(ext)}
}

func (h *BundleHandler) Family() Family { return FamilyBundle }

// members returns the files that make up the bundle of save.
func (h *BundleHandler) members(save SaveContext) ([]string, error) {
	isDir, err := afero.IsDir(h.fs, save.LocalPath)
	if err != nil {
		return nil, nil
	}
	dir := save.LocalPath
	if !isDir {
		dir = filepath.Dir(save.LocalPath)
	}

	entries, err := afero.ReadDir(h.fs, dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(name), h.ext) {
			continue
		}
		if save.TitleID != "" && !strings.Contains(strings.ToUpper(name), strings.ToUpper(save.TitleID)) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	if len(files) == 0 && !isDir {
		files = append(files, save.LocalPath)
	}
	return files, nil
}

// PrepareForUpload zips the bundle members into a temporary archive.
func (h *BundleHandler) PrepareForUpload(_ context.Context, save SaveContext) (*Artifact, error) {
	files, err := h.members(save)
	if err != nil || len(files) == 0 {
		return nil, err
	}

	tmp, err := archive.TempPath(h.fs, "bundle-save-*.zip")
	if err != nil {
		return nil, err
	}
	if err := archive.ZipFiles(h.fs, files, tmp); err != nil {
		h.fs.Remove(tmp)
		return nil, err
	}
	return &Artifact{Path: tmp, Temporary: true, Ext: h.ext + ".zip"}, nil
}

// ExtractDownload unpacks members next to the save. A legacy single-file
// download is written as-is.
func (h *BundleHandler) ExtractDownload(_ context.Context, data []byte, save SaveContext) error {
	dir := save.LocalPath
	if isDir, _ := afero.IsDir(h.fs, dir); !isDir {
		dir = filepath.Dir(save.LocalPath)
	}
	if _, err := archive.ReadZip(data); err != nil {
		return writeFileAtomic(h.fs, save.LocalPath, data)
	}
	_, err := archive.ExtractFlat(h.fs, data, dir)
	return err
}

// TargetName names the single-file form after the rom.
func (h *BundleHandler) TargetName(save SaveContext, remoteFileName string) string {
	base := save.RomBase
	if base == "" {
		base = baseOf(remoteFileName)
	}
	return base + h.ext
}
