package format

import (
	"context"

	"github.com/spf13/afero"

	"github.com/rommapp/argosy-launcher-sub002/internal/sync/archive"
)

// FolderHandler handles saves stored as a directory, shipped as a zip.
type FolderHandler struct {
	fs afero.Fs
}

// NewFolderHandler creates a FolderHandler.
func NewFolderHandler(fs afero.Fs) *FolderHandler {
	return &FolderHandler{fs: fs}
}

func (h *FolderHandler) Family() Family { return FamilyFolder }

// PrepareForUpload archives the save folder into a temporary zip.
func (h *FolderHandler) PrepareForUpload(_ context.Context, save SaveContext) (*Artifact, error) {
	isDir, err := afero.IsDir(h.fs, save.LocalPath)
	if err != nil || !isDir {
		return nil, nil
	}

	tmp, err := archive.TempPath(h.fs, "folder-save-*.zip")
	if err != nil {
		return nil, err
	}
	if err := archive.ZipFolder(h.fs, save.LocalPath, tmp); err != nil {
		h.fs.Remove(tmp)
		return nil, err
	}
	return &Artifact{Path: tmp, Temporary: true, Ext: ".zip"}, nil
}

// ExtractDownload replaces the save folder with the archive contents.
func (h *FolderHandler) ExtractDownload(_ context.Context, data []byte, save SaveContext) error {
	return archive.ExtractFolder(h.fs, data, save.LocalPath)
}

// TargetName prefers the title id, which is how folder saves are named on
// disk.
func (h *FolderHandler) TargetName(save SaveContext, remoteFileName string) string {
	if save.TitleID != "" {
		return save.TitleID
	}
	return baseOf(remoteFileName)
}
