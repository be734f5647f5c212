package format

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// FileHandler handles saves stored as a single file.
type FileHandler struct {
	fs afero.Fs
}

// NewFileHandler creates a FileHandler.
func NewFileHandler(fs afero.Fs) *FileHandler {
	return &FileHandler{fs: fs}
}

func (h *FileHandler) Family() Family { return FamilyFile }

// PrepareForUpload uploads the save file itself.
func (h *FileHandler) PrepareForUpload(_ context.Context, save SaveContext) (*Artifact, error) {
	info, err := h.fs.Stat(save.LocalPath)
	if err != nil || info.IsDir() {
		return nil, nil
	}
	return &Artifact{Path: save.LocalPath, Ext: filepath.Ext(save.LocalPath)}, nil
}

// ExtractDownload writes data through a sibling temp file and renames it over
// the save.
func (h *FileHandler) ExtractDownload(_ context.Context, data []byte, save SaveContext) error {
	return writeFileAtomic(h.fs, save.LocalPath, data)
}

// TargetName keeps the remote extension on the rom base name.
func (h *FileHandler) TargetName(save SaveContext, remoteFileName string) string {
	if save.RomBase == "" {
		return filepath.Base(remoteFileName)
	}
	return save.RomBase + filepath.Ext(remoteFileName)
}

func writeFileAtomic(fs afero.Fs, path string, data []byte) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create save directory: %w", err)
	}
	tmp := path + ".part"
	if err := afero.WriteFile(fs, tmp, data, 0644); err != nil {
		return fmt.Errorf("write save: %w", err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("replace save: %w", err)
	}
	return nil
}
