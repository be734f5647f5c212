// Package format packages local saves into uploadable artifacts and unpacks
// downloaded artifacts back into place. Each save format family implements
// Handler; Registry picks one by emulator id, platform slug and profile flags.
package format

import (
	"context"
	"path/filepath"
	"strings"
)

// SaveContext describes the local save a handler works on.
type SaveContext struct {
	GameID       int64
	EmulatorID   string
	PlatformSlug string
	// LocalPath is the save file or save folder on disk.
	LocalPath string
	RomBase   string
	TitleID   string
}

// Artifact is the file produced for upload.
type Artifact struct {
	Path string
	// Temporary artifacts are owned by the caller and may be mutated or
	// deleted; others are the live save and must not be touched.
	Temporary bool
	// Ext is the extension the remote file name carries, e.g. ".srm" or ".gci.zip".
	Ext string
}

// Handler is the capability set of one save format family.
type Handler interface {
	// Family names the format family.
	Family() Family
	// PrepareForUpload returns the artifact for save, or nil when there is
	// nothing to upload.
	PrepareForUpload(ctx context.Context, save SaveContext) (*Artifact, error)
	// ExtractDownload writes trailer-free artifact bytes into save.LocalPath.
	ExtractDownload(ctx context.Context, data []byte, save SaveContext) error
	// TargetName names a new local save created from remoteFileName.
	TargetName(save SaveContext, remoteFileName string) string
}

// Family identifies a save format family.
type Family string

const (
	FamilyFile   Family = "file"
	FamilyFolder Family = "folder"
	FamilyBundle Family = "bundle"
)

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	switch f {
	case FamilyFile, FamilyFolder, FamilyBundle:
		return true
	}
	return false
}

// Profile carries the format flags of an emulator or platform.
type Profile struct {
	Family Family `yaml:"family"`
	// BundleExt is the per-file extension packed by bundle formats, e.g. ".gci".
	BundleExt string `yaml:"bundle_ext,omitempty"`
}

// FolderBased reports whether saves are directories shipped as zip archives.
func (p Profile) FolderBased() bool {
	return p.Family == FamilyFolder
}

// IsBundle reports whether saves are console-specific bundles.
func (p Profile) IsBundle() bool {
	return p.Family == FamilyBundle
}

// IsLegacyBundleName reports whether a remote file name is the old
// single-file form of this bundle format, e.g. "x.gci" but not "x.gci.zip".
func (p Profile) IsLegacyBundleName(fileName string) bool {
	if !p.IsBundle() || p.BundleExt == "" {
		return false
	}
	lower := strings.ToLower(fileName)
	ext := strings.ToLower(p.BundleExt)
	return strings.HasSuffix(lower, ext) && !strings.HasSuffix(lower, ext+".zip")
}

// extOf returns the extension of name, keeping a double extension such as
// ".gci.zip" intact.
func extOf(name string) string {
	ext := filepath.Ext(name)
	if strings.EqualFold(ext, ".zip") {
		inner := filepath.Ext(strings.TrimSuffix(name, ext))
		if inner != "" && len(inner) <= 5 {
			return inner + ext
		}
	}
	return ext
}

// baseOf returns name without directory and without the extension extOf sees.
func baseOf(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, extOf(base))
}
