package format

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rommapp/argosy-launcher-sub002/internal/sync/archive"
)

// TestRegistryLookup tests handler selection by emulator, platform and fallback.
func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(afero.NewMemMapFs())

	tests := []struct {
		emulator, platform string
		want               Family
	}{
		{"retroarch", "switch", FamilyFile},
		{"RetroArch_64", "", FamilyFile},
		{"ryujinx", "", FamilyFolder},
		{"unknown", "switch", FamilyFolder},
		{"dolphin", "ngc", FamilyBundle},
		{"unknown", "ngc", FamilyBundle},
		{"mgba", "gba", FamilyFile},
	}
	for _, tt := range tests {
		h, p := r.Lookup(tt.emulator, tt.platform)
		assert.Equal(t, tt.want, h.Family(), "%s/%s", tt.emulator, tt.platform)
		assert.Equal(t, tt.want, p.Family)
	}

	r.RegisterEmulator("mgba", Profile{Family: FamilyFolder})
	h, _ := r.Lookup("mgba", "gba")
	assert.Equal(t, FamilyFolder, h.Family())
}

// TestProfileLegacyBundleName tests detection of the old single-file format.
func TestProfileLegacyBundleName(t *testing.T) {
	p := Profile{Family: FamilyBundle, BundleExt: ".gci"}
	assert.True(t, p.IsLegacyBundleName("01-GALE-MarioSunshine.gci"))
	assert.False(t, p.IsLegacyBundleName("argosy-latest.gci.zip"))
	assert.False(t, Profile{Family: FamilyFile}.IsLegacyBundleName("x.gci"))
}

// TestExtOf tests double extension handling.
func TestExtOf(t *testing.T) {
	assert.Equal(t, ".gci.zip", extOf("save.gci.zip"))
	assert.Equal(t, ".zip", extOf("0100ABCD.zip"))
	assert.Equal(t, ".srm", extOf("Zelda.srm"))
	assert.Equal(t, "save", baseOf("/x/save.gci.zip"))
}

// TestFileHandler tests the plain file round trip.
func TestFileHandler(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	h := NewFileHandler(fs)
	save := SaveContext{LocalPath: "/saves/Zelda.srm", RomBase: "Zelda"}

	art, err := h.PrepareForUpload(ctx, save)
	require.NoError(t, err)
	assert.Nil(t, art, "missing file yields no artifact")

	require.NoError(t, afero.WriteFile(fs, save.LocalPath, []byte("abc"), 0644))
	art, err = h.PrepareForUpload(ctx, save)
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.False(t, art.Temporary)
	assert.Equal(t, ".srm", art.Ext)

	require.NoError(t, h.ExtractDownload(ctx, []byte("new"), save))
	got, _ := afero.ReadFile(fs, save.LocalPath)
	assert.Equal(t, "new", string(got))

	assert.Equal(t, "Zelda.srm", h.TargetName(save, "argosy-latest.srm"))
}

// TestFolderHandler tests folder archiving and extraction.
func TestFolderHandler(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	h := NewFolderHandler(fs)
	save := SaveContext{LocalPath: "/nand/save/0100ABCD", TitleID: "0100ABCD"}
	require.NoError(t, afero.WriteFile(fs, "/nand/save/0100ABCD/slot0", bytes.Repeat([]byte("x"), 200), 0644))

	art, err := h.PrepareForUpload(ctx, save)
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.True(t, art.Temporary)
	assert.Equal(t, ".zip", art.Ext)

	data, err := afero.ReadFile(fs, art.Path)
	require.NoError(t, err)

	target := SaveContext{LocalPath: "/other/0100ABCD"}
	require.NoError(t, h.ExtractDownload(ctx, data, target))
	got, err := afero.ReadFile(fs, "/other/0100ABCD/slot0")
	require.NoError(t, err)
	assert.Len(t, got, 200)

	assert.Equal(t, "0100ABCD", h.TargetName(save, "argosy-latest.zip"))
}

// TestBundleHandler tests packing sibling files and flat extraction.
func TestBundleHandler(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	h := NewBundleHandler(fs, ".gci")
	require.NoError(t, afero.WriteFile(fs, "/card/01-GMSE-a.gci", []byte("A"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/card/01-GMSE-b.gci", []byte("B"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/card/01-OTHR-c.gci", []byte("C"), 0644))

	save := SaveContext{LocalPath: "/card/01-GMSE-a.gci", TitleID: "GMSE", RomBase: "Sunshine"}
	art, err := h.PrepareForUpload(ctx, save)
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, ".gci.zip", art.Ext)

	data, err := afero.ReadFile(fs, art.Path)
	require.NoError(t, err)
	entries, err := archive.ReadZip(data)
	require.NoError(t, err)
	require.Len(t, entries, 2, "only this game's files are bundled")

	require.NoError(t, h.ExtractDownload(ctx, data, SaveContext{LocalPath: "/card2/x.gci"}))
	exists, _ := afero.Exists(fs, "/card2/01-GMSE-b.gci")
	assert.True(t, exists)

	require.NoError(t, h.ExtractDownload(ctx, []byte("legacy single file"), SaveContext{LocalPath: "/card3/Sunshine.gci"}))
	got, _ := afero.ReadFile(fs, "/card3/Sunshine.gci")
	assert.Equal(t, "legacy single file", string(got))

	assert.Equal(t, "Sunshine.gci", h.TargetName(save, "argosy-latest.gci.zip"))
}
