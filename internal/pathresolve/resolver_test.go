package pathresolve

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rommapp/argosy-launcher-sub002/internal/sync"
)

func zelda() sync.PathQuery {
	return sync.PathQuery{
		GameID:       42,
		EmulatorID:   "RetroArch",
		PlatformSlug: "snes",
		Title:        "Zelda: A Link to the Past",
		RomPath:      "/roms/snes/zelda.sfc",
	}
}

func touch(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte("save"), 0644))
}

// TestResolve_candidateOrder verifies the first existing candidate wins.
func TestResolve_candidateOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := New(fs, "/data")
	ctx := context.Background()

	path, err := r.Resolve(ctx, zelda())
	require.NoError(t, err)
	assert.Empty(t, path)

	touch(t, fs, "/data/saves/retroarch/Zelda_ A Link to the Past.sav")
	path, err = r.Resolve(ctx, zelda())
	require.NoError(t, err)
	assert.Equal(t, "/data/saves/retroarch/Zelda_ A Link to the Past.sav", path)

	touch(t, fs, "/data/saves/retroarch/zelda.srm")
	r.Invalidate(zelda())
	path, err = r.Resolve(ctx, zelda())
	require.NoError(t, err)
	assert.Equal(t, "/data/saves/retroarch/zelda.srm", path)
}

// TestResolve_cached verifies a hit is served from cache until invalidated.
func TestResolve_cached(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := New(fs, "/data")
	ctx := context.Background()
	touch(t, fs, "/data/saves/retroarch/zelda.sav")

	path, err := r.Resolve(ctx, zelda())
	require.NoError(t, err)
	assert.Equal(t, "/data/saves/retroarch/zelda.sav", path)

	touch(t, fs, "/data/saves/retroarch/zelda.srm")
	path, err = r.Resolve(ctx, zelda())
	require.NoError(t, err)
	assert.Equal(t, "/data/saves/retroarch/zelda.sav", path)

	r.Invalidate(zelda())
	path, err = r.Resolve(ctx, zelda())
	require.NoError(t, err)
	assert.Equal(t, "/data/saves/retroarch/zelda.srm", path)
}

// TestResolve_staleCacheEntry verifies a cached path that vanished is
// resolved again.
func TestResolve_staleCacheEntry(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := New(fs, "/data")
	ctx := context.Background()
	touch(t, fs, "/data/saves/retroarch/zelda.srm")

	_, err := r.Resolve(ctx, zelda())
	require.NoError(t, err)
	require.NoError(t, fs.Remove("/data/saves/retroarch/zelda.srm"))
	touch(t, fs, "/data/saves/retroarch/zelda.sav")

	path, err := r.Resolve(ctx, zelda())
	require.NoError(t, err)
	assert.Equal(t, "/data/saves/retroarch/zelda.sav", path)
}

// TestResolve_expiry verifies cache entries expire after the TTL.
func TestResolve_expiry(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := New(fs, "/data", WithCache(8, 20*time.Millisecond))
	ctx := context.Background()
	touch(t, fs, "/data/saves/retroarch/zelda.sav")

	_, err := r.Resolve(ctx, zelda())
	require.NoError(t, err)
	touch(t, fs, "/data/saves/retroarch/zelda.srm")

	time.Sleep(60 * time.Millisecond)
	path, err := r.Resolve(ctx, zelda())
	require.NoError(t, err)
	assert.Equal(t, "/data/saves/retroarch/zelda.srm", path)
}

// TestResolve_titleIDFolder verifies folder saves keyed by title id and that
// candidates needing an unknown title id are skipped.
func TestResolve_titleIDFolder(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := New(fs, "/data")
	ctx := context.Background()
	q := sync.PathQuery{GameID: 7, EmulatorID: "ppsspp", PlatformSlug: "psp", Title: "Patapon", RomPath: "/roms/psp/patapon.iso"}

	path, err := r.Resolve(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, path)

	require.NoError(t, fs.MkdirAll("/data/saves/ppsspp/SAVEDATA/UCUS98711", 0755))
	q.TitleID = "UCUS98711"
	path, err = r.Resolve(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, "/data/saves/ppsspp/SAVEDATA/UCUS98711", path)
}

// TestResolve_templateOverride verifies configured templates replace
// built-ins.
func TestResolve_templateOverride(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := New(fs, "/data", WithTemplates(map[string]Template{
		"RetroArch": {Dir: "{romdir}/saves/{platform}", Files: []string{"{rom}.{channel}.srm", "{rom}.srm"}},
	}))
	ctx := context.Background()
	touch(t, fs, "/roms/snes/saves/snes/zelda.srm")

	path, err := r.Resolve(ctx, zelda())
	require.NoError(t, err)
	assert.Equal(t, "/roms/snes/saves/snes/zelda.srm", path)

	q := zelda()
	q.Channel = "boss"
	touch(t, fs, "/roms/snes/saves/snes/zelda.boss.srm")
	path, err = r.Resolve(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, "/roms/snes/saves/snes/zelda.boss.srm", path)
}

// TestSaveDir verifies directory expansion.
func TestSaveDir(t *testing.T) {
	r := New(afero.NewMemMapFs(), "/data")

	dir, err := r.SaveDir(context.Background(), zelda())
	require.NoError(t, err)
	assert.Equal(t, "/data/saves/retroarch", dir)

	dir, err = r.SaveDir(context.Background(), sync.PathQuery{EmulatorID: "dolphin"})
	require.NoError(t, err)
	assert.Equal(t, "/data/saves/dolphin/GC", dir)
}
