package archive

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTrailerRoundTrip tests encoding, detection and stripping of the trailer.
func TestTrailerRoundTrip(t *testing.T) {
	content := bytes.Repeat([]byte{0xAB}, 256)
	withTrailer := append(append([]byte(nil), content...), HardcoreTrailer()...)

	info, n, ok := ParseTrailer(withTrailer)
	require.True(t, ok)
	assert.True(t, info.Hardcore)
	assert.Equal(t, 1, info.Version)
	assert.Equal(t, len(withTrailer)-len(content), n)

	assert.True(t, HasHardcoreTrailer(withTrailer))
	assert.False(t, HasHardcoreTrailer(content))
	assert.Equal(t, content, StripTrailer(withTrailer))
	assert.Equal(t, content, StripTrailer(content), "data without trailer is unchanged")
}

// TestTrailerLayout tests the exact byte layout of the hardcore trailer.
func TestTrailerLayout(t *testing.T) {
	trailer := HardcoreTrailer()
	payload := `{"h":true,"v":1}`

	require.Len(t, trailer, len(payload)+4+8)
	assert.Equal(t, payload, string(trailer[:len(payload)]))
	assert.Equal(t, []byte{byte(len(payload)), 0, 0, 0}, trailer[len(payload):len(payload)+4])
	assert.Equal(t, TrailerMagic, string(trailer[len(payload)+4:]))
}

// TestParseTrailer_rejectsMalformed tests that corrupt tails are ignored.
func TestParseTrailer_rejectsMalformed(t *testing.T) {
	cases := map[string][]byte{
		"too short":      []byte("ARGOSY"),
		"no magic":       bytes.Repeat([]byte{1}, 64),
		"length overrun": append([]byte{0xFF, 0xFF, 0, 0}, TrailerMagic...),
		"bad json":       append(append([]byte("{nope"), 5, 0, 0, 0), TrailerMagic...),
	}
	for name, data := range cases {
		if _, _, ok := ParseTrailer(data); ok {
			t.Errorf("%s: expected no trailer", name)
		}
	}
}

// TestAppendHardcoreTrailer tests in-place append and tail inspection.
func TestAppendHardcoreTrailer(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := bytes.Repeat([]byte("save"), 100)
	require.NoError(t, afero.WriteFile(fs, "/saves/game.srm", content, 0644))

	has, err := FileHasHardcoreTrailer(fs, "/saves/game.srm")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, AppendHardcoreTrailer(fs, "/saves/game.srm"))

	has, err = FileHasHardcoreTrailer(fs, "/saves/game.srm")
	require.NoError(t, err)
	assert.True(t, has)

	stripped, err := ReadWithoutTrailer(fs, "/saves/game.srm")
	require.NoError(t, err)
	assert.Equal(t, content, stripped)
}

// TestDigest tests digest stability and sensitivity.
func TestDigest(t *testing.T) {
	a := Sum([]byte("hello"))
	assert.Len(t, a, 16)
	assert.Equal(t, a, Sum([]byte("hello")))
	assert.NotEqual(t, a, Sum([]byte("hello!")))

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/f", []byte("hello"), 0644))
	fromFile, err := DigestFile(fs, "/f")
	require.NoError(t, err)
	assert.Equal(t, a, fromFile)
}

func writeFolder(t *testing.T, fs afero.Fs, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, fs.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, afero.WriteFile(fs, p, []byte(content), 0644))
	}
}

// TestZipFolderDeterministic tests that equal folders produce equal archives.
func TestZipFolderDeterministic(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := map[string]string{"system.sav": "abc", "user/0001/slot.bin": "def"}
	writeFolder(t, fs, "/a/0100ABCD", files)
	writeFolder(t, fs, "/b/0100ABCD", files)
	require.NoError(t, fs.Chtimes("/b/0100ABCD/system.sav", time.Now(), time.Now().Add(time.Hour)))

	require.NoError(t, ZipFolder(fs, "/a/0100ABCD", "/a.zip"))
	require.NoError(t, ZipFolder(fs, "/b/0100ABCD", "/b.zip"))

	da, err := DigestFile(fs, "/a.zip")
	require.NoError(t, err)
	db, err := DigestFile(fs, "/b.zip")
	require.NoError(t, err)
	assert.Equal(t, da, db)

	viaPath, err := DigestPath(fs, "/a/0100ABCD")
	require.NoError(t, err)
	assert.Equal(t, da, viaPath, "a folder digests as its archive")
}

// TestExtractFolderRoundTrip tests zip then extract, with a trailer present.
func TestExtractFolderRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFolder(t, fs, "/src/save", map[string]string{"a.bin": "AAA", "sub/b.bin": "BBB"})
	require.NoError(t, ZipFolder(fs, "/src/save", "/save.zip"))
	require.NoError(t, AppendHardcoreTrailer(fs, "/save.zip"))

	data, err := afero.ReadFile(fs, "/save.zip")
	require.NoError(t, err)

	writeFolder(t, fs, "/dst/save", map[string]string{"stale.bin": "old"})
	require.NoError(t, ExtractFolder(fs, data, "/dst/save"))

	got, err := afero.ReadFile(fs, "/dst/save/a.bin")
	require.NoError(t, err)
	assert.Equal(t, "AAA", string(got))
	got, err = afero.ReadFile(fs, "/dst/save/sub/b.bin")
	require.NoError(t, err)
	assert.Equal(t, "BBB", string(got))

	exists, err := afero.Exists(fs, "/dst/save/stale.bin")
	require.NoError(t, err)
	assert.False(t, exists, "extraction replaces the folder")
}

// TestReadZip_corrupt tests the archive error for non-zip input.
func TestReadZip_corrupt(t *testing.T) {
	_, err := ReadZip([]byte("definitely not a zip archive"))
	assert.Error(t, err)
}

// TestModTimeAndSize tests folder aggregation.
func TestModTimeAndSize(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFolder(t, fs, "/d", map[string]string{"x": "12345", "y/z": "678"})
	newest := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, fs.Chtimes("/d/y/z", newest, newest))

	mt, err := ModTime(fs, "/d")
	require.NoError(t, err)
	assert.Equal(t, newest.UnixMilli(), mt)

	size, err := Size(fs, "/d")
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)
}
