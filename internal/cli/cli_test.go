package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/rommapp/argosy-launcher-sub002/internal/testing/savetest"
)

// harness runs commands against a temporary data directory.
type harness struct {
	t          *testing.T
	configPath string
	saveRoot   string
	server     *savetest.Server
}

func newHarness(t *testing.T, withServer bool) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{t: t, saveRoot: filepath.Join(dir, "root")}

	url := ""
	if withServer {
		h.server = savetest.NewServer(t)
		url = h.server.URL
	}
	yaml := fmt.Sprintf("data_dir: %s\nsave_root: %s\nserver:\n  url: %q\ndevice:\n  id: test-device\n",
		filepath.Join(dir, "data"), h.saveRoot, url)
	h.configPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(h.configPath, []byte(yaml), 0644))
	return h
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	full := append([]string{"argosy-sync", "--no-color", "--config", h.configPath}, args...)
	err := run(context.Background(), full, &out, afero.NewOsFs())
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, out)
	return out
}

func (h *harness) writeSave(rom string, data []byte) string {
	h.t.Helper()
	path := filepath.Join(h.saveRoot, "saves", "retroarch", rom+".srm")
	require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(h.t, os.WriteFile(path, data, 0644))
	return path
}

func (h *harness) addZelda() {
	h.mustRun("games", "add", "42",
		"--title", "Zelda", "--platform", "SNES", "--romm-id", "420",
		"--rom", "/roms/snes/zelda.sfc", "--emulator", "retroarch")
}

// snapshotIDs returns the ids listed by "snapshots list".
func snapshotIDs(out string) []string {
	var ids []string
	for _, line := range strings.Split(out, "\n")[1:] {
		fields := strings.Fields(line)
		if len(fields) > 0 && len(fields[0]) == 36 {
			ids = append(ids, fields[0])
		}
	}
	return ids
}

// =============================================================================
// Command Tests
// =============================================================================

// TestVersionCommand verifies version output.
func TestVersionCommand(t *testing.T) {
	h := newHarness(t, false)
	out := h.mustRun("version")
	assert.Contains(t, out, "argosy-sync version "+Version)
}

// TestGameIDArg verifies malformed game ids are rejected before any work.
func TestGameIDArg(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.run("upload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "game id is required")

	_, err = h.run("upload", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid game id")
}

// TestGamesCommands verifies the catalog round trip.
func TestGamesCommands(t *testing.T) {
	h := newHarness(t, false)
	h.addZelda()

	out := h.mustRun("games", "list")
	assert.Contains(t, out, "Zelda")
	assert.Contains(t, out, "snes")
	assert.Contains(t, out, "default")

	h.mustRun("games", "channel", "42", "slot1")
	out = h.mustRun("games", "list")
	assert.Contains(t, out, "slot1")

	out = h.mustRun("games", "emulator", "GBA", "mgba")
	assert.Contains(t, out, "gba games use mgba")
}

// TestUploadDownload verifies a save uploaded by one invocation can be
// restored by another after the local copy changes.
func TestUploadDownload(t *testing.T) {
	h := newHarness(t, true)
	h.addZelda()
	original := savetest.Bytes("zelda", 2048)
	path := h.writeSave("zelda", original)

	out := h.mustRun("upload", "42")
	assert.Contains(t, out, "upload")
	saves := h.server.Saves()
	require.Len(t, saves, 1)
	assert.Equal(t, int64(420), saves[0].RomID)

	require.NoError(t, os.WriteFile(path, savetest.Bytes("other", 2048), 0644))
	h.mustRun("download", "42")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, data)
}

// TestUploadStartedOnOlderSave verifies a channel upload from a session that
// began on an outdated save exits with the conflict code and writes nothing.
func TestUploadStartedOnOlderSave(t *testing.T) {
	h := newHarness(t, true)
	h.addZelda()
	h.writeSave("zelda", savetest.Bytes("zelda", 2048))

	_, err := h.run("upload", "42", "--channel", "slot1", "--started-on-older-save")
	require.Error(t, err)
	exit, ok := err.(cli.ExitCoder)
	require.True(t, ok)
	assert.Equal(t, exitConflict, exit.ExitCode())
	assert.Equal(t, 0, h.server.Writes())

	h.mustRun("upload", "42", "--channel", "slot1")
	assert.Equal(t, 1, h.server.Writes())
}

// TestUploadNotConfigured verifies upload without a server fails.
func TestUploadNotConfigured(t *testing.T) {
	h := newHarness(t, false)
	h.addZelda()
	h.writeSave("zelda", savetest.Bytes("zelda", 2048))

	_, err := h.run("upload", "42")
	require.Error(t, err)
	_, isExit := err.(cli.ExitCoder)
	assert.False(t, isExit)
}

// TestSnapshotCommands verifies create, list, lock, restore and delete.
func TestSnapshotCommands(t *testing.T) {
	h := newHarness(t, false)
	h.addZelda()
	original := savetest.Bytes("zelda", 2048)
	path := h.writeSave("zelda", original)

	out := h.mustRun("snapshots", "create", "42", "--note", "before boss")
	assert.Contains(t, out, "created snapshot")

	out = h.mustRun("snapshots", "create", "42")
	assert.Contains(t, out, "unchanged since snapshot")

	out = h.mustRun("snapshots", "list", "42")
	assert.Contains(t, out, "before boss")
	assert.Contains(t, out, "locked")
	ids := snapshotIDs(out)
	require.Len(t, ids, 1)

	require.NoError(t, os.WriteFile(path, savetest.Bytes("other", 2048), 0644))
	h.mustRun("snapshots", "restore", ids[0])
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, data)

	h.mustRun("snapshots", "unlock", ids[0])
	h.mustRun("snapshots", "delete", ids[0])
	out = h.mustRun("snapshots", "list", "42")
	assert.Contains(t, out, "no snapshots for game 42")
}

// TestQueueCommands verifies an upload queued by one invocation is drained
// by "process" in another.
func TestQueueCommands(t *testing.T) {
	h := newHarness(t, true)
	h.addZelda()
	h.writeSave("zelda", savetest.Bytes("zelda", 2048))

	h.mustRun("queue", "add", "42")
	out := h.mustRun("queue", "stats")
	assert.Contains(t, out, "pending 1, failed 0, total 1")

	h.mustRun("process")
	out = h.mustRun("queue", "stats")
	assert.Contains(t, out, "pending 0, failed 0, total 0")
	assert.Len(t, h.server.Saves(), 1)
}
