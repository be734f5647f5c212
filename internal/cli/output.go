package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/rommapp/argosy-launcher-sub002/internal/sync"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/conflict"
)

// Color function types for styled output.
var (
	success = color.New(color.FgGreen).SprintFunc()
	failed  = color.New(color.FgRed).SprintFunc()
	warning = color.New(color.FgYellow).SprintFunc()
	info    = color.New(color.FgCyan).SprintFunc()
	dim     = color.New(color.Faint).SprintFunc()
	header  = color.New(color.FgCyan, color.Bold).SprintFunc()
)

// Status symbols.
const (
	symbolSuccess = "✓"
	symbolError   = "✗"
	symbolWarning = "⚠"
)

// Exit codes of sync commands that need user attention.
const (
	exitConflict = 2
	exitHardcore = 3
)

func configureColors(cmd *cli.Command) {
	if cmd.Bool("no-color") {
		color.NoColor = true
	}
}

func since(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// reportResult prints a transfer result and maps it to the command error.
func reportResult(w io.Writer, action string, r sync.Result) error {
	desc := sync.Describe(r)
	switch v := r.(type) {
	case sync.Success:
		fmt.Fprintf(w, "%s %s %s\n", success(symbolSuccess), action, desc)
		if !v.ServerTimestamp.IsZero() {
			fmt.Fprintf(w, "  %s\n", dim("server copy from "+since(v.ServerTimestamp)))
		}
		return nil
	case sync.NoSaveFound:
		fmt.Fprintf(w, "%s %s: %s\n", warning(symbolWarning), action, desc)
		return nil
	case sync.Conflict:
		fmt.Fprintf(w, "%s %s: %s\n", warning(symbolWarning), action, desc)
		fmt.Fprintf(w, "  %s\n", dim("rerun with --force to overwrite the server copy"))
		return cli.Exit("", exitConflict)
	case sync.NeedsHardcoreResolution:
		fmt.Fprintf(w, "%s %s: %s\n", warning(symbolWarning), action, desc)
		fmt.Fprintf(w, "  %s\n", dim(fmt.Sprintf(
			"resolve with: resolve-hardcore %d --emulator %s --temp %q --target %q --choice keep-hardcore|downgrade|keep-local",
			v.GameID, v.EmulatorID, v.TempPath, v.TargetPath)))
		return cli.Exit("", exitHardcore)
	default:
		fmt.Fprintf(w, "%s %s: %s\n", failed(symbolError), action, desc)
		return fmt.Errorf("%s: %s", action, desc)
	}
}

func describeDecision(d conflict.Decision) string {
	switch v := d.(type) {
	case conflict.NoConnection:
		return warning("server unreachable") + ", launch with the local save"
	case conflict.NoServerSave:
		return info("no server save") + ", launch with the local save"
	case conflict.LocalIsNewer:
		return success("local save is current")
	case conflict.ServerIsNewer:
		return warning("server save is newer") + fmt.Sprintf(" (%s%s), download before launch",
			since(v.ServerTimestamp), channelSuffix(v.Channel))
	case conflict.LocalModified:
		return failed("local save was modified") + fmt.Sprintf(" (%s, server %s%s), choose which to keep",
			v.LocalPath, since(v.ServerTimestamp), channelSuffix(v.Channel))
	default:
		return d.Outcome()
	}
}

func channelSuffix(channel string) string {
	if channel == "" {
		return ""
	}
	return ", channel " + channel
}
