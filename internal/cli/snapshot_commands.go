package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/rommapp/argosy-launcher-sub002/internal/models"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/storage"
)

func snapshotsCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:    "snapshots",
		Aliases: []string{"snap"},
		Usage:   "Manage local save snapshots",
		Commands: []*cli.Command{
			snapshotListCommand(s),
			snapshotCreateCommand(s),
			snapshotRestoreCommand(s),
			snapshotPruneCommand(s),
			snapshotLockCommand(s, "lock", true),
			snapshotLockCommand(s, "unlock", false),
			snapshotNoteCommand(s),
			snapshotCopyCommand(s),
			snapshotDeleteCommand(s),
			snapshotSweepCommand(s),
		},
	}
}

func snapshotIDArg(cmd *cli.Command) (string, error) {
	id := strings.TrimSpace(cmd.Args().First())
	if id == "" {
		return "", fmt.Errorf("snapshot id is required")
	}
	return id, nil
}

func snapshotFlags(snap *models.Snapshot) string {
	var flags []string
	if snap.Hardcore {
		flags = append(flags, warning("hardcore"))
	}
	if snap.Locked {
		flags = append(flags, info("locked"))
	}
	if snap.CheatsUsed {
		flags = append(flags, "cheats")
	}
	return strings.Join(flags, ",")
}

func snapshotListCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List the snapshots of a game, newest first",
		ArgsUsage: "<game-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			gameID, err := gameIDArg(cmd)
			if err != nil {
				return err
			}
			a, err := s.open()
			if err != nil {
				return err
			}
			snaps, err := a.cache.List(ctx, gameID)
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Fprintln(s.out, dim(fmt.Sprintf("no snapshots for game %d", gameID)))
				return nil
			}

			var total int64
			tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSIZE\tCHANNEL\tFLAGS\tNOTE")
			for _, snap := range snaps {
				total += snap.Size
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					snap.ID, humanize.Time(snap.CreatedAt), humanize.Bytes(uint64(snap.Size)),
					snap.Channel, snapshotFlags(snap), snap.Note)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s\n", dim(fmt.Sprintf("%d snapshot(s), %s", len(snaps), humanize.Bytes(uint64(total)))))
			return nil
		},
	}
}

func snapshotCreateCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Snapshot the current local save of a game",
		ArgsUsage: "<game-id>",
		Flags: []cli.Flag{
			emulatorFlag(),
			channelFlag(),
			&cli.StringFlag{Name: "path", Usage: "Save file or folder (default: the resolved local save)"},
			&cli.StringFlag{Name: "note", Usage: "Note to attach; a note locks the snapshot"},
			&cli.BoolFlag{Name: "lock", Usage: "Protect the snapshot from pruning"},
			&cli.BoolFlag{Name: "hardcore", Usage: "Record the snapshot as the hardcore save"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			gameID, err := gameIDArg(cmd)
			if err != nil {
				return err
			}
			a, err := s.open()
			if err != nil {
				return err
			}
			local, err := a.engine.LocateLocalSave(ctx, gameID, cmd.String("emulator"), cmd.String("channel"))
			if err != nil {
				return err
			}
			if local == nil {
				return fmt.Errorf("game %d not found", gameID)
			}
			path := cmd.String("path")
			if path == "" {
				path = local.Path
			}
			if path == "" {
				return fmt.Errorf("no local save found for game %d", gameID)
			}

			req := storage.CreateRequest{
				GameID:     gameID,
				EmulatorID: local.EmulatorID,
				Path:       path,
				Channel:    cmd.String("channel"),
				Locked:     cmd.Bool("lock") || cmd.String("note") != "",
				Hardcore:   cmd.Bool("hardcore"),
				Note:       cmd.String("note"),
			}
			var res storage.CreateResult
			a.locks.WithGame(gameID, func() {
				res, err = a.cache.Create(ctx, req)
			})
			if err != nil {
				return err
			}
			if res.Status == storage.StatusDuplicate {
				fmt.Fprintf(s.out, "%s unchanged since snapshot %s\n", dim(symbolSuccess), res.Snapshot.ID)
				return nil
			}
			fmt.Fprintf(s.out, "%s created snapshot %s (%s)\n",
				success(symbolSuccess), res.Snapshot.ID, humanize.Bytes(uint64(res.Snapshot.Size)))
			return nil
		},
	}
}

func snapshotRestoreCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Write a snapshot back over the local save",
		ArgsUsage: "<snapshot-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "target", Usage: "Destination (default: the resolved local save)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := snapshotIDArg(cmd)
			if err != nil {
				return err
			}
			a, err := s.open()
			if err != nil {
				return err
			}
			snap, err := a.cache.Get(ctx, id)
			if err != nil {
				return err
			}
			if snap == nil {
				return fmt.Errorf("snapshot %s not found", id)
			}
			target := cmd.String("target")
			if target == "" {
				local, err := a.engine.LocateLocalSave(ctx, snap.GameID, snap.EmulatorID, snap.Channel)
				if err != nil {
					return err
				}
				if local != nil {
					target = local.Path
				}
			}
			if target == "" {
				return fmt.Errorf("cannot locate the local save of game %d, pass --target", snap.GameID)
			}

			a.locks.WithGame(snap.GameID, func() {
				err = a.cache.Restore(ctx, id, target)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s restored snapshot %s to %s\n", success(symbolSuccess), id, target)
			return nil
		},
	}
}

func snapshotPruneCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "prune",
		Usage:     "Delete the oldest unlocked snapshots over the retention limit",
		ArgsUsage: "<game-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			gameID, err := gameIDArg(cmd)
			if err != nil {
				return err
			}
			a, err := s.open()
			if err != nil {
				return err
			}
			var n int
			a.locks.WithGame(gameID, func() {
				n, err = a.cache.Prune(ctx, gameID)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s pruned %d snapshot(s), limit %d\n", success(symbolSuccess), n, a.cache.Limit())
			return nil
		},
	}
}

func snapshotLockCommand(s *session, name string, locked bool) *cli.Command {
	usage := "Protect a snapshot from pruning"
	if !locked {
		usage = "Allow a snapshot to be pruned"
	}
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<snapshot-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := snapshotIDArg(cmd)
			if err != nil {
				return err
			}
			a, err := s.open()
			if err != nil {
				return err
			}
			if err := a.cache.SetLocked(ctx, id, locked); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s %sed snapshot %s\n", success(symbolSuccess), name, id)
			return nil
		},
	}
}

func snapshotNoteCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "note",
		Usage:     "Attach a note to a snapshot, locking it",
		ArgsUsage: "<snapshot-id> <note>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := snapshotIDArg(cmd)
			if err != nil {
				return err
			}
			note := strings.Join(cmd.Args().Tail(), " ")
			a, err := s.open()
			if err != nil {
				return err
			}
			if err := a.cache.SetNote(ctx, id, note); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s noted snapshot %s\n", success(symbolSuccess), id)
			return nil
		},
	}
}

func snapshotCopyCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "copy",
		Usage:     "Copy a snapshot into a named channel",
		ArgsUsage: "<snapshot-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "channel", Usage: "Destination channel", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := snapshotIDArg(cmd)
			if err != nil {
				return err
			}
			a, err := s.open()
			if err != nil {
				return err
			}
			snap, err := a.cache.CopyToChannel(ctx, id, cmd.String("channel"))
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s copied to channel %s as %s\n", success(symbolSuccess), snap.Channel, snap.ID)
			return nil
		},
	}
}

func snapshotDeleteCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a snapshot, or every snapshot of a game with --game",
		ArgsUsage: "[snapshot-id]",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "game", Usage: "Delete all snapshots of this game"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := s.open()
			if err != nil {
				return err
			}
			if gameID := cmd.Int64("game"); gameID > 0 {
				var n int64
				a.locks.WithGame(gameID, func() {
					n, err = a.cache.DeleteAllForGame(ctx, gameID)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(s.out, "%s deleted %d snapshot(s)\n", success(symbolSuccess), n)
				return nil
			}
			id, err := snapshotIDArg(cmd)
			if err != nil {
				return err
			}
			if err := a.cache.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s deleted snapshot %s\n", success(symbolSuccess), id)
			return nil
		},
	}
}

func snapshotSweepCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Reconcile snapshot files with the snapshot table",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := s.open()
			if err != nil {
				return err
			}
			report, err := a.cache.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s removed %d orphan file(s), %d missing record(s)\n",
				success(symbolSuccess), report.OrphanFiles, report.MissingRecords)
			return nil
		},
	}
}
