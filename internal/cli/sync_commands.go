package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/rommapp/argosy-launcher-sub002/internal/models"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/conflict"
	"github.com/rommapp/argosy-launcher-sub002/internal/uuid"
)

func emulatorFlag() cli.Flag {
	return &cli.StringFlag{Name: "emulator", Aliases: []string{"e"}, Usage: "Emulator id (defaults to the game or platform emulator)"}
}

func channelFlag() cli.Flag {
	return &cli.StringFlag{Name: "channel", Usage: "Named save channel (default: the autosave channel)"}
}

func uploadCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload the local save of a game",
		ArgsUsage: "<game-id>",
		Flags: []cli.Flag{
			emulatorFlag(),
			channelFlag(),
			&cli.BoolFlag{Name: "force", Usage: "Overwrite the server copy even when it is newer"},
			&cli.BoolFlag{Name: "hardcore", Usage: "Mark the upload as a hardcore save"},
			&cli.BoolFlag{Name: "started-on-older-save", Usage: "The play session began on a save older than the server copy"},
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
			session := sync.NewSession(gameID)
			session.MarkStartedOnOlderSave(cmd.Bool("started-on-older-save"))
			opts := sync.UploadOptions{
				Channel:  cmd.String("channel"),
				Force:    cmd.Bool("force"),
				Hardcore: cmd.Bool("hardcore"),
				Session:  session,
			}
			var result sync.Result
			a.locks.WithGame(gameID, func() {
				result = a.engine.Upload(ctx, gameID, cmd.String("emulator"), opts)
			})
			return reportResult(s.out, "upload", result)
		},
	}
}

func downloadCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "Download the server save of a game",
		ArgsUsage: "<game-id>",
		Flags: []cli.Flag{
			emulatorFlag(),
			channelFlag(),
			&cli.BoolFlag{Name: "skip-backup", Usage: "Do not snapshot the local save before overwriting it"},
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
			opts := sync.DownloadOptions{Channel: cmd.String("channel"), SkipBackup: cmd.Bool("skip-backup")}
			var result sync.Result
			a.locks.WithGame(gameID, func() {
				result = a.engine.Download(ctx, gameID, cmd.String("emulator"), opts)
			})
			return reportResult(s.out, "download", result)
		},
	}
}

func prelaunchCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "prelaunch",
		Usage:     "Decide whether a game can launch on its local save",
		ArgsUsage: "<game-id>",
		Flags: []cli.Flag{
			emulatorFlag(),
			&cli.BoolFlag{Name: "download", Usage: "Download the server save when it is newer"},
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
			var decision conflict.Decision
			a.locks.WithGame(gameID, func() {
				decision = a.resolver.PreLaunch(ctx, gameID, cmd.String("emulator"))
			})
			fmt.Fprintf(s.out, "game %d: %s\n", gameID, describeDecision(decision))

			newer, ok := decision.(conflict.ServerIsNewer)
			if !ok || !cmd.Bool("download") {
				return nil
			}
			var result sync.Result
			a.locks.WithGame(gameID, func() {
				result = a.engine.Download(ctx, gameID, cmd.String("emulator"), sync.DownloadOptions{Channel: newer.Channel})
			})
			return reportResult(s.out, "download", result)
		},
	}
}

func checkCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Report whether local and server saves diverge",
		ArgsUsage: "<game-id>",
		Flags:     []cli.Flag{emulatorFlag(), channelFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			gameID, err := gameIDArg(cmd)
			if err != nil {
				return err
			}
			a, err := s.open()
			if err != nil {
				return err
			}
			info, err := a.resolver.CheckForConflict(ctx, gameID, cmd.String("emulator"), cmd.String("channel"))
			if err != nil {
				return err
			}
			if info == nil {
				fmt.Fprintf(s.out, "%s game %d: no conflict\n", success(symbolSuccess), gameID)
				return nil
			}
			fmt.Fprintf(s.out, "%s game %d: local save from %s, server save from %s\n",
				warning(symbolWarning), gameID, since(info.LocalTimestamp), since(info.ServerTimestamp))
			return cli.Exit("", exitConflict)
		},
	}
}

func resolveHardcoreCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "resolve-hardcore",
		Usage:     "Resolve a download parked because the server save is not hardcore",
		ArgsUsage: "<game-id>",
		Flags: []cli.Flag{
			emulatorFlag(),
			channelFlag(),
			&cli.StringFlag{Name: "temp", Usage: "Parked download path", Required: true},
			&cli.StringFlag{Name: "target", Usage: "Local save path the download was meant for", Required: true},
			&cli.StringFlag{Name: "choice", Usage: "keep-hardcore, downgrade or keep-local", Required: true},
			&cli.BoolFlag{Name: "folder", Usage: "The save is a folder"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			gameID, err := gameIDArg(cmd)
			if err != nil {
				return err
			}
			choice, err := conflict.ParseChoice(cmd.String("choice"))
			if err != nil {
				return err
			}
			a, err := s.open()
			if err != nil {
				return err
			}
			game, err := a.repo.GetGame(ctx, gameID)
			if err != nil {
				return err
			}
			if game == nil {
				return fmt.Errorf("game %d not found", gameID)
			}
			pending := sync.NeedsHardcoreResolution{
				GameID:      gameID,
				GameTitle:   game.Title,
				EmulatorID:  a.engine.ResolveEmulator(ctx, game, cmd.String("emulator")),
				Channel:     cmd.String("channel"),
				TempPath:    cmd.String("temp"),
				TargetPath:  cmd.String("target"),
				FolderBased: cmd.Bool("folder"),
			}
			var result sync.Result
			a.locks.WithGame(gameID, func() {
				result = a.resolver.ResolveHardcore(ctx, pending, choice)
			})
			return reportResult(s.out, string(choice), result)
		},
	}
}

func scanCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Queue uploads for local saves changed since their last sync",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := s.open()
			if err != nil {
				return err
			}
			n, err := a.orch.ScanAndQueueLocalChanges(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s queued %d upload(s)\n", success(symbolSuccess), n)
			return nil
		},
	}
}

func processCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:  "process",
		Usage: "Upload queued saves that are due",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := s.open()
			if err != nil {
				return err
			}
			n, err := a.orch.ProcessPendingUploads(ctx)
			if err != nil {
				return err
			}
			stats, err := a.orch.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s uploaded %d save(s), %d pending, %d failed\n",
				success(symbolSuccess), n, stats.Pending, stats.Failed)
			return nil
		},
	}
}

func pullCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:  "pull",
		Usage: "Check the server for newer saves and download them",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "platform", Usage: "Only check one server platform id"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := s.open()
			if err != nil {
				return err
			}
			var flagged []*models.SyncRecord
			if platformID := cmd.Int64("platform"); platformID > 0 {
				flagged, err = a.engine.CheckForServerUpdates(ctx, platformID)
			} else {
				flagged, err = a.engine.CheckAllServerUpdates(ctx)
			}
			if err != nil {
				return err
			}
			n, err := a.orch.DownloadPendingServerSaves(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s %d newer on server, downloaded %d\n", success(symbolSuccess), len(flagged), n)
			return nil
		},
	}
}

func queueCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Inspect the pending upload queue",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List queued uploads",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := s.open()
					if err != nil {
						return err
					}
					entries, err := a.orch.List(ctx)
					if err != nil {
						return err
					}
					if len(entries) == 0 {
						fmt.Fprintln(s.out, dim("queue is empty"))
						return nil
					}
					tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, header("ID\tGAME\tRETRIES\tNEXT RETRY\tLAST ERROR"))
					for _, e := range entries {
						fmt.Fprintf(tw, "%s\t%d\t%d/%d\t%s\t%s\n",
							uuid.Short(e.ID), e.GameID, e.RetryCount, e.MaxRetries, since(e.NextRetryAt), e.LastError)
					}
					return tw.Flush()
				},
			},
			{
				Name:  "stats",
				Usage: "Show queue counts",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := s.open()
					if err != nil {
						return err
					}
					stats, err := a.orch.Stats(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(s.out, "pending %d, failed %d, total %d\n", stats.Pending, stats.Failed, stats.Total)
					return nil
				},
			},
			{
				Name:  "retry",
				Usage: "Retry uploads that ran out of attempts",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := s.open()
					if err != nil {
						return err
					}
					n, err := a.orch.RetryAll(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(s.out, "%s reset %d upload(s)\n", success(symbolSuccess), n)
					return nil
				},
			},
			{
				Name:      "add",
				Usage:     "Queue the save of a game for upload",
				ArgsUsage: "<game-id>",
				Flags:     []cli.Flag{emulatorFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					gameID, err := gameIDArg(cmd)
					if err != nil {
						return err
					}
					a, err := s.open()
					if err != nil {
						return err
					}
					game, err := a.repo.GetGame(ctx, gameID)
					if err != nil {
						return err
					}
					if game == nil {
						return fmt.Errorf("game %d not found", gameID)
					}
					emu := a.engine.ResolveEmulator(ctx, game, cmd.String("emulator"))
					if emu == "" {
						return fmt.Errorf("cannot determine emulator for game %d", gameID)
					}
					if err := a.orch.QueueUpload(ctx, gameID, emu); err != nil {
						return err
					}
					fmt.Fprintf(s.out, "%s queued game %d\n", success(symbolSuccess), gameID)
					return nil
				},
			},
		},
	}
}
