package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/rommapp/argosy-launcher-sub002/internal/models"
)

func gamesCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:  "games",
		Usage: "Manage the local game catalog",
		Commands: []*cli.Command{
			gameAddCommand(s),
			gameListCommand(s),
			gameChannelCommand(s),
			platformEmulatorCommand(s),
		},
	}
}

func gameAddCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Add or update a game",
		ArgsUsage: "<game-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Usage: "Game title", Required: true},
			&cli.StringFlag{Name: "platform", Usage: "Platform slug, e.g. snes", Required: true},
			&cli.Int64Flag{Name: "romm-id", Usage: "Server rom id"},
			&cli.Int64Flag{Name: "platform-id", Usage: "Server platform id"},
			&cli.StringFlag{Name: "rom", Usage: "Path of the local rom file"},
			&cli.StringFlag{Name: "title-id", Usage: "Console title id (switch, psp, vita)"},
			&cli.StringFlag{Name: "emulator", Usage: "Emulator override for this game"},
			&cli.StringFlag{Name: "channel", Usage: "Active save channel"},
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
			game := &models.Game{
				ID:            gameID,
				RommID:        cmd.Int64("romm-id"),
				PlatformID:    cmd.Int64("platform-id"),
				PlatformSlug:  strings.ToLower(cmd.String("platform")),
				Title:         cmd.String("title"),
				RomPath:       cmd.String("rom"),
				TitleID:       cmd.String("title-id"),
				EmulatorID:    cmd.String("emulator"),
				ActiveChannel: cmd.String("channel"),
			}
			if err := a.repo.UpsertGame(ctx, game); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s saved game %d %s\n", success(symbolSuccess), game.ID, game.Title)
			return nil
		},
	}
}

func gameListCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List known games with their sync state",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := s.open()
			if err != nil {
				return err
			}
			games, err := a.repo.ListGames(ctx)
			if err != nil {
				return err
			}
			if len(games) == 0 {
				fmt.Fprintln(s.out, dim("no games"))
				return nil
			}
			tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tPLATFORM\tROMM\tCHANNEL\tSTATUS\tLAST SYNC")
			for _, g := range games {
				status, last := "-", "never"
				recs, err := a.repo.ListSyncRecordsForGame(ctx, g.ID)
				if err != nil {
					return err
				}
				for _, rec := range recs {
					if rec.Channel != g.ActiveChannel {
						continue
					}
					status = string(rec.Status)
					if rec.LastSyncedAt != nil {
						last = since(*rec.LastSyncedAt)
					}
				}
				romm := "-"
				if g.RommID > 0 {
					romm = fmt.Sprint(g.RommID)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					g.ID, g.Title, g.PlatformSlug, romm, channelOrDefault(g.ActiveChannel), status, last)
			}
			return tw.Flush()
		},
	}
}

func channelOrDefault(ch string) string {
	if ch == "" {
		return "default"
	}
	return ch
}

func gameChannelCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "channel",
		Usage:     "Set the active save channel of a game (empty for the default)",
		ArgsUsage: "<game-id> [channel]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			gameID, err := gameIDArg(cmd)
			if err != nil {
				return err
			}
			channel := cmd.Args().Get(1)
			a, err := s.open()
			if err != nil {
				return err
			}
			if err := a.repo.SetActiveChannel(ctx, gameID, channel); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s game %d now uses channel %s\n", success(symbolSuccess), gameID, channelOrDefault(channel))
			return nil
		},
	}
}

func platformEmulatorCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "emulator",
		Usage:     "Set the default emulator of a platform",
		ArgsUsage: "<platform> <emulator>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() < 2 {
				return fmt.Errorf("platform and emulator are required")
			}
			platform := strings.ToLower(cmd.Args().Get(0))
			emulator := cmd.Args().Get(1)
			a, err := s.open()
			if err != nil {
				return err
			}
			if err := a.repo.SetPlatformEmulator(ctx, platform, emulator); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s %s games use %s\n", success(symbolSuccess), platform, emulator)
			return nil
		},
	}
}
