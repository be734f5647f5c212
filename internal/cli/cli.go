// Package cli provides the command-line interface for argosy-sync.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/rommapp/argosy-launcher-sub002/internal/config"
	"github.com/rommapp/argosy-launcher-sub002/internal/logging"
)

var (
	// Version is the current version of the application.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
)

// session carries state across the commands of one invocation.
type session struct {
	out io.Writer
	fs  afero.Fs
	cfg *config.Config
	app *app
}

// open returns the wired sync stack, opening it on first use.
func (s *session) open() (*app, error) {
	if s.app != nil {
		return s.app, nil
	}
	a, err := newApp(s.cfg, s.fs)
	if err != nil {
		return nil, err
	}
	s.app = a
	return a, nil
}

func (s *session) close() error {
	if s.app == nil {
		return nil
	}
	err := s.app.Close()
	s.app = nil
	return err
}

// Run executes the CLI application with the given context and arguments.
func Run(ctx context.Context, args []string) error {
	return run(ctx, args, os.Stdout, afero.NewOsFs())
}

func run(ctx context.Context, args []string, out io.Writer, fs afero.Fs) error {
	s := &session{out: out, fs: fs}
	defer s.close()

	app := &cli.Command{
		Name:    "argosy-sync",
		Usage:   "Synchronize emulator saves with a RomM server",
		Version: Version,
		Writer:  out,
		// Exit codes are returned to the caller instead of exiting here.
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				Sources: cli.EnvVars("ARGOSY_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose output (info level logging)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug output (debug level logging, implies verbose)",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable colored output",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			configureColors(cmd)
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return ctx, err
			}
			s.cfg = cfg
			configureLogging(cmd, cfg)
			return ctx, nil
		},
		Commands: []*cli.Command{
			versionCommand(),
			uploadCommand(s),
			downloadCommand(s),
			prelaunchCommand(s),
			checkCommand(s),
			resolveHardcoreCommand(s),
			scanCommand(s),
			processCommand(s),
			pullCommand(s),
			queueCommand(s),
			snapshotsCommand(s),
			gamesCommand(s),
			serveCommand(s),
		},
	}
	return app.Run(ctx, args)
}

// configureLogging sets up the logging level from flags, falling back to
// the configured level. Logs go to stderr.
func configureLogging(cmd *cli.Command, cfg *config.Config) {
	opts := logging.Options{
		Level: logging.ParseLevel(cfg.Log.Level),
		JSON:  cfg.Log.Format == "json",
	}
	if cmd.Bool("debug") {
		opts.Level = logging.LevelDebug
		opts.AddSource = true
	} else if cmd.Bool("verbose") {
		opts.Level = logging.LevelInfo
	} else if cfg.Log.Level == "" {
		opts.Level = logging.LevelWarn
	}
	logging.Init(opts)
}

// gameIDArg parses the first positional argument as a game id.
func gameIDArg(cmd *cli.Command) (int64, error) {
	if cmd.NArg() < 1 {
		return 0, fmt.Errorf("game id is required")
	}
	id, err := strconv.ParseInt(cmd.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid game id %q", cmd.Args().First())
	}
	return id, nil
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Display version and build information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Fprintf(cmd.Root().Writer, "argosy-sync version %s (commit %s)\n", Version, Commit)
			return nil
		},
	}
}
