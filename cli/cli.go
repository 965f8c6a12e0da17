package cli

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/shepgo/shepgo/backend"
	"github.com/shepgo/shepgo/canonical"
	"github.com/shepgo/shepgo/config"
	"github.com/shepgo/shepgo/grid"
	"github.com/shepgo/shepgo/registry"
	"github.com/shepgo/shepgo/scheduler"
	"github.com/shepgo/shepgo/shepherd"
)

const AppName = "shepgo"

// Options configure the CLI for a project. Projects build their own binary
// around their grid definitions:
//
//	c := cli.New(cli.Options{
//		Grids: map[string]grid.Explore{"lr_sweep": lrSweep},
//	})
//	c.Run(os.Args)
type Options struct {
	// Grids maps grid names to their definition procedures.
	Grids map[string]grid.Explore
	// Backend resolves raw argv into configuration views. Defaults to the
	// flag backend with no declared defaults.
	Backend backend.Backend
	// Scheduler overrides the Slurm scheduler, mainly for tests.
	Scheduler scheduler.Scheduler
}

type App struct {
	logger zerolog.Logger
	cli    *cli.App
	opts   Options
}

func New(opts Options) *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	if opts.Backend == nil {
		opts.Backend = backend.NewFlags(nil)
	}

	app := &App{
		logger: logger,
		opts:   opts,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Launch, deduplicate and monitor experiment grids",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "grid",
		Usage:     "Reconcile a grid definition against the scheduler and monitor it",
		ArgsUsage: "[NAME] [PATTERN...]",
		Action:    app.grid,
		Flags: append(submitRuleFlags(),
			&cli.BoolFlag{
				Name:    "cancel",
				Aliases: []string{"C"},
				Usage:   "Cancel all matching jobs",
			},
			&cli.BoolFlag{
				Name:  "clear",
				Usage: "Cancel jobs, delete experiment folders and restart from scratch",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Simulate the pass without any scheduler action",
			},
			&cli.Float64Flag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Minutes between status updates",
				Value:   5,
			},
			&cli.BoolFlag{
				Name:  "no-monitor",
				Usage: "Schedule, print current state and exit",
			},
		),
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "launch",
		Usage:     "Schedule a single experiment; pass its arguments after --",
		ArgsUsage: "-- [ARG...]",
		Action:    app.launch,
		Flags: append(submitRuleFlags(),
			&cli.BoolFlag{
				Name:    "cancel",
				Aliases: []string{"C"},
				Usage:   "Cancel the experiment's job and return",
			},
		),
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "info",
		Usage:  "Show an experiment's folder, arguments and job status",
		Action: app.info,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "sig",
				Aliases: []string{"f"},
				Usage:   "Look up by signature",
			},
			&cli.StringFlag{
				Name:    "job-id",
				Aliases: []string{"j"},
				Usage:   "Look up by scheduler job id",
			},
			&cli.BoolFlag{
				Name:    "cancel",
				Aliases: []string{"C"},
				Usage:   "Cancel the experiment's latest job",
			},
			&cli.BoolFlag{
				Name:    "metrics",
				Aliases: []string{"m"},
				Usage:   "Show the latest metrics",
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "list",
		Usage:  "List known experiments",
		Action: app.list,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of results (default: 20)",
				Value:   20,
			},
		},
	})
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && commit != "" {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}

func submitRuleFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "retry",
			Aliases: []string{"r"},
			Usage:   "Resubmit failed or cancelled jobs",
		},
		&cli.BoolFlag{
			Name:    "replace",
			Aliases: []string{"R"},
			Usage:   "Cancel and resubmit running or queued jobs",
		},
		&cli.BoolFlag{
			Name:    "replace-done",
			Aliases: []string{"D"},
			Usage:   "Also resubmit completed jobs",
		},
	}
}

// env holds everything a command needs, wired from the project config.
type env struct {
	cfg   *config.Config
	canon *canonical.Canonicalizer
	reg   *registry.Registry
	sched scheduler.Scheduler
	shep  *shepherd.Shepherd
	recon *grid.Reconciler
}

func (a *App) setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	sched := a.opts.Scheduler
	if sched == nil {
		sched = scheduler.NewSlurm(a.logger)
	}
	reg := registry.New(a.logger, cfg.StateDir())
	shep, err := shepherd.New(a.logger, cfg.Project, cfg.Command, reg, sched)
	if err != nil {
		return nil, err
	}
	canon := canonical.New(a.opts.Backend, cfg.Exclude)
	return &env{
		cfg:   cfg,
		canon: canon,
		reg:   reg,
		sched: sched,
		shep:  shep,
		recon: grid.NewReconciler(a.logger, cfg, canon, reg, shep, sched, os.Stdout),
	}, nil
}

func (a *App) gridNames() []string {
	out := make([]string, 0, len(a.opts.Grids))
	for name := range a.opts.Grids {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
