package main

import (
	"log"
	"os"

	"github.com/shepgo/shepgo/cli"
	"github.com/shepgo/shepgo/grid"
)

// Version information, set by goreleaser via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Projects normally build their own binary around their own grid
// definitions; this one ships a small sweep as a starting point.
func lrSweep(launcher grid.Launcher) {
	launcher = launcher.Bind(map[string]any{"batch_size": 128})
	for _, lr := range []float64{0.1, 0.01, 0.001} {
		launcher.Launch(map[string]any{"lr": lr})
	}
}

func main() {
	c := cli.New(cli.Options{
		Grids: map[string]grid.Explore{
			"lr_sweep": lrSweep,
		},
	})
	c.SetVersion(version, commit, date)
	err := c.Run(os.Args)
	if err != nil {
		log.Fatal(err)
		os.Exit(1)
	}
}
