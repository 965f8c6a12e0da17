package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/shepgo/shepgo/grid"
	"github.com/shepgo/shepgo/model"
)

func (a *App) grid(ctx *cli.Context) error {
	args := ctx.Args().Slice()
	if len(args) == 0 {
		available := a.gridNames()
		if len(available) == 0 {
			return fmt.Errorf("no grids registered in this binary")
		}
		fmt.Printf("Potential grids are: %s\n", strings.Join(available, ", "))
		return nil
	}
	name := args[0]
	explore, ok := a.opts.Grids[name]
	if !ok {
		return fmt.Errorf("unknown grid %q, potential grids are: %s", name, strings.Join(a.gridNames(), ", "))
	}

	env, err := a.setup()
	if err != nil {
		return err
	}

	rules := model.SubmitRules{
		Retry:       ctx.Bool("retry"),
		Replace:     ctx.Bool("replace"),
		ReplaceDone: ctx.Bool("replace-done"),
	}
	opts := grid.Options{
		Patterns: args[1:],
		Monitor:  !ctx.Bool("no-monitor"),
		Interval: time.Duration(ctx.Float64("interval") * float64(time.Minute)),
		DryRun:   ctx.Bool("dry-run"),
		Cancel:   ctx.Bool("cancel"),
		Clear:    ctx.Bool("clear"),
		Confirm:  confirmOnStdin,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	_, err = env.recon.Run(runCtx, name, explore, rules, opts)
	if errors.Is(err, context.Canceled) {
		a.logger.Info().Msg("Interrupted, scheduler state is committed")
		return nil
	}
	return err
}

// confirmOnStdin asks the operator before a destructive action.
func confirmOnStdin(prompt string) bool {
	fmt.Println(prompt)
	fmt.Print("Confirm [yN]: ")
	reply, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(reply), "y")
}
