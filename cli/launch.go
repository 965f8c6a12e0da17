package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/shepgo/shepgo/model"
)

func (a *App) launch(ctx *cli.Context) error {
	argv := ctx.Args().Slice()
	if len(argv) == 0 {
		return fmt.Errorf("no experiment arguments given, pass them after --")
	}

	env, err := a.setup()
	if err != nil {
		return err
	}

	form, err := env.canon.Canonicalize(model.ArgumentSet{Argv: argv})
	if err != nil {
		return err
	}
	xp, err := env.reg.GetOrCreate(model.ArgumentSet{Argv: argv}, form)
	if err != nil {
		return err
	}
	sheep, err := env.shep.SheepFor(xp)
	if err != nil {
		return err
	}
	if sheep.Job != nil {
		status, err := env.sched.Status(sheep.Job.JobID)
		if err != nil {
			return err
		}
		sheep.Status = status
	}

	if ctx.Bool("cancel") {
		if sheep.Job == nil || !sheep.Status.Active() {
			fmt.Printf("Experiment %s has no active job\n", xp.Sig)
			return nil
		}
		a.logger.Info().Str("job_id", sheep.JobID()).Str("sig", xp.Sig).Msg("Cancelling job")
		return env.sched.Cancel(sheep.JobID())
	}

	rules := model.SubmitRules{
		Retry:       ctx.Bool("retry"),
		Replace:     ctx.Bool("replace"),
		ReplaceDone: ctx.Bool("replace-done"),
	}
	action, err := env.shep.MaybeSubmitLazy(sheep, env.cfg.Slurm, rules, "")
	if err != nil {
		return err
	}
	if err := env.shep.Commit(); err != nil {
		return err
	}

	fmt.Printf("Experiment %s (%s)\n", xp.Sig, action)
	fmt.Printf("  Folder: %s\n", xp.Folder())
	if sheep.Job != nil {
		fmt.Printf("  Job: %s (%s)\n", sheep.JobID(), sheep.Status)
	}
	return nil
}
