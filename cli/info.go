package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/shepgo/shepgo/model"
	"github.com/shepgo/shepgo/registry"
)

func (a *App) info(ctx *cli.Context) error {
	sig := ctx.String("sig")
	jobID := ctx.String("job-id")
	if (sig == "") == (jobID == "") {
		return fmt.Errorf("give exactly one of --sig or --job-id")
	}

	env, err := a.setup()
	if err != nil {
		return err
	}

	var xp *registry.Experiment
	if sig != "" {
		xp, err = env.reg.BySignature(sig)
	} else {
		xp, err = env.reg.ByJobID(jobID)
	}
	if err != nil {
		return err
	}

	sheep, err := env.shep.SheepFor(xp)
	if err != nil {
		return err
	}
	status := model.StatusNotScheduled
	if sheep.Job != nil {
		if status, err = env.sched.Status(sheep.Job.JobID); err != nil {
			return err
		}
	}

	fmt.Printf("Experiment %s\n", xp.Sig)
	fmt.Printf("  Folder: %s\n", xp.Folder())
	fmt.Printf("  Argv: %s\n", strings.Join(xp.Args.Argv, " "))
	if sheep.Job != nil {
		fmt.Printf("  Job: %s (%s), submitted %s\n",
			sheep.Job.JobID, status, sheep.Job.SubmittedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("  Never submitted")
	}

	if ctx.Bool("metrics") {
		history, err := env.reg.History(xp)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			fmt.Println("  No metrics recorded")
		} else {
			last, _ := json.Marshal(history[len(history)-1])
			fmt.Printf("  Metrics (epoch %d): %s\n", len(history), last)
		}
	}

	if ctx.Bool("cancel") {
		if sheep.Job == nil || !status.Active() {
			fmt.Println("  No active job to cancel")
			return nil
		}
		a.logger.Info().Str("job_id", sheep.Job.JobID).Str("sig", xp.Sig).Msg("Cancelling job")
		return env.sched.Cancel(sheep.Job.JobID)
	}
	return nil
}
