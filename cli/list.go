package cli

// This file contains the list command for displaying known experiments.

import (
	"fmt"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/shepgo/shepgo/model"
	"github.com/shepgo/shepgo/registry"
)

func (a *App) list(ctx *cli.Context) error {
	limit := ctx.Int("limit")

	env, err := a.setup()
	if err != nil {
		return err
	}

	sigs, err := env.reg.ListSignatures()
	if err != nil {
		return err
	}
	if len(sigs) == 0 {
		fmt.Println("No experiments found")
		return nil
	}

	type item struct {
		xp    *registry.Experiment
		sheep *model.SheepRecord
	}
	items := make([]item, 0, len(sigs))
	var jobIDs []string
	for _, sig := range sigs {
		xp, err := env.reg.BySignature(sig)
		if err != nil {
			a.logger.Warn().Err(err).Str("sig", sig).Msg("Failed to load experiment")
			continue
		}
		latest, err := env.reg.LatestSheep(xp)
		if err != nil {
			return err
		}
		if latest != nil {
			jobIDs = append(jobIDs, latest.JobID)
		}
		items = append(items, item{xp: xp, sheep: latest})
	}

	// One bulk query covers every experiment.
	statuses := map[string]model.JobStatus{}
	if len(jobIDs) > 0 {
		if statuses, err = env.sched.StatusBulk(jobIDs); err != nil {
			return err
		}
	}

	// Sort by creation time (newest first)
	sort.Slice(items, func(i, j int) bool {
		return items[i].xp.CreatedAt.After(items[j].xp.CreatedAt)
	})
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	fmt.Printf("\n=== Experiments (%d total) ===\n\n", len(sigs))
	for _, it := range items {
		created := it.xp.CreatedAt.Format("2006-01-02 15:04:05")
		status := model.StatusNotScheduled
		jobID := ""
		if it.sheep != nil {
			jobID = it.sheep.JobID
			status = statuses[it.sheep.JobID]
		}
		marker := "✓"
		if status == model.StatusFailed || status == model.StatusCancelled {
			marker = "✗"
		}
		fmt.Printf("%s  %s  sig=%s  state=%s", marker, created, it.xp.Sig, status)
		if jobID != "" {
			fmt.Printf("  sid=%s", jobID)
		}
		fmt.Println()
		if len(it.xp.Args.Argv) > 0 {
			fmt.Printf("   Args: %s\n", strings.Join(it.xp.Args.Argv, " "))
		}
		fmt.Printf("   %s\n", it.xp.Folder())
		fmt.Println()
	}

	fmt.Println("Inspect an experiment: shepgo info -f <SIG>")
	return nil
}
