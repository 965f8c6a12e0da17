package shepherd

import "github.com/shepgo/shepgo/model"

// Action is what the rule engine decides for one experiment.
type Action int

const (
	// ActionSubmit schedules a new job for the experiment.
	ActionSubmit Action = iota
	// ActionReuse keeps the existing job.
	ActionReuse
	// ActionCancelAndReplace cancels the existing job and schedules a new one.
	ActionCancelAndReplace
	// ActionSkip leaves a failed or cancelled experiment for operator
	// inspection.
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionSubmit:
		return "submit"
	case ActionReuse:
		return "reuse"
	case ActionCancelAndReplace:
		return "replace"
	case ActionSkip:
		return "skip"
	}
	return "unknown"
}

// Decide applies the submission rules to an experiment's latest sheep and
// its freshly polled job status. Pure decision function, side effects are
// the caller's job.
//
// The freshly polled status is authoritative: a job recorded as running
// but polled as failed follows the failed branch, so retry wins over
// replace for it.
func Decide(latest *model.SheepRecord, status model.JobStatus, rules model.SubmitRules) Action {
	if latest == nil {
		return ActionSubmit
	}
	switch status {
	case model.StatusNotScheduled:
		// Scheduler has no record of the job, e.g. purged history.
		return ActionSubmit
	case model.StatusRunning, model.StatusQueued, model.StatusRequeued:
		if rules.Replace {
			return ActionCancelAndReplace
		}
		return ActionReuse
	case model.StatusCompleted:
		if rules.ReplaceDone {
			return ActionCancelAndReplace
		}
		return ActionReuse
	case model.StatusFailed, model.StatusCancelled:
		if rules.Retry {
			return ActionSubmit
		}
		return ActionSkip
	}
	return ActionReuse
}
