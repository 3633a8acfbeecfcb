package checklist

import (
	"time"

	"github.com/hyperengineering/inspecta/internal/progress"
	"github.com/hyperengineering/inspecta/internal/types"
)

// Action is a lifecycle transition request.
type Action string

const (
	ActionStart    Action = "start"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionFinalize Action = "finalize"
)

var transitions = map[Action]struct{ from, to types.State }{
	ActionStart:    {types.StatePending, types.StateInProgress},
	ActionPause:    {types.StateInProgress, types.StatePaused},
	ActionResume:   {types.StatePaused, types.StateInProgress},
	ActionFinalize: {types.StateInProgress, types.StateCompleted},
}

// Next returns the state an action leads to from the given state, or an
// ErrValidation error when the action is not legal there.
func Next(from types.State, action Action) (types.State, error) {
	t, ok := transitions[action]
	if !ok {
		return from, validationErr(string(action), "unknown action")
	}
	if from != t.from {
		return from, validationErr(string(action), "not allowed from state %s (requires %s)", from, t.from)
	}
	return t.to, nil
}

// withProgress returns a copy of inst with progressPercent recomputed from
// the template. Completed instances keep the server's value.
func withProgress(inst types.Instance, tmpl *types.Template) types.Instance {
	out := inst.Clone()
	if tmpl != nil && out.State != types.StateCompleted {
		out.ProgressPercent = progress.Percent(out.Responses, tmpl.Total())
	}
	return out
}

// withResponse returns a copy of inst with resp replacing any response for
// the same item, progress recomputed.
func withResponse(inst types.Instance, resp types.ItemResponse, tmpl *types.Template) types.Instance {
	out := inst.Clone()
	out.UpsertResponse(resp)
	return withProgress(out, tmpl)
}

// withoutResponse returns a copy of inst with the item's response removed.
func withoutResponse(inst types.Instance, itemID int64, tmpl *types.Template) types.Instance {
	out := inst.Clone()
	kept := out.Responses[:0]
	for _, r := range out.Responses {
		if r.ItemTemplateID != itemID {
			kept = append(kept, r)
		}
	}
	out.Responses = kept
	return withProgress(out, tmpl)
}

// completed returns the terminal copy of inst after a successful finalize.
func completed(inst types.Instance, at time.Time, totalMinutes *int) types.Instance {
	out := inst.Clone()
	out.State = types.StateCompleted
	out.ProgressPercent = 100
	if out.CompletedAt == nil {
		out.CompletedAt = &at
	}
	if totalMinutes != nil {
		m := *totalMinutes
		out.TotalMinutes = &m
	}
	return out
}

// elapsedMinutes is completedAt - startedAt in whole minutes, zero when the
// start time is unknown or after the end time.
func elapsedMinutes(startedAt *time.Time, completedAt time.Time) int {
	if startedAt == nil || completedAt.Before(*startedAt) {
		return 0
	}
	return int(completedAt.Sub(*startedAt) / time.Minute)
}
