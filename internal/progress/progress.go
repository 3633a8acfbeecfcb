// Package progress computes checklist completion and the finalize gate.
// Everything here is pure: no I/O, no clocks.
package progress

import (
	"fmt"
	"math"

	"github.com/hyperengineering/inspecta/internal/types"
)

// FinalizeThreshold is the minimum completion percentage required to finalize.
const FinalizeThreshold = 80

// Percent returns the share of totalItems with a completed response,
// rounded half-up to an integer in [0, 100]. Responses are deduplicated by
// ItemTemplateID, so a repeated item is counted once.
func Percent(responses []types.ItemResponse, totalItems int) int {
	if totalItems <= 0 {
		return 0
	}
	completed := CompletedCount(responses)
	pct := int(math.Round(100 * float64(completed) / float64(totalItems)))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// CompletedCount counts distinct items with completed = true.
// When an item appears more than once, the last occurrence wins.
func CompletedCount(responses []types.ItemResponse) int {
	latest := make(map[int64]bool, len(responses))
	for _, r := range responses {
		latest[r.ItemTemplateID] = r.Completed
	}
	n := 0
	for _, done := range latest {
		if done {
			n++
		}
	}
	return n
}

// Evaluation is the finalize gate computed for one instance/template pair.
type Evaluation struct {
	Percent          int      `json:"percent"`
	Completed        int      `json:"completed"`
	Total            int      `json:"total"`
	MissingMandatory []int64  `json:"missingMandatory,omitempty"`
	CanFinalize      bool     `json:"canFinalize"`
	Blockers         []string `json:"blockers,omitempty"`
}

// Evaluate applies the finalize policy:
//   - state must be IN_PROGRESS
//   - at least one response is completed
//   - every mandatory item has a completed response
//   - completion is at least FinalizeThreshold percent
//
// A template without mandatory items reduces to the threshold check.
// Responses for items the template does not list are ignored.
func Evaluate(state types.State, responses []types.ItemResponse, tmpl *types.Template) Evaluation {
	responses = listed(responses, tmpl)
	total := tmpl.Total()
	ev := Evaluation{
		Percent:   Percent(responses, total),
		Completed: CompletedCount(responses),
		Total:     total,
	}

	done := make(map[int64]bool, len(responses))
	for _, r := range responses {
		done[r.ItemTemplateID] = r.Completed
	}
	for _, id := range tmpl.MandatoryItemIDs() {
		if !done[id] {
			ev.MissingMandatory = append(ev.MissingMandatory, id)
		}
	}

	if state != types.StateInProgress {
		ev.Blockers = append(ev.Blockers, fmt.Sprintf("checklist is %s, must be %s", state, types.StateInProgress))
	}
	if ev.Completed == 0 {
		ev.Blockers = append(ev.Blockers, "no item has been completed")
	}
	if len(ev.MissingMandatory) > 0 {
		ev.Blockers = append(ev.Blockers, fmt.Sprintf("%d mandatory item(s) not completed: %v", len(ev.MissingMandatory), ev.MissingMandatory))
	}
	if ev.Percent < FinalizeThreshold {
		ev.Blockers = append(ev.Blockers, fmt.Sprintf("progress %d%% is below %d%%", ev.Percent, FinalizeThreshold))
	}

	ev.CanFinalize = len(ev.Blockers) == 0
	return ev
}

// listed drops responses whose item is not in tmpl. A template that carries
// no item list leaves responses unfiltered.
func listed(responses []types.ItemResponse, tmpl *types.Template) []types.ItemResponse {
	if tmpl == nil || len(tmpl.Items) == 0 {
		return responses
	}
	out := make([]types.ItemResponse, 0, len(responses))
	for _, r := range responses {
		if _, ok := tmpl.Item(r.ItemTemplateID); ok {
			out = append(out, r)
		}
	}
	return out
}

// CanFinalize is shorthand for Evaluate(...).CanFinalize.
func CanFinalize(state types.State, responses []types.ItemResponse, tmpl *types.Template) bool {
	return Evaluate(state, responses, tmpl).CanFinalize
}
