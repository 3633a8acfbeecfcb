package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hyperengineering/inspecta/internal/checklist"
	"github.com/hyperengineering/inspecta/internal/syncengine"
)

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// printState writes a checklist state as JSON or as a readable summary.
func printState(w io.Writer, orderID int64, st *checklist.State) error {
	if jsonOutput {
		return printJSON(w, st)
	}
	if !st.Applicable() {
		fmt.Fprintf(w, "Order %d has no checklist.\n", orderID)
		return nil
	}

	inst := st.Instance
	id := "not created remotely"
	if inst.Remote() {
		id = fmt.Sprintf("%d", inst.ID)
	}
	fmt.Fprintf(w, "Order:     %d\n", inst.OrderID)
	fmt.Fprintf(w, "Instance:  %s (local %s)\n", id, inst.LocalID)
	fmt.Fprintf(w, "State:     %s\n", inst.State)
	fmt.Fprintf(w, "Progress:  %d%% (%d/%d steps)\n", inst.ProgressPercent, st.CompletedSteps, st.TotalSteps)
	if inst.PendingSync {
		fmt.Fprintln(w, "Sync:      pending")
	} else {
		fmt.Fprintln(w, "Sync:      up to date")
	}
	switch {
	case st.CanFinalize:
		fmt.Fprintln(w, "Finalize:  ready")
	case len(st.Blockers) > 0:
		fmt.Fprintf(w, "Finalize:  blocked (%s)\n", strings.Join(st.Blockers, "; "))
	}

	if st.Template == nil {
		fmt.Fprintf(w, "Template %d is not available locally.\n", inst.TemplateID())
		return nil
	}

	fmt.Fprintf(w, "\n%s\n", st.Template.Name)
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "ITEM\tTYPE\tMANDATORY\tDONE\tQUESTION")
	for _, item := range st.Template.Items {
		done := "-"
		if resp, ok := inst.Response(item.ID); ok && resp.Completed {
			done = "yes"
		}
		mandatory := "no"
		if item.Mandatory {
			mandatory = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", item.ID, item.AnswerType, mandatory, done, item.QuestionText)
	}
	return tw.Flush()
}

func printStats(w io.Writer, stats *syncengine.SyncStats) error {
	if jsonOutput {
		return printJSON(w, stats)
	}
	if stats == nil {
		return nil
	}
	fmt.Fprintf(w, "Pushed %d of %d queued writes in %s.\n", stats.Pushed, stats.Attempted, stats.Duration.Round(time.Millisecond))
	if stats.Failed > 0 || stats.Skipped > 0 {
		fmt.Fprintf(w, "Failed: %d, deferred: %d\n", stats.Failed, stats.Skipped)
	}
	if stats.Discarded > 0 {
		fmt.Fprintf(w, "Discarded after rejection: %d\n", stats.Discarded)
	}
	if stats.Stuck > 0 {
		fmt.Fprintf(w, "Stuck after max attempts: %d (see 'inspecta queue list')\n", stats.Stuck)
	}
	fmt.Fprintf(w, "Remaining: %d\n", stats.Remaining)
	return nil
}
