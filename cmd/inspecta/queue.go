package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/inspecta/internal/types"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Deliver every queued write to the API",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the offline write queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued writes in delivery order",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

var queueDropCmd = &cobra.Command{
	Use:   "drop <id>",
	Short: "Discard a queued write that can never be delivered",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueDrop,
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueDropCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, _, err := a.orch.SyncOfflineData(ctx)
	if err != nil {
		return err
	}
	return printStats(cmd.OutOrStdout(), stats)
}

func runQueueList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	writes, err := a.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"writes":       writes,
			"total":        len(writes),
			"max_attempts": a.engine.MaxAttempts(),
		})
	}

	if len(writes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tKIND\tINSTANCE\tITEM\tATTEMPTS\tQUEUED\tLAST ERROR")
	for _, pw := range writes {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			pw.ID,
			pw.Kind,
			pw.InstanceKey,
			dash(pw.ItemKey),
			attempts(pw, a.engine.MaxAttempts()),
			pw.CreatedAt.Local().Format("2006-01-02 15:04"),
			dash(pw.LastError),
		)
	}
	return w.Flush()
}

func runQueueDrop(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid queue id %q", args[0])
	}

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	writes, err := a.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}
	found := false
	for _, pw := range writes {
		if pw.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("queued write %d not found", id)
	}

	if err := a.store.DiscardPending(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Discarded queued write %d.\n", id)
	return nil
}

func attempts(pw types.PendingWrite, maxAttempts int) string {
	if maxAttempts > 0 && pw.Attempts >= maxAttempts {
		return fmt.Sprintf("%d (stuck)", pw.Attempts)
	}
	return strconv.Itoa(pw.Attempts)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
