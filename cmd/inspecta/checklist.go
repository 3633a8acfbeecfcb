package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/inspecta/internal/checklist"
	"github.com/hyperengineering/inspecta/internal/config"
	"github.com/hyperengineering/inspecta/internal/media"
	"github.com/hyperengineering/inspecta/internal/types"
	"github.com/hyperengineering/inspecta/internal/validation"
)

var (
	orderID          int64
	checklistOffline bool
	answerIncomplete bool
	photoDescription string
	photoDirect      bool
	finalizeNotes    string
)

var checklistCmd = &cobra.Command{
	Use:   "checklist",
	Short: "Work on the checklist of a repair order",
	Long: "Resolve, fill in and finalize the inspection checklist of a repair order.\n" +
		"Answers and photos are stored locally first and synced when the API is reachable.",
}

var checklistResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Load the checklist for an order, provisioning it if needed",
	Args:  cobra.NoArgs,
	RunE:  runChecklistResolve,
}

var checklistStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the locally stored checklist without contacting the API",
	Args:  cobra.NoArgs,
	RunE:  runChecklistStatus,
}

var checklistStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the inspection",
	Args:  cobra.NoArgs,
	RunE:  transitionCmd((*checklist.Orchestrator).Start),
}

var checklistPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the inspection",
	Args:  cobra.NoArgs,
	RunE:  transitionCmd((*checklist.Orchestrator).Pause),
}

var checklistResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused inspection",
	Args:  cobra.NoArgs,
	RunE:  transitionCmd((*checklist.Orchestrator).Resume),
}

var checklistAnswerCmd = &cobra.Command{
	Use:   "answer <item-id> <value>",
	Short: "Record the answer for a checklist item",
	Args:  cobra.ExactArgs(2),
	RunE:  runChecklistAnswer,
}

var checklistPhotoCmd = &cobra.Command{
	Use:   "photo <item-id> <file>",
	Short: "Attach a photo to an answered item",
	Long: "Attach a photo to an answered item. The photo is queued and uploaded on the\n" +
		"next sync; the file must stay in place until then. Use --direct to upload now.",
	Args: cobra.ExactArgs(2),
	RunE: runChecklistPhoto,
}

var checklistSignCmd = &cobra.Command{
	Use:   "sign <technician|client> <image-file>",
	Short: "Store a signature image for the technician or the client",
	Args:  cobra.ExactArgs(2),
	RunE:  runChecklistSign,
}

var checklistFinalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Finalize the inspection once every mandatory item is answered",
	Args:  cobra.NoArgs,
	RunE:  runChecklistFinalize,
}

func init() {
	checklistCmd.PersistentFlags().Int64Var(&orderID, "order", 0, "Repair order id (required)")
	checklistCmd.PersistentFlags().BoolVar(&checklistOffline, "offline", false,
		"Use the locally stored checklist without contacting the API")
	checklistCmd.MarkPersistentFlagRequired("order")

	checklistAnswerCmd.Flags().BoolVar(&answerIncomplete, "incomplete", false,
		"Store the answer without marking the item completed")
	checklistPhotoCmd.Flags().StringVar(&photoDescription, "description", "", "Photo description")
	checklistPhotoCmd.Flags().BoolVar(&photoDirect, "direct", false,
		"Upload immediately instead of queueing")
	checklistFinalizeCmd.Flags().StringVar(&finalizeNotes, "notes", "", "Closing notes")

	checklistCmd.AddCommand(checklistResolveCmd)
	checklistCmd.AddCommand(checklistStatusCmd)
	checklistCmd.AddCommand(checklistStartCmd)
	checklistCmd.AddCommand(checklistPauseCmd)
	checklistCmd.AddCommand(checklistResumeCmd)
	checklistCmd.AddCommand(checklistAnswerCmd)
	checklistCmd.AddCommand(checklistPhotoCmd)
	checklistCmd.AddCommand(checklistSignCmd)
	checklistCmd.AddCommand(checklistFinalizeCmd)
}

// loadApp builds the application for a one-shot command. Logs go to
// stderr so they never mix with command output.
func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	return newApp(cfg, logger)
}

// openChecklist makes the order's checklist current. Online resolution
// falls back to the local copy when the API is unreachable.
func openChecklist(ctx context.Context, a *app) (*checklist.State, error) {
	if checklistOffline {
		return a.orch.ResolveLocal(ctx, orderID)
	}
	st, err := a.orch.Resolve(ctx, orderID)
	if errors.Is(err, checklist.ErrTransient) {
		slog.Warn("api unreachable, using local checklist", "order_id", orderID, "error", err)
		return a.orch.ResolveLocal(ctx, orderID)
	}
	return st, err
}

// withChecklist opens the order's checklist, requires that one applies,
// runs fn and prints the resulting state.
func withChecklist(cmd *cobra.Command, fn func(ctx context.Context, a *app, st *checklist.State) (*checklist.State, error)) error {
	ctx := context.Background()

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := openChecklist(ctx, a)
	if err != nil {
		return err
	}
	if !st.Applicable() {
		return fmt.Errorf("order %d has no checklist", orderID)
	}

	next, err := fn(ctx, a, st)
	if err != nil {
		return err
	}
	return printState(cmd.OutOrStdout(), orderID, next)
}

func runChecklistResolve(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := openChecklist(ctx, a)
	if st != nil {
		if perr := printState(cmd.OutOrStdout(), orderID, st); perr != nil {
			return perr
		}
	}
	return err
}

func runChecklistStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.orch.ResolveLocal(ctx, orderID)
	if st != nil {
		if perr := printState(cmd.OutOrStdout(), orderID, st); perr != nil {
			return perr
		}
	}
	return err
}

func transitionCmd(fn func(*checklist.Orchestrator, context.Context) (*checklist.State, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withChecklist(cmd, func(ctx context.Context, a *app, _ *checklist.State) (*checklist.State, error) {
			return fn(a.orch, ctx)
		})
	}
}

func runChecklistAnswer(cmd *cobra.Command, args []string) error {
	itemID, err := parseItemID(args[0])
	if err != nil {
		return err
	}
	return withChecklist(cmd, func(ctx context.Context, a *app, st *checklist.State) (*checklist.State, error) {
		if st.Template == nil {
			return nil, fmt.Errorf("template for order %d is not available", orderID)
		}
		item, ok := st.Template.Item(itemID)
		if !ok {
			return nil, fmt.Errorf("item %d is not part of %q", itemID, st.Template.Name)
		}
		answer, err := validation.ParseAnswer(item.AnswerType, args[1])
		if err != nil {
			return nil, err
		}
		return a.orch.SaveResponse(ctx, itemID, checklist.ResponseData{
			Completed: !answerIncomplete,
			Answer:    answer,
		})
	})
}

func runChecklistPhoto(cmd *cobra.Command, args []string) error {
	itemID, err := parseItemID(args[0])
	if err != nil {
		return err
	}
	capture := media.FileCapturer{Path: args[1]}.Capture(context.Background())
	if capture.Status != media.StatusAvailable {
		return fmt.Errorf("photo %s is %s", args[1], capture.Status)
	}

	return withChecklist(cmd, func(ctx context.Context, a *app, _ *checklist.State) (*checklist.State, error) {
		if !photoDirect {
			return a.orch.AttachPhoto(ctx, itemID, capture.Ref, photoDescription)
		}
		photo, st, err := a.orch.UploadPhoto(ctx, itemID, capture.Ref, photoDescription)
		if err != nil {
			return st, err
		}
		slog.Info("photo uploaded", "item_id", itemID, "image_ref", photo.ImageRef)
		return st, nil
	})
}

func runChecklistSign(cmd *cobra.Command, args []string) error {
	role := types.SignatureRole(args[0])
	blob, err := media.EncodeSignatureFile(args[1])
	if err != nil {
		return err
	}
	return withChecklist(cmd, func(ctx context.Context, a *app, _ *checklist.State) (*checklist.State, error) {
		return a.orch.SetSignature(ctx, role, blob)
	})
}

func runChecklistFinalize(cmd *cobra.Command, args []string) error {
	return withChecklist(cmd, func(ctx context.Context, a *app, _ *checklist.State) (*checklist.State, error) {
		return a.orch.Finalize(ctx, finalizeNotes)
	})
}

func parseItemID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item id %q", raw)
	}
	return id, nil
}
