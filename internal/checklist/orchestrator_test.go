package checklist

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/inspecta/internal/auth"
	"github.com/hyperengineering/inspecta/internal/media"
	"github.com/hyperengineering/inspecta/internal/remote"
	"github.com/hyperengineering/inspecta/internal/remote/remotetest"
	"github.com/hyperengineering/inspecta/internal/store"
	"github.com/hyperengineering/inspecta/internal/syncengine"
	"github.com/hyperengineering/inspecta/internal/templates"
	"github.com/hyperengineering/inspecta/internal/types"
)

// inspectionTemplate has 5 items, items 1 and 2 mandatory.
func inspectionTemplate() types.Template {
	return types.Template{
		ID:         9,
		Name:       "Pre-service inspection",
		TotalItems: 5,
		Items: []types.Item{
			{ID: 1, QuestionText: "Brakes responsive?", AnswerType: types.AnswerBoolean, Mandatory: true, Order: 1},
			{ID: 2, QuestionText: "Tire pressure (psi)", AnswerType: types.AnswerNumber, Mandatory: true, Order: 2},
			{ID: 3, QuestionText: "Body damage notes", AnswerType: types.AnswerText, Order: 3},
			{ID: 4, QuestionText: "Oil level", AnswerType: types.AnswerSelection, Options: []string{"low", "ok", "high"}, Order: 4},
			{ID: 5, QuestionText: "Lights working?", AnswerType: types.AnswerBoolean, Order: 5},
		},
	}
}

type fixture struct {
	api    *remotetest.Server
	store  *store.SQLiteStore
	engine *syncengine.Engine
	orch   *Orchestrator
	deps   Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := remotetest.NewServer(t)

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "inspecta.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.DiscardHandler)
	client := remote.New(api.URL, auth.NewStaticToken("test-token"), remote.WithTimeout(5*time.Second))
	pipeline := media.NewPipeline(client, nil, logger)
	engine := syncengine.New(s, client, pipeline, 3)
	deps := Deps{
		Remote:    client,
		Templates: templates.NewStore(templates.NewStoreCache(s), client, logger),
		Store:     s,
		Syncer:    engine,
		Photos:    pipeline,
		Logger:    logger,
	}
	return &fixture{api: api, store: s, engine: engine, orch: New(deps), deps: deps}
}

// provisioned resolves order 42 against service 7 bound to the inspection template.
func (f *fixture) provisioned(t *testing.T) *State {
	t.Helper()
	f.api.AddTemplate(inspectionTemplate(), 7)
	f.api.AddOrder(42, 7)
	st, err := f.orch.Resolve(context.Background(), 42)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return st
}

// started provisions order 42 and starts it.
func (f *fixture) started(t *testing.T) *State {
	t.Helper()
	f.provisioned(t)
	st, err := f.orch.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return st
}

func (f *fixture) complete(t *testing.T, itemIDs ...int64) *State {
	t.Helper()
	var st *State
	for _, id := range itemIDs {
		var err error
		st, err = f.orch.SaveResponse(context.Background(), id, answerFor(id))
		if err != nil {
			t.Fatalf("SaveResponse(%d) failed: %v", id, err)
		}
	}
	return st
}

func answerFor(itemID int64) ResponseData {
	yes, psi, note, level := true, 32.0, "scratch on rear bumper", "ok"
	switch itemID {
	case 2:
		return ResponseData{Completed: true, Answer: types.Answer{Number: &psi}}
	case 3:
		return ResponseData{Completed: true, Answer: types.Answer{Text: &note}}
	case 4:
		return ResponseData{Completed: true, Answer: types.Answer{Selection: &level}}
	default:
		return ResponseData{Completed: true, Answer: types.Answer{Boolean: &yes}}
	}
}

func TestResolve_AutoProvisionsPendingInstance(t *testing.T) {
	// Given: order 42 without an instance, its service 7 bound to a 5-item template
	f := newFixture(t)

	// When: resolving the order
	st := f.provisioned(t)

	// Then: a PENDING instance exists with 5 steps and no progress
	if !st.Applicable() {
		t.Fatal("expected a checklist")
	}
	if st.Instance.State != types.StatePending {
		t.Errorf("state = %s, want PENDING", st.Instance.State)
	}
	if st.TotalSteps != 5 {
		t.Errorf("totalSteps = %d, want 5", st.TotalSteps)
	}
	if st.Instance.ProgressPercent != 0 {
		t.Errorf("progress = %d, want 0", st.Instance.ProgressPercent)
	}
	if !st.Instance.Remote() {
		t.Error("instance should have been created remotely")
	}
	if st.Instance.PendingSync {
		t.Error("nothing should remain queued")
	}
	if n := f.api.Calls("POST /checklists/instances"); n != 1 {
		t.Errorf("create calls = %d, want 1", n)
	}
	if len(f.api.IdempotencyKeys()) == 0 {
		t.Error("create should carry an idempotency key")
	}
}

func TestResolve_NoTemplateForService(t *testing.T) {
	// Given: order 43 whose service 8 has no template
	f := newFixture(t)
	f.api.AddOrder(43, 8)

	// When
	st, err := f.orch.Resolve(context.Background(), 43)

	// Then: no checklist, no error, nothing created
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if st.Template != nil || st.Instance != nil {
		t.Errorf("expected empty state, got %+v", st)
	}
	if n := f.api.Calls("POST /checklists/instances"); n != 0 {
		t.Errorf("create calls = %d, want 0", n)
	}
}

func TestResolve_OrderWithoutService(t *testing.T) {
	f := newFixture(t)
	f.api.AddOrder(44, 0)

	st, err := f.orch.Resolve(context.Background(), 44)

	if err != nil || st.Applicable() {
		t.Errorf("expected not applicable, got state=%+v err=%v", st, err)
	}
}

func TestResolve_TransportErrorAbortsWithoutProvisioning(t *testing.T) {
	// Given: the API is unreachable
	f := newFixture(t)
	f.api.AddTemplate(inspectionTemplate(), 7)
	f.api.AddOrder(42, 7)
	f.api.SetDown(true)

	// When
	st, err := f.orch.Resolve(context.Background(), 42)

	// Then: a transient error, distinct from "not applicable"
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if st != nil {
		t.Errorf("expected nil state, got %+v", st)
	}
	if n := f.api.Calls("GET /orders/{orderId}"); n != 0 {
		t.Errorf("order lookup calls = %d, want 0", n)
	}
	if _, err := f.store.GetInstanceByOrder(context.Background(), 42); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("nothing should be stored locally, got %v", err)
	}
}

func TestResolve_ExistingInstanceWithEmbeddedTemplate(t *testing.T) {
	// Given: a remote instance whose payload embeds the template object
	f := newFixture(t)
	f.api.AddTemplate(inspectionTemplate(), 0)
	f.api.EmbedTemplates(true)
	f.api.AddInstance(types.Instance{
		OrderID:   50,
		Template:  types.RefByID(9),
		State:     types.StateInProgress,
		Responses: []types.ItemResponse{{ID: 900, ItemTemplateID: 1, Completed: true}},
	})

	// When
	st, err := f.orch.Resolve(context.Background(), 50)

	// Then
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if st.Template == nil || st.Template.ID != 9 {
		t.Fatalf("template not resolved: %+v", st.Template)
	}
	if n := f.api.Calls("GET /checklists/templates/{id}"); n != 0 {
		t.Errorf("embedded template should not be fetched again, got %d calls", n)
	}
	if st.Instance.ProgressPercent != 20 {
		t.Errorf("progress = %d, want 20", st.Instance.ProgressPercent)
	}
	if st.Instance.LocalID == "" {
		t.Error("adopted instance should be stored locally")
	}
}

func TestResolve_ExistingInstanceByTemplateID(t *testing.T) {
	f := newFixture(t)
	f.api.AddTemplate(inspectionTemplate(), 0)
	f.api.AddInstance(types.Instance{OrderID: 51, Template: types.RefByID(9), State: types.StatePending})

	st, err := f.orch.Resolve(context.Background(), 51)

	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if st.Template == nil || st.TotalSteps != 5 {
		t.Errorf("unexpected state %+v", st)
	}
	if n := f.api.Calls("GET /checklists/templates/{id}"); n != 1 {
		t.Errorf("template fetch calls = %d, want 1", n)
	}
}

func TestResolve_TemplateMissingForExistingInstance(t *testing.T) {
	// Given: an instance pointing at a template the API cannot serve
	f := newFixture(t)
	f.api.AddInstance(types.Instance{OrderID: 52, Template: types.RefByID(77), State: types.StatePending})

	// When
	st, err := f.orch.Resolve(context.Background(), 52)

	// Then: the instance is adopted and the condition is reported distinctly
	if !errors.Is(err, ErrTemplateMissing) {
		t.Fatalf("expected ErrTemplateMissing, got %v", err)
	}
	if st == nil || st.Instance == nil || !st.TemplateMissing {
		t.Fatalf("instance should still be adopted, got %+v", st)
	}
	if _, err := f.orch.SaveResponse(context.Background(), 1, answerFor(1)); !errors.Is(err, ErrTemplateMissing) {
		t.Errorf("answers cannot be validated without a template, got %v", err)
	}
}

func TestResolve_ReusesLocalInstance(t *testing.T) {
	f := newFixture(t)
	first := f.provisioned(t)

	second, err := f.orch.Resolve(context.Background(), 42)

	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if second.Instance.LocalID != first.Instance.LocalID {
		t.Errorf("local id changed: %s -> %s", first.Instance.LocalID, second.Instance.LocalID)
	}
	if n := f.api.Calls("POST /checklists/instances"); n != 1 {
		t.Errorf("create calls = %d, want 1", n)
	}
}

func TestStateMachine_Legality(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provisioned(t)

	// PENDING: only start
	for name, op := range map[string]func(context.Context) (*State, error){
		"pause":  f.orch.Pause,
		"resume": f.orch.Resume,
		"finalize": func(ctx context.Context) (*State, error) {
			return f.orch.Finalize(ctx, "")
		},
	} {
		if _, err := op(ctx); !errors.Is(err, ErrValidation) {
			t.Errorf("%s from PENDING: expected ErrValidation, got %v", name, err)
		}
	}
	if got := f.orch.Snapshot().Instance.State; got != types.StatePending {
		t.Fatalf("state mutated to %s", got)
	}

	st, err := f.orch.Start(ctx)
	if err != nil || st.Instance.State != types.StateInProgress {
		t.Fatalf("Start: state=%v err=%v", st, err)
	}
	if st.Instance.StartedAt == nil {
		t.Error("startedAt should come from the server")
	}
	if _, err := f.orch.Start(ctx); !errors.Is(err, ErrValidation) {
		t.Errorf("second start: expected ErrValidation, got %v", err)
	}
	if _, err := f.orch.Resume(ctx); !errors.Is(err, ErrValidation) {
		t.Errorf("resume from IN_PROGRESS: expected ErrValidation, got %v", err)
	}

	st, err = f.orch.Pause(ctx)
	if err != nil || st.Instance.State != types.StatePaused {
		t.Fatalf("Pause: state=%v err=%v", st, err)
	}
	if _, err := f.orch.SaveResponse(ctx, 1, answerFor(1)); err != nil {
		t.Errorf("saving while paused should be allowed: %v", err)
	}

	st, err = f.orch.Resume(ctx)
	if err != nil || st.Instance.State != types.StateInProgress {
		t.Fatalf("Resume: state=%v err=%v", st, err)
	}
	if remoteInst, _ := f.api.Instance(42); remoteInst.State != types.StateInProgress {
		t.Errorf("remote state = %s", remoteInst.State)
	}
}

func TestStart_InvalidInstanceIDIsIntegrityError(t *testing.T) {
	// Given: the server answers start without a valid id
	f := newFixture(t)
	f.provisioned(t)
	f.api.ZeroIDOnTransition(true)

	// When
	_, err := f.orch.Start(context.Background())

	// Then: rejected as invalid and the prior state kept
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
	if got := f.orch.Snapshot().Instance.State; got != types.StatePending {
		t.Errorf("state = %s, want PENDING", got)
	}
}

func TestStart_NullInstanceIsIntegrityError(t *testing.T) {
	// Given: the server acknowledges start with no instance at all
	f := newFixture(t)
	f.provisioned(t)
	f.api.NullDataOnTransition(true)

	// When
	_, err := f.orch.Start(context.Background())

	// Then: reported as an integrity failure, not a rejection
	if !errors.Is(err, ErrIntegrity) || errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrIntegrity only, got %v", err)
	}
	if got := f.orch.Snapshot().Instance.State; got != types.StatePending {
		t.Errorf("state = %s, want PENDING", got)
	}
}

func TestTransition_FailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.started(t)
	f.api.SetDown(true)

	_, err := f.orch.Pause(context.Background())

	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if got := f.orch.Snapshot().Instance.State; got != types.StateInProgress {
		t.Errorf("state = %s, want IN_PROGRESS", got)
	}
}

func TestSaveResponse_Idempotent(t *testing.T) {
	// Given
	f := newFixture(t)
	f.started(t)

	// When: saving the same answer twice
	first := f.complete(t, 1)
	second := f.complete(t, 1)

	// Then: one response, unchanged progress
	if len(second.Instance.Responses) != 1 {
		t.Errorf("responses = %d, want 1", len(second.Instance.Responses))
	}
	if first.Instance.ProgressPercent != second.Instance.ProgressPercent {
		t.Errorf("progress changed %d -> %d", first.Instance.ProgressPercent, second.Instance.ProgressPercent)
	}
	remoteInst, _ := f.api.Instance(42)
	if len(remoteInst.Responses) != 1 {
		t.Errorf("remote responses = %d, want 1", len(remoteInst.Responses))
	}
}

func TestSaveResponse_ProgressMonotonic(t *testing.T) {
	f := newFixture(t)
	f.started(t)

	prev := 0
	for k, id := range []int64{3, 5, 1, 4, 2} {
		st := f.complete(t, id)
		got := st.Instance.ProgressPercent
		if want := 20 * (k + 1); got != want {
			t.Errorf("after %d completions progress = %d, want %d", k+1, got, want)
		}
		if got < prev {
			t.Errorf("progress decreased %d -> %d", prev, got)
		}
		prev = got
		if st.CompletedSteps != k+1 {
			t.Errorf("completedSteps = %d, want %d", st.CompletedSteps, k+1)
		}
	}
}

func TestSaveResponse_OfflineThenSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.started(t)

	// Given: the network is down
	f.api.SetDown(true)

	// When: saving item 3
	st, err := f.orch.SaveResponse(ctx, 3, answerFor(3))

	// Then: success with the write pending
	if err != nil {
		t.Fatalf("offline save must succeed, got %v", err)
	}
	if !st.Instance.PendingSync {
		t.Error("pendingSync should be true while offline")
	}
	if resp, ok := st.Instance.Response(3); !ok || !resp.Completed {
		t.Error("response should be visible locally")
	}

	// When: the network comes back and the queue is flushed
	f.api.SetDown(false)
	stats, st, err := f.orch.SyncOfflineData(ctx)

	// Then
	if err != nil {
		t.Fatalf("SyncOfflineData failed: %v", err)
	}
	if stats.Pushed != 1 || stats.Remaining != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if st.Instance.PendingSync {
		t.Error("pendingSync should be cleared")
	}
	remoteInst, _ := f.api.Instance(42)
	if resp, ok := remoteInst.Response(3); !ok || !resp.Completed {
		t.Error("remote instance should reflect item 3 as completed")
	}
}

func TestSaveResponse_OfflineBeforeStart(t *testing.T) {
	// Given: a PENDING checklist and no network
	ctx := context.Background()
	f := newFixture(t)
	f.provisioned(t)
	f.api.SetDown(true)

	// When
	st, err := f.orch.SaveResponse(ctx, 1, answerFor(1))

	// Then
	if err != nil || !st.Instance.PendingSync {
		t.Fatalf("state=%+v err=%v", st, err)
	}
	if n, _ := f.engine.Pending(ctx, st.Instance.LocalID); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
}

func TestSaveResponse_RejectedIsReverted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.started(t)
	f.api.RejectResponse(4, "option retired for this service")

	_, err := f.orch.SaveResponse(ctx, 4, answerFor(4))

	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "option retired for this service") {
		t.Errorf("server message should be surfaced verbatim: %v", err)
	}
	st := f.orch.Snapshot()
	if _, ok := st.Instance.Response(4); ok {
		t.Error("rejected response should be reverted")
	}
	if st.Instance.PendingSync {
		t.Error("rejected write should not stay queued")
	}
	if _, err := f.store.GetResponse(ctx, st.Instance.LocalID, 4); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("stored response should be removed, got %v", err)
	}
}

func TestSaveResponse_Validation(t *testing.T) {
	f := newFixture(t)
	f.started(t)
	wrongType, bad := "yes", "maybe"

	tests := []struct {
		name   string
		itemID int64
		data   ResponseData
	}{
		{"unknown item", 99, answerFor(1)},
		{"text for boolean item", 1, ResponseData{Completed: true, Answer: types.Answer{Text: &wrongType}}},
		{"selection outside options", 4, ResponseData{Completed: true, Answer: types.Answer{Selection: &bad}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.orch.SaveResponse(context.Background(), tt.itemID, tt.data); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
	if n := f.api.Calls("POST /checklists/instances/{id}/responses"); n != 0 {
		t.Errorf("invalid answers must not reach the API, got %d calls", n)
	}
}

func TestFinalizeGating_MandatoryItemsFirst(t *testing.T) {
	f := newFixture(t)
	f.started(t)

	// 3 optional items: 60%, mandatory missing
	f.complete(t, 3, 4, 5)
	if f.orch.CanFinalize() {
		t.Error("cannot finalize with mandatory items missing")
	}

	// one mandatory item: 80%, still one mandatory missing
	f.complete(t, 1)
	if f.orch.CanFinalize() {
		t.Error("cannot finalize while mandatory item 2 is missing")
	}
	blockers := strings.Join(f.orch.FinalizeBlockers(), "; ")
	if !strings.Contains(blockers, "[2]") {
		t.Errorf("blockers should name item 2: %q", blockers)
	}

	f.complete(t, 2)
	if !f.orch.CanFinalize() {
		t.Errorf("should finalize, blockers: %v", f.orch.FinalizeBlockers())
	}
}

func TestFinalizeGating_ThresholdWithMandatoryDone(t *testing.T) {
	f := newFixture(t)
	f.started(t)

	f.complete(t, 1, 2, 3)
	if f.orch.CanFinalize() {
		t.Error("60% is below the threshold")
	}
	f.complete(t, 4)
	if !f.orch.CanFinalize() {
		t.Errorf("80%% with mandatory items done should finalize: %v", f.orch.FinalizeBlockers())
	}
}

func TestFinalizeGating_NoMandatoryItems(t *testing.T) {
	f := newFixture(t)
	tmpl := inspectionTemplate()
	for i := range tmpl.Items {
		tmpl.Items[i].Mandatory = false
	}
	f.api.AddTemplate(tmpl, 7)
	f.api.AddOrder(42, 7)
	if _, err := f.orch.Resolve(context.Background(), 42); err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	f.complete(t, 3, 4, 5)
	if f.orch.CanFinalize() {
		t.Error("60% is below the threshold")
	}
	f.complete(t, 1)
	if !f.orch.CanFinalize() {
		t.Errorf("80%% without mandatory items should finalize: %v", f.orch.FinalizeBlockers())
	}
}

func TestFinalize_RefusedLocallyBeforeNetwork(t *testing.T) {
	f := newFixture(t)
	f.started(t)
	f.complete(t, 3)

	_, err := f.orch.Finalize(context.Background(), "")

	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if n := f.api.Calls("POST /checklists/instances/{id}/finalize"); n != 0 {
		t.Errorf("finalize calls = %d, want 0", n)
	}
}

func TestFinalize_CompletesFromServerState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.started(t)
	f.complete(t, 1, 2, 3, 4)
	sig := "data:image/png;base64,iVBORw0KGgo="
	if _, err := f.orch.SetSignature(ctx, types.SignatureTechnician, sig); err != nil {
		t.Fatalf("SetSignature failed: %v", err)
	}

	st, err := f.orch.Finalize(ctx, "all good")

	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if st.Instance.State != types.StateCompleted || st.Instance.ProgressPercent != 100 {
		t.Errorf("state=%s progress=%d", st.Instance.State, st.Instance.ProgressPercent)
	}
	if st.Instance.TotalMinutes == nil {
		t.Error("totalMinutes should come from the server")
	}
	remoteInst, _ := f.api.Instance(42)
	if remoteInst.State != types.StateCompleted || remoteInst.TechnicianSignature != sig {
		t.Errorf("remote instance not finalized: state=%s", remoteInst.State)
	}
	stored, err := f.store.GetInstance(ctx, st.Instance.LocalID)
	if err != nil || stored.State != types.StateCompleted {
		t.Errorf("stored state = %v err=%v", stored, err)
	}

	if _, err := f.orch.SaveResponse(ctx, 5, answerFor(5)); !errors.Is(err, ErrValidation) {
		t.Errorf("completed checklist must reject edits, got %v", err)
	}
}

func TestFinalize_FailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	f.started(t)
	f.complete(t, 1, 2, 3, 4)
	f.api.SetDown(true)

	_, err := f.orch.Finalize(context.Background(), "")

	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	st := f.orch.Snapshot()
	if st.Instance.State != types.StateInProgress || st.Instance.ProgressPercent != 80 {
		t.Errorf("state=%s progress=%d", st.Instance.State, st.Instance.ProgressPercent)
	}
}

func writePhoto(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bumper.jpg")
	if err := os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF, 0xE0, 'J', 'F', 'I', 'F'}, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAttachPhoto_ReplacesLocalReference(t *testing.T) {
	// Given
	ctx := context.Background()
	f := newFixture(t)
	f.started(t)
	ref := media.Ref{URI: "file://" + writePhoto(t), MimeType: "image/jpeg"}

	// When: attaching a photo to an unanswered item
	st, err := f.orch.AttachPhoto(ctx, 3, ref, "rear bumper")

	// Then: the uploaded record replaced the local URI
	if err != nil {
		t.Fatalf("AttachPhoto failed: %v", err)
	}
	resp, ok := st.Instance.Response(3)
	if !ok || len(resp.Photos) != 1 {
		t.Fatalf("expected one photo, got %+v", resp)
	}
	if !resp.Photos[0].Uploaded() || !strings.HasPrefix(resp.Photos[0].ImageRef, "photos/") {
		t.Errorf("photo not replaced by remote record: %+v", resp.Photos[0])
	}
	if resp.Completed {
		t.Error("a photo alone does not complete the item")
	}
	remoteInst, _ := f.api.Instance(42)
	if r, _ := remoteInst.Response(3); len(r.Photos) != 1 {
		t.Errorf("remote response photos = %d, want 1", len(r.Photos))
	}
}

func TestAttachPhoto_OfflineKeepsLocalURI(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.started(t)
	f.api.SetDown(true)
	uri := "file://" + writePhoto(t)

	st, err := f.orch.AttachPhoto(ctx, 3, media.Ref{URI: uri}, "")

	if err != nil {
		t.Fatalf("AttachPhoto failed: %v", err)
	}
	resp, _ := st.Instance.Response(3)
	if len(resp.Photos) != 1 || resp.Photos[0].ImageRef != uri {
		t.Errorf("expected local URI kept, got %+v", resp.Photos)
	}
	if !st.Instance.PendingSync {
		t.Error("photo should be pending")
	}

	f.api.SetDown(false)
	_, st, err = f.orch.SyncOfflineData(ctx)
	if err != nil {
		t.Fatal(err)
	}
	resp, _ = st.Instance.Response(3)
	if len(resp.Photos) != 1 || !resp.Photos[0].Uploaded() {
		t.Errorf("photo should be uploaded after sync: %+v", resp.Photos)
	}
	if st.Instance.PendingSync {
		t.Error("queue should be drained")
	}
}

func TestUploadPhoto_RequiresSyncedResponse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.started(t)
	ref := media.Ref{URI: "file://" + writePhoto(t), MimeType: "image/jpeg"}

	if _, _, err := f.orch.UploadPhoto(ctx, 3, ref, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation without a response, got %v", err)
	}

	f.complete(t, 3)
	photo, st, err := f.orch.UploadPhoto(ctx, 3, ref, "close-up")
	if err != nil {
		t.Fatalf("UploadPhoto failed: %v", err)
	}
	if photo.ID == 0 || photo.Description != "close-up" {
		t.Errorf("unexpected photo %+v", photo)
	}
	if resp, _ := st.Instance.Response(3); len(resp.Photos) != 1 {
		t.Errorf("photos = %d, want 1", len(resp.Photos))
	}
}

func TestUploadPhoto_FailureDoesNotMutateResponse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.started(t)
	f.complete(t, 3)

	_, _, err := f.orch.UploadPhoto(ctx, 3, media.Ref{URI: "file:///nonexistent/photo.jpg"}, "")

	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	resp, _ := f.orch.Snapshot().Instance.Response(3)
	if len(resp.Photos) != 0 {
		t.Errorf("response mutated: %+v", resp.Photos)
	}
}

func TestSetSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.started(t)

	if _, err := f.orch.SetSignature(ctx, types.SignatureClient, "data:image/png;base64,@@@"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for bad base64, got %v", err)
	}
	if _, err := f.orch.SetSignature(ctx, types.SignatureRole("witness"), "blob"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for unknown role, got %v", err)
	}

	st, err := f.orch.SetSignature(ctx, types.SignatureClient, "opaque-signature")
	if err != nil {
		t.Fatalf("SetSignature failed: %v", err)
	}
	if st.Instance.ClientSignature != "opaque-signature" {
		t.Errorf("client signature = %q", st.Instance.ClientSignature)
	}
}

func TestResolveLocal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.started(t)
	f.complete(t, 1)
	f.api.SetDown(true)

	// A fresh orchestrator over the same store, fully offline.
	offline := New(f.deps)
	st, err := offline.ResolveLocal(ctx, 42)

	if err != nil {
		t.Fatalf("ResolveLocal failed: %v", err)
	}
	if st.Template == nil || st.Instance.State != types.StateInProgress || st.Instance.ProgressPercent != 20 {
		t.Errorf("unexpected state %+v", st)
	}

	if _, err := offline.ResolveLocal(ctx, 999); !errors.Is(err, ErrTransient) {
		t.Errorf("unknown order offline: expected ErrTransient, got %v", err)
	}
}

func TestOperationsWithoutResolve(t *testing.T) {
	f := newFixture(t)

	if _, err := f.orch.Start(context.Background()); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if f.orch.CanFinalize() {
		t.Error("nothing to finalize")
	}
	if got := f.orch.FinalizeBlockers(); len(got) != 1 {
		t.Errorf("blockers = %v", got)
	}
}
