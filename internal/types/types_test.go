package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTemplateRef_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantID       int64
		wantEmbedded bool
		wantErr      bool
	}{
		{name: "bare number", input: `12`, wantID: 12},
		{name: "numeric string", input: `"34"`, wantID: 34},
		{name: "embedded object", input: `{"id":56,"items":[{"id":1,"answerType":"text"}],"totalItems":1}`, wantID: 56, wantEmbedded: true},
		{name: "null", input: `null`, wantID: 0},
		{name: "empty string", input: `""`, wantID: 0},
		{name: "non numeric string", input: `"abc"`, wantErr: true},
		{name: "boolean", input: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ref TemplateRef
			err := json.Unmarshal([]byte(tt.input), &ref)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref.TemplateID() != tt.wantID {
				t.Errorf("TemplateID() = %d, want %d", ref.TemplateID(), tt.wantID)
			}
			if (ref.Embedded != nil) != tt.wantEmbedded {
				t.Errorf("Embedded present = %v, want %v", ref.Embedded != nil, tt.wantEmbedded)
			}
		})
	}
}

func TestTemplateRef_MarshalJSON_EmitsBareID(t *testing.T) {
	ref := RefEmbedded(&Template{ID: 9})
	data, err := json.Marshal(ref)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "9" {
		t.Errorf("expected 9, got %s", data)
	}

	data, err = json.Marshal(TemplateRef{})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "null" {
		t.Errorf("expected null, got %s", data)
	}
}

func TestInstance_UnmarshalJSON_TemplateIDFallback(t *testing.T) {
	var inst Instance
	if err := json.Unmarshal([]byte(`{"id":3,"orderId":42,"templateId":"8","state":"PENDING"}`), &inst); err != nil {
		t.Fatal(err)
	}
	if inst.TemplateID() != 8 {
		t.Errorf("TemplateID() = %d, want 8", inst.TemplateID())
	}
	if inst.OrderID != 42 || inst.State != StatePending {
		t.Errorf("unexpected instance: %+v", inst)
	}
}

func TestInstance_UnmarshalJSON_TemplateWins(t *testing.T) {
	var inst Instance
	data := `{"id":3,"template":{"id":5,"items":[]},"templateId":6}`
	if err := json.Unmarshal([]byte(data), &inst); err != nil {
		t.Fatal(err)
	}
	if inst.TemplateID() != 5 {
		t.Errorf("TemplateID() = %d, want 5", inst.TemplateID())
	}
	if inst.Template.Embedded == nil {
		t.Error("expected embedded template to be kept")
	}
}

func TestInstance_UpsertResponse_ReplacesByItem(t *testing.T) {
	inst := Instance{}
	text := "ok"
	inst.UpsertResponse(ItemResponse{ItemTemplateID: 1, Completed: false})
	inst.UpsertResponse(ItemResponse{ItemTemplateID: 2, Completed: true})
	inst.UpsertResponse(ItemResponse{ItemTemplateID: 1, Completed: true, Answer: Answer{Text: &text}})

	if len(inst.Responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(inst.Responses))
	}
	got, ok := inst.Response(1)
	if !ok || !got.Completed || got.Text == nil || *got.Text != "ok" {
		t.Errorf("item 1 not replaced: %+v", got)
	}
}

func TestInstance_Clone_IsDeep(t *testing.T) {
	inst := Instance{Responses: []ItemResponse{{ItemTemplateID: 1, Photos: []Photo{{ImageRef: "file:///a.jpg"}}}}}
	cp := inst.Clone()
	cp.Responses[0].Photos[0].ImageRef = "changed"
	cp.Responses[0].Completed = true

	if inst.Responses[0].Photos[0].ImageRef != "file:///a.jpg" {
		t.Error("clone shares photo slice with original")
	}
	if inst.Responses[0].Completed {
		t.Error("clone shares response slice with original")
	}
}

func TestInstance_MarshalJSON_NilResponses(t *testing.T) {
	data, err := json.Marshal(Instance{OrderID: 1, State: StatePending})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"responses":[]`) {
		t.Errorf("expected empty responses array, got %s", data)
	}
	if !strings.Contains(string(data), `"template":null`) {
		t.Errorf("expected null template, got %s", data)
	}
}

func TestItemResponse_MarshalJSON_InlinesAnswer(t *testing.T) {
	n := 12.5
	data, err := json.Marshal(ItemResponse{ItemTemplateID: 4, Completed: true, Answer: Answer{Number: &n}})
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if !strings.Contains(s, `"numberAnswer":12.5`) {
		t.Errorf("expected inlined numberAnswer, got %s", s)
	}
	if !strings.Contains(s, `"photos":[]`) {
		t.Errorf("expected empty photos array, got %s", s)
	}
	if strings.Contains(s, "textAnswer") {
		t.Errorf("unset answers must be omitted, got %s", s)
	}
}

func TestTemplate_TotalAndMandatory(t *testing.T) {
	tmpl := &Template{
		Items: []Item{
			{ID: 1, Mandatory: true},
			{ID: 2},
			{ID: 3, Mandatory: true},
		},
	}
	if tmpl.Total() != 3 {
		t.Errorf("Total() = %d, want 3", tmpl.Total())
	}
	tmpl.TotalItems = 5
	if tmpl.Total() != 5 {
		t.Errorf("Total() with declared totalItems = %d, want 5", tmpl.Total())
	}
	ids := tmpl.MandatoryItemIDs()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Errorf("MandatoryItemIDs() = %v", ids)
	}

	var nilTmpl *Template
	if nilTmpl.Total() != 0 {
		t.Error("nil template must have zero total")
	}
}

func TestAnswer_Kinds(t *testing.T) {
	b := true
	s := "A"
	kinds := Answer{Boolean: &b, Selection: &s}.Kinds()
	if len(kinds) != 2 || kinds[0] != AnswerBoolean || kinds[1] != AnswerSelection {
		t.Errorf("Kinds() = %v", kinds)
	}
	if len(Answer{}.Kinds()) != 0 {
		t.Error("empty answer must have no kinds")
	}
}

func TestOrderInfo_ServiceID(t *testing.T) {
	o := OrderInfo{LineItems: []LineItem{{ServiceID: 0}, {ServiceID: 7}, {ServiceID: 9}}}
	if o.ServiceID() != 7 {
		t.Errorf("ServiceID() = %d, want 7", o.ServiceID())
	}
	empty := OrderInfo{}
	if empty.ServiceID() != 0 {
		t.Error("order without line items must have no service")
	}
}

func TestState_Terminal(t *testing.T) {
	if !StateCompleted.Terminal() {
		t.Error("COMPLETED must be terminal")
	}
	for _, s := range []State{StatePending, StateInProgress, StatePaused} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}
