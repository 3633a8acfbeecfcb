package types

import (
	"encoding/json"
	"time"
)

// AnswerType is the kind of answer a checklist item expects.
type AnswerType string

const (
	AnswerText      AnswerType = "text"
	AnswerNumber    AnswerType = "number"
	AnswerBoolean   AnswerType = "boolean"
	AnswerSelection AnswerType = "selection"
)

// ValidAnswerTypes lists the accepted answer types in display order.
var ValidAnswerTypes = []string{
	string(AnswerText),
	string(AnswerNumber),
	string(AnswerBoolean),
	string(AnswerSelection),
}

// State is the lifecycle state of a checklist instance.
type State string

const (
	StatePending    State = "PENDING"
	StateInProgress State = "IN_PROGRESS"
	StatePaused     State = "PAUSED"
	StateCompleted  State = "COMPLETED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted
}

// SignatureRole identifies who signed an inspection.
type SignatureRole string

const (
	SignatureTechnician SignatureRole = "technician"
	SignatureClient     SignatureRole = "client"
)

// Item is a single question of a checklist template.
type Item struct {
	ID           int64      `json:"id"`
	QuestionText string     `json:"questionText"`
	AnswerType   AnswerType `json:"answerType"`
	Mandatory    bool       `json:"isMandatoryEffective"`
	Options      []string   `json:"options,omitempty"`
	Order        int        `json:"order"`
}

// Template is the ordered schema of questions for a service type.
// Templates are immutable once fetched.
type Template struct {
	ID         int64  `json:"id"`
	Name       string `json:"name,omitempty"`
	ServiceID  int64  `json:"serviceId,omitempty"`
	Items      []Item `json:"items"`
	TotalItems int    `json:"totalItems"`
}

// Total returns the number of items used as the progress denominator.
// The declared totalItems wins; the item count is the fallback.
func (t *Template) Total() int {
	if t == nil {
		return 0
	}
	if t.TotalItems > 0 {
		return t.TotalItems
	}
	return len(t.Items)
}

// Item looks up a template item by id.
func (t *Template) Item(id int64) (Item, bool) {
	if t == nil {
		return Item{}, false
	}
	for _, it := range t.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// MandatoryItemIDs returns the ids of every mandatory item in template order.
func (t *Template) MandatoryItemIDs() []int64 {
	if t == nil {
		return nil
	}
	var ids []int64
	for _, it := range t.Items {
		if it.Mandatory {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// MarshalJSON ensures nil slices in Template marshal as [] not null.
func (t Template) MarshalJSON() ([]byte, error) {
	if t.Items == nil {
		t.Items = []Item{}
	}
	type Alias Template
	return json.Marshal(Alias(t))
}

// Location is a best-effort geolocation fix.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Photo is a captured image attached to one item response.
// ImageRef holds the local URI until the upload succeeds, then the remote identifier.
type Photo struct {
	ID              int64     `json:"id,omitempty"`
	ImageRef        string    `json:"imageRef"`
	CaptureLocation *Location `json:"captureLocation,omitempty"`
	Description     string    `json:"description,omitempty"`
	Order           int       `json:"orderInResponse"`
}

// Uploaded reports whether the remote API has acknowledged the photo.
func (p Photo) Uploaded() bool {
	return p.ID > 0
}

// Answer holds exactly one typed answer value.
type Answer struct {
	Text      *string  `json:"textAnswer,omitempty"`
	Number    *float64 `json:"numberAnswer,omitempty"`
	Boolean   *bool    `json:"booleanAnswer,omitempty"`
	Selection *string  `json:"selectionAnswer,omitempty"`
}

// Kinds returns the answer types that carry a value.
func (a Answer) Kinds() []AnswerType {
	var kinds []AnswerType
	if a.Text != nil {
		kinds = append(kinds, AnswerText)
	}
	if a.Number != nil {
		kinds = append(kinds, AnswerNumber)
	}
	if a.Boolean != nil {
		kinds = append(kinds, AnswerBoolean)
	}
	if a.Selection != nil {
		kinds = append(kinds, AnswerSelection)
	}
	return kinds
}

// ItemResponse is the answer (plus photos) to one template item.
type ItemResponse struct {
	ID             int64 `json:"id,omitempty"`
	ItemTemplateID int64 `json:"itemTemplateId"`
	Completed      bool  `json:"completed"`
	Answer
	Photos     []Photo    `json:"photos"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
}

// MarshalJSON ensures nil slices in ItemResponse marshal as [] not null.
func (r ItemResponse) MarshalJSON() ([]byte, error) {
	if r.Photos == nil {
		r.Photos = []Photo{}
	}
	type Alias ItemResponse
	return json.Marshal(Alias(r))
}

// Instance is one order's run through a template.
// ID stays zero until the remote API has created the instance; LocalID is
// the durable local key and never changes.
type Instance struct {
	ID                  int64          `json:"id"`
	LocalID             string         `json:"localId,omitempty"`
	OrderID             int64          `json:"orderId"`
	Template            TemplateRef    `json:"template"`
	State               State          `json:"state"`
	Responses           []ItemResponse `json:"responses"`
	ProgressPercent     int            `json:"progressPercent"`
	TechnicianSignature string         `json:"technicianSignature,omitempty"`
	ClientSignature     string         `json:"clientSignature,omitempty"`
	StartedAt           *time.Time     `json:"startedAt,omitempty"`
	CompletedAt         *time.Time     `json:"completedAt,omitempty"`
	TotalMinutes        *int           `json:"totalMinutes,omitempty"`
	PendingSync         bool           `json:"pendingSync"`
}

// TemplateID returns the id of the referenced template (0 when unknown).
func (i *Instance) TemplateID() int64 {
	return i.Template.TemplateID()
}

// Remote reports whether the instance has been confirmed by the remote API.
func (i *Instance) Remote() bool {
	return i.ID > 0
}

// Response returns the response recorded for an item.
func (i *Instance) Response(itemID int64) (ItemResponse, bool) {
	for _, r := range i.Responses {
		if r.ItemTemplateID == itemID {
			return r, true
		}
	}
	return ItemResponse{}, false
}

// UpsertResponse replaces the response for the same item, or appends it.
// Responses stay unique per ItemTemplateID.
func (i *Instance) UpsertResponse(resp ItemResponse) {
	for idx, r := range i.Responses {
		if r.ItemTemplateID == resp.ItemTemplateID {
			i.Responses[idx] = resp
			return
		}
	}
	i.Responses = append(i.Responses, resp)
}

// Clone returns a deep copy safe to hand to callers.
func (i Instance) Clone() Instance {
	out := i
	out.Responses = make([]ItemResponse, len(i.Responses))
	for idx, r := range i.Responses {
		r.Photos = append([]Photo(nil), r.Photos...)
		out.Responses[idx] = r
	}
	return out
}

// UnmarshalJSON accepts either "template" (id or embedded object) or
// "templateId" as the template reference.
func (i *Instance) UnmarshalJSON(data []byte) error {
	type Alias Instance
	aux := struct {
		*Alias
		TemplateID *TemplateRef `json:"templateId,omitempty"`
	}{Alias: (*Alias)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if !i.Template.Valid() && aux.TemplateID != nil {
		i.Template = *aux.TemplateID
	}
	return nil
}

// MarshalJSON ensures nil slices in Instance marshal as [] not null.
func (i Instance) MarshalJSON() ([]byte, error) {
	if i.Responses == nil {
		i.Responses = []ItemResponse{}
	}
	type Alias Instance
	return json.Marshal(Alias(i))
}

// WriteKind identifies the remote operation a queued write replays.
type WriteKind string

const (
	WriteCreateInstance WriteKind = "createInstance"
	WriteSaveResponse   WriteKind = "saveResponse"
	WriteUploadPhoto    WriteKind = "uploadPhoto"
)

// PendingWrite is a local mutation not yet confirmed by the remote API.
// Writes sharing (InstanceKey, ItemKey, Kind) collapse to the latest payload.
type PendingWrite struct {
	ID             int64           `json:"id"`
	Kind           WriteKind       `json:"kind"`
	InstanceKey    string          `json:"instanceKey"`
	ItemKey        string          `json:"itemKey,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Revision       int             `json:"revision"`
	CreatedAt      time.Time       `json:"createdAt"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"lastError,omitempty"`
}

// LineItem is one service line of a repair order.
type LineItem struct {
	ServiceID int64  `json:"serviceId"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
}

// OrderInfo is the subset of an order needed for auto-provisioning.
type OrderInfo struct {
	ID        int64      `json:"id"`
	LineItems []LineItem `json:"lineItems"`
}

// ServiceID returns the first service bound to the order (0 when none).
func (o *OrderInfo) ServiceID() int64 {
	for _, li := range o.LineItems {
		if li.ServiceID > 0 {
			return li.ServiceID
		}
	}
	return 0
}

// FinalizationData is the payload sent to close an instance.
type FinalizationData struct {
	Responses           []ItemResponse `json:"responses"`
	TechnicianSignature string         `json:"technicianSignature,omitempty"`
	ClientSignature     string         `json:"clientSignature,omitempty"`
	StartedAt           *time.Time     `json:"startedAt,omitempty"`
	CompletedAt         time.Time      `json:"completedAt"`
	ElapsedMinutes      int            `json:"elapsedMinutes"`
	Notes               string         `json:"notes,omitempty"`
}

// FinalizeResult is the remote acknowledgement of a finalization.
type FinalizeResult struct {
	Instance     Instance `json:"instance"`
	TotalMinutes *int     `json:"totalMinutes,omitempty"`
	Message      string   `json:"message,omitempty"`
}
