// Package remotetest provides an in-memory checklist API for tests.
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/inspecta/internal/types"
)

// Server is an httptest server speaking the checklist wire contract.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	down        bool
	zeroID      bool
	nullData    bool
	embed       bool
	nextID      int64
	templates   map[int64]types.Template
	byService   map[int64]int64
	orders      map[int64]types.OrderInfo
	instances   map[int64]*types.Instance // by order id
	rejections  map[int64]string          // item id -> message
	calls       map[string]int
	idempotency []string
}

// NewServer starts a fake API closed at test cleanup.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		nextID:     100,
		templates:  make(map[int64]types.Template),
		byService:  make(map[int64]int64),
		orders:     make(map[int64]types.OrderInfo),
		instances:  make(map[int64]*types.Instance),
		rejections: make(map[int64]string),
		calls:      make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /checklists/instances/order/{orderId}", s.getInstanceByOrder)
	mux.HandleFunc("GET /checklists/templates/{id}", s.getTemplate)
	mux.HandleFunc("GET /checklists/templates/service/{serviceId}", s.getTemplateByService)
	mux.HandleFunc("POST /checklists/instances", s.createInstance)
	mux.HandleFunc("POST /checklists/instances/{id}/responses", s.saveResponse)
	mux.HandleFunc("POST /checklists/instances/{id}/finalize", s.finalize)
	mux.HandleFunc("POST /checklists/instances/{id}/{action}", s.transition)
	mux.HandleFunc("POST /checklists/photos", s.uploadPhoto)
	mux.HandleFunc("GET /orders/{orderId}", s.getOrder)

	s.Server = httptest.NewServer(s.gate(mux))
	t.Cleanup(s.Close)
	return s
}

// AddTemplate registers a template, bound to serviceID when it is non-zero.
func (s *Server) AddTemplate(tmpl types.Template, serviceID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tmpl.ID] = tmpl
	if serviceID > 0 {
		s.byService[serviceID] = tmpl.ID
	}
}

// AddOrder registers an order bound to one service (0 for none).
func (s *Server) AddOrder(orderID, serviceID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := types.OrderInfo{ID: orderID}
	if serviceID > 0 {
		info.LineItems = []types.LineItem{{ServiceID: serviceID, Quantity: 1}}
	}
	s.orders[orderID] = info
}

// AddInstance registers an existing remote instance and returns its id.
func (s *Server) AddInstance(inst types.Instance) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst.ID == 0 {
		s.nextID++
		inst.ID = s.nextID
	}
	clone := inst.Clone()
	s.instances[inst.OrderID] = &clone
	return inst.ID
}

// SetDown makes every request fail with 503 while true.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// RejectResponse makes saving a response for itemID fail with message.
func (s *Server) RejectResponse(itemID int64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections[itemID] = message
}

// ZeroIDOnTransition makes transitions answer with an instance lacking an id.
func (s *Server) ZeroIDOnTransition(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zeroID = on
}

// NullDataOnTransition makes transitions succeed with a null data field.
func (s *Server) NullDataOnTransition(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nullData = on
}

// EmbedTemplates makes instance payloads carry the full template object
// instead of its id.
func (s *Server) EmbedTemplates(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embed = on
}

// Instance returns a copy of the remote instance for an order.
func (s *Server) Instance(orderID int64) (types.Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[orderID]
	if !ok {
		return types.Instance{}, false
	}
	return inst.Clone(), true
}

// Calls returns how many requests matched a route pattern, e.g.
// "POST /checklists/instances".
func (s *Server) Calls(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[pattern]
}

// IdempotencyKeys returns every Idempotency-Key header received.
func (s *Server) IdempotencyKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.idempotency...)
}

func (s *Server) gate(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := next.Handler(r)
		s.mu.Lock()
		down := s.down
		s.calls[pattern]++
		if key := r.Header.Get("Idempotency-Key"); key != "" {
			s.idempotency = append(s.idempotency, key)
		}
		s.mu.Unlock()

		if down {
			writeEnvelope(w, http.StatusServiceUnavailable, false, nil, "service unavailable")
			return
		}
		if r.Header.Get("Authorization") == "" {
			writeEnvelope(w, http.StatusUnauthorized, false, nil, "missing credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": success, "data": data, "message": message})
}

func pathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id
}

// wire renders an instance the way the API does, locked by the caller.
func (s *Server) wire(inst *types.Instance) any {
	out := inst.Clone()
	if !s.embed {
		return out
	}
	tmpl, ok := s.templates[inst.TemplateID()]
	if !ok {
		return out
	}
	data, _ := json.Marshal(out)
	var m map[string]any
	json.Unmarshal(data, &m)
	m["template"] = tmpl
	return m
}

func (s *Server) byID(id int64) *types.Instance {
	for _, inst := range s.instances {
		if inst.ID == id {
			return inst
		}
	}
	return nil
}

func (s *Server) getInstanceByOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[pathID(r, "orderId")]
	if !ok {
		writeEnvelope(w, http.StatusNotFound, false, nil, "checklist not found")
		return
	}
	writeEnvelope(w, http.StatusOK, true, s.wire(inst), "")
}

func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl, ok := s.templates[pathID(r, "id")]
	if !ok {
		writeEnvelope(w, http.StatusNotFound, false, nil, "template not found")
		return
	}
	writeEnvelope(w, http.StatusOK, true, tmpl, "")
}

func (s *Server) getTemplateByService(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byService[pathID(r, "serviceId")]
	if !ok {
		writeEnvelope(w, http.StatusNotFound, false, nil, "no template for service")
		return
	}
	writeEnvelope(w, http.StatusOK, true, s.templates[id], "")
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.orders[pathID(r, "orderId")]
	if !ok {
		writeEnvelope(w, http.StatusNotFound, false, nil, "order not found")
		return
	}
	writeEnvelope(w, http.StatusOK, true, info, "")
}

func (s *Server) createInstance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID    int64 `json:"orderId"`
		TemplateID int64 `json:"templateId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, false, nil, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.instances[req.OrderID]; ok {
		writeEnvelope(w, http.StatusOK, true, s.wire(existing), "")
		return
	}
	if _, ok := s.templates[req.TemplateID]; !ok {
		writeEnvelope(w, http.StatusUnprocessableEntity, false, nil, "unknown template")
		return
	}
	s.nextID++
	inst := &types.Instance{
		ID:       s.nextID,
		OrderID:  req.OrderID,
		Template: types.RefByID(req.TemplateID),
		State:    types.StatePending,
	}
	s.instances[req.OrderID] = inst
	writeEnvelope(w, http.StatusCreated, true, s.wire(inst), "")
}

var legal = map[string][2]types.State{
	"start":  {types.StatePending, types.StateInProgress},
	"pause":  {types.StateInProgress, types.StatePaused},
	"resume": {types.StatePaused, types.StateInProgress},
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst := s.byID(pathID(r, "id"))
	if inst == nil {
		writeEnvelope(w, http.StatusNotFound, false, nil, "instance not found")
		return
	}
	t, ok := legal[r.PathValue("action")]
	if !ok {
		writeEnvelope(w, http.StatusNotFound, false, nil, "unknown action")
		return
	}
	if inst.State != t[0] {
		writeEnvelope(w, http.StatusConflict, false, nil, fmt.Sprintf("instance is %s", inst.State))
		return
	}
	inst.State = t[1]
	if t[1] == types.StateInProgress && inst.StartedAt == nil {
		now := time.Now().UTC()
		inst.StartedAt = &now
	}

	if s.nullData {
		writeEnvelope(w, http.StatusOK, true, nil, "")
		return
	}
	out := inst.Clone()
	if s.zeroID {
		out.ID = 0
	}
	writeEnvelope(w, http.StatusOK, true, s.wire(&out), "")
}

func (s *Server) saveResponse(w http.ResponseWriter, r *http.Request) {
	var resp types.ItemResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		writeEnvelope(w, http.StatusBadRequest, false, nil, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	inst := s.byID(pathID(r, "id"))
	if inst == nil {
		writeEnvelope(w, http.StatusNotFound, false, nil, "instance not found")
		return
	}
	if msg, ok := s.rejections[resp.ItemTemplateID]; ok {
		writeEnvelope(w, http.StatusUnprocessableEntity, false, nil, msg)
		return
	}
	if inst.State == types.StateCompleted {
		writeEnvelope(w, http.StatusConflict, false, nil, "instance already completed")
		return
	}

	if existing, ok := inst.Response(resp.ItemTemplateID); ok {
		resp.ID = existing.ID
		resp.Photos = existing.Photos
	} else {
		s.nextID++
		resp.ID = s.nextID
	}
	inst.UpsertResponse(resp)
	writeEnvelope(w, http.StatusOK, true, resp, "")
}

func (s *Server) uploadPhoto(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeEnvelope(w, http.StatusBadRequest, false, nil, "invalid multipart body")
		return
	}
	if _, _, err := r.FormFile("photo"); err != nil {
		writeEnvelope(w, http.StatusBadRequest, false, nil, "photo is required")
		return
	}
	responseID, _ := strconv.ParseInt(r.FormValue("responseId"), 10, 64)
	order, _ := strconv.Atoi(r.FormValue("order"))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	photo := types.Photo{
		ID:          s.nextID,
		ImageRef:    fmt.Sprintf("photos/%d.jpg", s.nextID),
		Description: r.FormValue("description"),
		Order:       order,
	}
	for _, inst := range s.instances {
		for i, resp := range inst.Responses {
			if resp.ID == responseID {
				inst.Responses[i].Photos = append(inst.Responses[i].Photos, photo)
				writeEnvelope(w, http.StatusCreated, true, photo, "")
				return
			}
		}
	}
	writeEnvelope(w, http.StatusNotFound, false, nil, "response not found")
}

func (s *Server) finalize(w http.ResponseWriter, r *http.Request) {
	var data types.FinalizationData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeEnvelope(w, http.StatusBadRequest, false, nil, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	inst := s.byID(pathID(r, "id"))
	if inst == nil {
		writeEnvelope(w, http.StatusNotFound, false, nil, "instance not found")
		return
	}
	if inst.State != types.StateInProgress {
		writeEnvelope(w, http.StatusConflict, false, nil, fmt.Sprintf("instance is %s", inst.State))
		return
	}

	for _, resp := range data.Responses {
		if existing, ok := inst.Response(resp.ItemTemplateID); ok {
			resp.ID = existing.ID
			resp.Photos = existing.Photos
		}
		inst.UpsertResponse(resp)
	}
	inst.State = types.StateCompleted
	inst.ProgressPercent = 100
	inst.TechnicianSignature = data.TechnicianSignature
	inst.ClientSignature = data.ClientSignature
	completedAt := data.CompletedAt
	inst.CompletedAt = &completedAt
	minutes := data.ElapsedMinutes
	inst.TotalMinutes = &minutes

	writeEnvelope(w, http.StatusOK, true, map[string]any{
		"instance":     s.wire(inst),
		"totalMinutes": minutes,
	}, "checklist finalized")
}
