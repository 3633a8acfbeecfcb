package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/inspecta/internal/auth"
	"github.com/hyperengineering/inspecta/internal/types"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, auth.NewStaticToken("test-token"))
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": success, "data": data, "message": message})
}

func TestClient_SendsBearerToken(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeEnvelope(w, 200, true, map[string]any{"id": 5, "items": []any{}, "totalItems": 0}, "")
	})

	if _, err := c.GetTemplate(context.Background(), 5); err != nil {
		t.Fatalf("GetTemplate failed: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestClient_GetInstanceByOrder_EmbeddedTemplate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checklists/instances/order/42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeEnvelope(w, 200, true, map[string]any{
			"id": 10, "orderId": 42, "state": "PENDING",
			"template": map[string]any{"id": 5, "items": []any{map[string]any{"id": 1, "answerType": "text"}}, "totalItems": 1},
		}, "")
	})

	inst, err := c.GetInstanceByOrder(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetInstanceByOrder failed: %v", err)
	}
	if inst.ID != 10 || inst.TemplateID() != 5 {
		t.Errorf("unexpected instance: %+v", inst)
	}
	if inst.Template.Embedded == nil || len(inst.Template.Embedded.Items) != 1 {
		t.Errorf("embedded template not decoded: %+v", inst.Template)
	}
}

func TestClient_BarePayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 10, "orderId": 42, "template": "5", "state": "PENDING"}`))
	})

	inst, err := c.GetInstanceByOrder(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetInstanceByOrder failed: %v", err)
	}
	if inst.TemplateID() != 5 {
		t.Errorf("TemplateID = %d, want 5 from numeric string", inst.TemplateID())
	}
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(error) bool
	}{
		{
			name:    "404 is not found",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(404) },
			check:   func(err error) bool { return errors.Is(err, ErrNotFound) },
		},
		{
			name: "success with null data is not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, 200, true, nil, "")
			},
			check: func(err error) bool { return errors.Is(err, ErrNotFound) },
		},
		{
			name:    "500 is transient",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(503) },
			check:   IsTransient,
		},
		{
			name:    "429 is transient",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(429) },
			check:   IsTransient,
		},
		{
			name:    "401 is unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(401) },
			check:   func(err error) bool { return errors.Is(err, ErrUnauthorized) && !IsRejected(err) },
		},
		{
			name: "422 is rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, 422, false, nil, "mandatory items missing")
			},
			check: IsRejected,
		},
		{
			name: "success false is rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, 200, false, nil, "instance already completed")
			},
			check: IsRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.GetInstanceByOrder(context.Background(), 1)
			if err == nil || !tt.check(err) {
				t.Errorf("unexpected error classification: %v", err)
			}
		})
	}
}

func TestClient_TransitionNullDataDecodesZeroInstance(t *testing.T) {
	// Given a server that acknowledges a start without an instance
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 200, true, nil, "")
	})

	// When starting the instance
	inst, err := c.StartInstance(context.Background(), 10)

	// Then no error is reported and the caller sees an instance without an id
	if err != nil {
		t.Fatalf("StartInstance() error = %v, want nil", err)
	}
	if inst.ID != 0 {
		t.Errorf("ID = %d, want 0", inst.ID)
	}
}

func TestClient_RejectedMessageVerbatim(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 200, false, nil, "Faltan ítems obligatorios")
	})

	_, err := c.FinalizeInstance(context.Background(), 10, types.FinalizationData{})
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rej.Message != "Faltan ítems obligatorios" {
		t.Errorf("Message = %q", rej.Message)
	}
}

func TestClient_NetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(url, auth.NewStaticToken("t"), WithTimeout(time.Second))
	_, err := c.GetOrderInfo(context.Background(), 42)
	if !IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestClient_MissingCredentials(t *testing.T) {
	called := false
	c := New("http://example.invalid", auth.NewStaticToken(""))
	c.client.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		called = true
		return nil, errors.New("unreachable")
	})

	_, err := c.GetTemplate(context.Background(), 1)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if called {
		t.Error("no request should be sent without credentials")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestClient_CreateInstance_IdempotencyKey(t *testing.T) {
	var gotKey string
	var body createInstanceRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		json.NewDecoder(r.Body).Decode(&body)
		writeEnvelope(w, 201, true, map[string]any{"id": 11, "orderId": body.OrderID, "templateId": body.TemplateID, "state": "PENDING"}, "")
	})

	inst, err := c.CreateInstance(context.Background(), 42, 5, WithIdempotencyKey("key-1"))
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	if gotKey != "key-1" {
		t.Errorf("Idempotency-Key = %q", gotKey)
	}
	if body.OrderID != 42 || body.TemplateID != 5 {
		t.Errorf("unexpected request body: %+v", body)
	}
	if inst.ID != 11 || inst.TemplateID() != 5 {
		t.Errorf("unexpected instance: %+v", inst)
	}
}

func TestClient_Transitions(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		writeEnvelope(w, 200, true, map[string]any{"id": 10, "orderId": 42, "templateId": 5, "state": "IN_PROGRESS"}, "")
	})
	ctx := context.Background()

	if _, err := c.StartInstance(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := c.PauseInstance(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ResumeInstance(ctx, 10); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"POST /checklists/instances/10/start",
		"POST /checklists/instances/10/pause",
		"POST /checklists/instances/10/resume",
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestClient_SaveResponse(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		writeEnvelope(w, 200, true, map[string]any{"id": 900, "itemTemplateId": 3, "completed": true, "booleanAnswer": true}, "")
	})

	yes := true
	saved, err := c.SaveResponse(context.Background(), 10, types.ItemResponse{
		ItemTemplateID: 3, Completed: true, Answer: types.Answer{Boolean: &yes},
		Photos: []types.Photo{{ImageRef: "file:///local.jpg"}},
	})
	if err != nil {
		t.Fatalf("SaveResponse failed: %v", err)
	}
	if saved.ID != 900 {
		t.Errorf("saved.ID = %d, want 900", saved.ID)
	}
	if got["itemTemplateId"] != float64(3) || got["booleanAnswer"] != true || got["completed"] != true {
		t.Errorf("unexpected request body: %v", got)
	}
	if photos, ok := got["photos"].([]any); ok && len(photos) > 0 {
		t.Errorf("local photos must not be sent with the response: %v", photos)
	}
}

func TestClient_UploadPhoto_Multipart(t *testing.T) {
	var fields = map[string]string{}
	var fileContent, fileName string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		f, hdr, err := r.FormFile("photo")
		if err != nil {
			t.Errorf("missing photo part: %v", err)
		} else {
			data, _ := io.ReadAll(f)
			fileContent = string(data)
			fileName = hdr.Filename
		}
		writeEnvelope(w, 201, true, map[string]any{"id": 77, "imageRef": "photos/77.jpg", "orderInResponse": 2}, "")
	})

	photo, err := c.UploadPhoto(context.Background(), PhotoUpload{
		ResponseID:  900,
		Filename:    "/tmp/capture/brake.jpg",
		Content:     strings.NewReader("jpeg-bytes"),
		Description: "brake pads",
		Location:    &types.Location{Latitude: -34.6037, Longitude: -58.3816},
		Order:       2,
	}, WithIdempotencyKey("k"))
	if err != nil {
		t.Fatalf("UploadPhoto failed: %v", err)
	}

	if photo.ID != 77 || photo.ImageRef != "photos/77.jpg" {
		t.Errorf("unexpected photo: %+v", photo)
	}
	if fileContent != "jpeg-bytes" || fileName != "brake.jpg" {
		t.Errorf("file part = %q (%s)", fileContent, fileName)
	}
	want := map[string]string{
		"responseId": "900", "order": "2", "description": "brake pads",
		"latitude": "-34.6037", "longitude": "-58.3816",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, fields[k], v)
		}
	}
}

func TestClient_UploadPhoto_NoLocation(t *testing.T) {
	var fields map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		fields = r.MultipartForm.Value
		writeEnvelope(w, 201, true, map[string]any{"id": 78, "imageRef": "photos/78.jpg"}, "")
	})

	_, err := c.UploadPhoto(context.Background(), PhotoUpload{ResponseID: 1, Content: strings.NewReader("x")})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fields["latitude"]; ok {
		t.Error("latitude must be omitted without a location fix")
	}
}

func TestClient_FinalizeInstance(t *testing.T) {
	var got types.FinalizationData
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		writeEnvelope(w, 200, true, map[string]any{
			"instance":     map[string]any{"id": 10, "orderId": 42, "templateId": 5, "state": "COMPLETED", "progressPercent": 100},
			"totalMinutes": 37,
		}, "")
	})

	res, err := c.FinalizeInstance(context.Background(), 10, types.FinalizationData{
		TechnicianSignature: "sig", ElapsedMinutes: 36, CompletedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("FinalizeInstance failed: %v", err)
	}
	if res.Instance.State != types.StateCompleted || res.TotalMinutes == nil || *res.TotalMinutes != 37 {
		t.Errorf("unexpected result: %+v", res)
	}
	if got.TechnicianSignature != "sig" || got.ElapsedMinutes != 36 {
		t.Errorf("unexpected finalization payload: %+v", got)
	}
}

func TestClient_GetOrderInfo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 200, true, map[string]any{"lineItems": []any{map[string]any{"serviceId": 7, "name": "Frenos"}}}, "")
	})

	info, err := c.GetOrderInfo(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if info.ID != 42 || info.ServiceID() != 7 {
		t.Errorf("unexpected order info: %+v", info)
	}
}

func TestClient_NoBaseURL(t *testing.T) {
	c := New("", auth.NewStaticToken("t"))
	_, err := c.GetTemplate(context.Background(), 1)
	if !IsTransient(err) {
		t.Errorf("expected transient error for unconfigured remote, got %v", err)
	}
}
