package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strconv"

	"github.com/hyperengineering/inspecta/internal/types"
)

// Transition is a remote state-change action on an instance.
type Transition string

const (
	TransitionStart  Transition = "start"
	TransitionPause  Transition = "pause"
	TransitionResume Transition = "resume"
)

// GetInstanceByOrder fetches the checklist instance bound to an order.
// Returns ErrNotFound when the order has none.
func (c *Client) GetInstanceByOrder(ctx context.Context, orderID int64) (*types.Instance, error) {
	var inst types.Instance
	path := fmt.Sprintf("/checklists/instances/order/%d", orderID)
	if err := c.sendJSON(ctx, "get instance by order", http.MethodGet, path, nil, lookup{&inst}); err != nil {
		return nil, err
	}
	return &inst, nil
}

// GetTemplate fetches a template by id.
func (c *Client) GetTemplate(ctx context.Context, templateID int64) (*types.Template, error) {
	var tmpl types.Template
	path := fmt.Sprintf("/checklists/templates/%d", templateID)
	if err := c.sendJSON(ctx, "get template", http.MethodGet, path, nil, lookup{&tmpl}); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// GetTemplateByService fetches the template bound to a service.
// Returns ErrNotFound when the service has no checklist.
func (c *Client) GetTemplateByService(ctx context.Context, serviceID int64) (*types.Template, error) {
	var tmpl types.Template
	path := fmt.Sprintf("/checklists/templates/service/%d", serviceID)
	if err := c.sendJSON(ctx, "get template by service", http.MethodGet, path, nil, lookup{&tmpl}); err != nil {
		return nil, err
	}
	if tmpl.ServiceID == 0 {
		tmpl.ServiceID = serviceID
	}
	return &tmpl, nil
}

type createInstanceRequest struct {
	OrderID    int64 `json:"orderId"`
	TemplateID int64 `json:"templateId"`
}

// CreateInstance creates the instance for (orderID, templateID).
func (c *Client) CreateInstance(ctx context.Context, orderID, templateID int64, opts ...CallOption) (*types.Instance, error) {
	var inst types.Instance
	body := createInstanceRequest{OrderID: orderID, TemplateID: templateID}
	if err := c.sendJSON(ctx, "create instance", http.MethodPost, "/checklists/instances", body, &inst, opts...); err != nil {
		return nil, err
	}
	return &inst, nil
}

// TransitionInstance requests a state change and returns the server's instance.
func (c *Client) TransitionInstance(ctx context.Context, instanceID int64, action Transition) (*types.Instance, error) {
	var inst types.Instance
	path := fmt.Sprintf("/checklists/instances/%d/%s", instanceID, action)
	if err := c.sendJSON(ctx, string(action)+" instance", http.MethodPost, path, nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// StartInstance moves an instance from PENDING to IN_PROGRESS.
func (c *Client) StartInstance(ctx context.Context, instanceID int64) (*types.Instance, error) {
	return c.TransitionInstance(ctx, instanceID, TransitionStart)
}

// PauseInstance moves an instance from IN_PROGRESS to PAUSED.
func (c *Client) PauseInstance(ctx context.Context, instanceID int64) (*types.Instance, error) {
	return c.TransitionInstance(ctx, instanceID, TransitionPause)
}

// ResumeInstance moves an instance from PAUSED to IN_PROGRESS.
func (c *Client) ResumeInstance(ctx context.Context, instanceID int64) (*types.Instance, error) {
	return c.TransitionInstance(ctx, instanceID, TransitionResume)
}

// SaveResponse writes one item response. Photos travel separately.
func (c *Client) SaveResponse(ctx context.Context, instanceID int64, resp types.ItemResponse, opts ...CallOption) (*types.ItemResponse, error) {
	resp.Photos = nil
	var saved types.ItemResponse
	path := fmt.Sprintf("/checklists/instances/%d/responses", instanceID)
	if err := c.sendJSON(ctx, "save response", http.MethodPost, path, resp, &saved, opts...); err != nil {
		return nil, err
	}
	return &saved, nil
}

// PhotoUpload is the multipart payload associating media with a response.
type PhotoUpload struct {
	ResponseID  int64
	Filename    string
	ContentType string
	Content     io.Reader
	Description string
	Location    *types.Location
	Order       int
}

// UploadPhoto sends a photo as multipart/form-data and returns the remote record.
func (c *Client) UploadPhoto(ctx context.Context, up PhotoUpload, opts ...CallOption) (*types.Photo, error) {
	body, contentType, err := encodePhoto(up)
	if err != nil {
		return nil, fmt.Errorf("upload photo: %w", err)
	}

	var photo types.Photo
	if err := c.send(ctx, "upload photo", http.MethodPost, "/checklists/photos", contentType, body, &photo, opts...); err != nil {
		return nil, err
	}
	return &photo, nil
}

func encodePhoto(up PhotoUpload) (io.Reader, string, error) {
	if up.Content == nil {
		return nil, "", fmt.Errorf("photo content is required")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := filepath.Base(up.Filename)
	if name == "" || name == "." || name == "/" {
		name = "photo.jpg"
	}
	ct := up.ContentType
	if ct == "" {
		ct = "image/jpeg"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename=%q`, name))
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, up.Content); err != nil {
		return nil, "", fmt.Errorf("copy photo content: %w", err)
	}

	fields := [][2]string{
		{"responseId", strconv.FormatInt(up.ResponseID, 10)},
		{"order", strconv.Itoa(up.Order)},
	}
	if up.Description != "" {
		fields = append(fields, [2]string{"description", up.Description})
	}
	if up.Location != nil {
		fields = append(fields,
			[2]string{"latitude", strconv.FormatFloat(up.Location.Latitude, 'f', -1, 64)},
			[2]string{"longitude", strconv.FormatFloat(up.Location.Longitude, 'f', -1, 64)},
		)
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// FinalizeInstance completes an instance. The server's instance is the
// source of truth for the terminal state and totalMinutes.
func (c *Client) FinalizeInstance(ctx context.Context, instanceID int64, data types.FinalizationData) (*types.FinalizeResult, error) {
	var result types.FinalizeResult
	path := fmt.Sprintf("/checklists/instances/%d/finalize", instanceID)
	if err := c.sendJSON(ctx, "finalize instance", http.MethodPost, path, data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetOrderInfo fetches the order's line items (source of its service id).
func (c *Client) GetOrderInfo(ctx context.Context, orderID int64) (*types.OrderInfo, error) {
	var info types.OrderInfo
	path := fmt.Sprintf("/orders/%d", orderID)
	if err := c.sendJSON(ctx, "get order info", http.MethodGet, path, nil, lookup{&info}); err != nil {
		return nil, err
	}
	if info.ID == 0 {
		info.ID = orderID
	}
	return &info, nil
}
