package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperengineering/inspecta/internal/remote"
	"github.com/hyperengineering/inspecta/internal/types"
)

// DefaultLocateTimeout bounds how long an upload waits for a location fix.
const DefaultLocateTimeout = 5 * time.Second

// Uploader sends a photo to the remote API.
type Uploader interface {
	UploadPhoto(ctx context.Context, up remote.PhotoUpload, opts ...remote.CallOption) (*types.Photo, error)
}

// Pipeline turns local media references into remote photo records.
type Pipeline struct {
	uploader      Uploader
	locator       Locator
	locateTimeout time.Duration
	logger        *slog.Logger
}

// NewPipeline creates a photo pipeline. A nil locator never provides a fix.
func NewPipeline(uploader Uploader, locator Locator, logger *slog.Logger) *Pipeline {
	if locator == nil {
		locator = StaticLocator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		uploader:      uploader,
		locator:       locator,
		locateTimeout: DefaultLocateTimeout,
		logger:        logger,
	}
}

// PhotoRequest describes one photo to upload for a response.
type PhotoRequest struct {
	Ref         Ref
	ResponseID  int64
	Description string
	Order       int
	// Location, when set, was captured alongside the photo and is used
	// instead of asking the locator.
	Location *types.Location
}

// UploadPhoto uploads one photo. A location fix is attached when one can be
// had; failing to get one never fails the upload. The caller's response is
// not touched here: on error nothing has changed.
func (p *Pipeline) UploadPhoto(ctx context.Context, req PhotoRequest, opts ...remote.CallOption) (*types.Photo, error) {
	if req.ResponseID <= 0 {
		return nil, fmt.Errorf("upload photo: response has no remote id")
	}

	path, err := LocalPath(req.Ref.URI)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open photo %s: %w: %v", path, ErrUnavailable, err)
	}
	defer f.Close()

	loc := req.Location
	if loc == nil {
		loc = p.locate(ctx)
	}

	photo, err := p.uploader.UploadPhoto(ctx, remote.PhotoUpload{
		ResponseID:  req.ResponseID,
		Filename:    filepath.Base(path),
		ContentType: req.Ref.MimeType,
		Content:     f,
		Description: req.Description,
		Location:    loc,
		Order:       req.Order,
	}, opts...)
	if err != nil {
		return nil, err
	}

	out := *photo
	out.Order = req.Order
	if out.Description == "" {
		out.Description = req.Description
	}
	if out.CaptureLocation == nil {
		out.CaptureLocation = loc
	}
	return &out, nil
}

func (p *Pipeline) locate(ctx context.Context) *types.Location {
	ctx, cancel := context.WithTimeout(ctx, p.locateTimeout)
	defer cancel()

	fix := p.locator.Locate(ctx)
	if fix.Status != StatusAvailable {
		p.logger.Debug("uploading photo without location", "component", "media", "status", fix.Status.String())
		return nil
	}
	loc := fix.Location
	return &loc
}
