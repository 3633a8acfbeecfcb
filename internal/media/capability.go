// Package media packages captured photos and signatures for upload.
//
// Camera, gallery and geolocation are device capabilities the agent may not
// have. They are modelled as interfaces that report an explicit Status
// instead of failing, so callers decide how to degrade.
package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperengineering/inspecta/internal/types"
)

// ErrUnavailable is returned when a media reference cannot be used.
var ErrUnavailable = errors.New("media: unavailable")

// Status is the outcome of asking a capability for a result.
type Status int

const (
	StatusAvailable Status = iota
	StatusUnavailable
	StatusDenied
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusDenied:
		return "denied"
	default:
		return "unavailable"
	}
}

// Ref is a captured media reference on the local device.
type Ref struct {
	URI      string
	MimeType string
}

// Capture is the result of a capture attempt.
type Capture struct {
	Ref    Ref
	Status Status
}

// Capturer produces a local media reference. Whether it reads a camera or
// a gallery is invisible to the caller.
type Capturer interface {
	Capture(ctx context.Context) Capture
}

// Fix is the result of a location request.
type Fix struct {
	Location types.Location
	Status   Status
}

// Locator provides a best-effort geolocation fix. It has no error return:
// a missing fix is a Status, never a failure.
type Locator interface {
	Locate(ctx context.Context) Fix
}

// FileCapturer "captures" an existing image file, as a gallery pick does.
type FileCapturer struct {
	Path string
}

func (c FileCapturer) Capture(_ context.Context) Capture {
	info, err := os.Stat(c.Path)
	switch {
	case errors.Is(err, os.ErrPermission):
		return Capture{Status: StatusDenied}
	case err != nil || info.IsDir():
		return Capture{Status: StatusUnavailable}
	}

	abs, err := filepath.Abs(c.Path)
	if err != nil {
		return Capture{Status: StatusUnavailable}
	}
	return Capture{
		Ref:    Ref{URI: (&url.URL{Scheme: "file", Path: abs}).String(), MimeType: detectMimeType(abs)},
		Status: StatusAvailable,
	}
}

// StaticLocator reports a fixed location, or unavailable when none is set.
type StaticLocator struct {
	Location *types.Location
}

func (l StaticLocator) Locate(_ context.Context) Fix {
	if l.Location == nil {
		return Fix{Status: StatusUnavailable}
	}
	return Fix{Location: *l.Location, Status: StatusAvailable}
}

// LocalPath resolves a media URI (file:// or a bare path) to a filesystem path.
func LocalPath(uri string) (string, error) {
	if uri == "" {
		return "", fmt.Errorf("empty media reference: %w", ErrUnavailable)
	}
	if !strings.Contains(uri, "://") {
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse media reference: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("media reference %q is not local: %w", uri, ErrUnavailable)
	}
	return u.Path, nil
}

func detectMimeType(path string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := f.Read(head)
	return http.DetectContentType(head[:n])
}
