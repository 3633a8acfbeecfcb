package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// MaxSignatureBytes caps the encoded size of a signature blob.
const MaxSignatureBytes = 512 << 10

var (
	ErrEmptySignature   = errors.New("signature is empty")
	ErrSignatureTooBig  = errors.New("signature exceeds size limit")
	ErrInvalidSignature = errors.New("signature is not a valid encoded image")
)

// ValidateSignature checks an opaque signature blob. Data URIs must carry
// valid base64 content; any other non-empty blob is accepted as-is.
func ValidateSignature(blob string) error {
	if strings.TrimSpace(blob) == "" {
		return ErrEmptySignature
	}
	if len(blob) > MaxSignatureBytes {
		return ErrSignatureTooBig
	}
	if !strings.HasPrefix(blob, "data:") {
		return nil
	}

	header, data, ok := strings.Cut(blob, ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return ErrInvalidSignature
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// EncodeSignatureFile reads an image file and returns it as a data URI blob.
func EncodeSignatureFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read signature: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmptySignature
	}

	blob := "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
	if len(blob) > MaxSignatureBytes {
		return "", ErrSignatureTooBig
	}
	return blob, nil
}
