package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TemplateRef is the template an instance points at. The remote API sends
// either a bare id (number or numeric string) or an embedded template
// object; both decode into this union so callers never branch on the wire
// shape.
type TemplateRef struct {
	ID       int64
	Embedded *Template
}

// RefByID returns a reference carrying only an id.
func RefByID(id int64) TemplateRef {
	return TemplateRef{ID: id}
}

// RefEmbedded returns a reference carrying a full template.
func RefEmbedded(t *Template) TemplateRef {
	if t == nil {
		return TemplateRef{}
	}
	return TemplateRef{ID: t.ID, Embedded: t}
}

// TemplateID returns the referenced id (0 when unknown).
func (r TemplateRef) TemplateID() int64 {
	if r.ID > 0 {
		return r.ID
	}
	if r.Embedded != nil {
		return r.Embedded.ID
	}
	return 0
}

// Valid reports whether the reference identifies a template.
func (r TemplateRef) Valid() bool {
	return r.TemplateID() > 0
}

// UnmarshalJSON decodes a bare id, a numeric string, an object, or null.
func (r *TemplateRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*r = TemplateRef{}

	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return nil
	case data[0] == '{':
		var t Template
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("decode embedded template: %w", err)
		}
		r.ID = t.ID
		r.Embedded = &t
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("template reference %q is not an id", s)
		}
		r.ID = id
		return nil
	default:
		var id int64
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("decode template id: %w", err)
		}
		r.ID = id
		return nil
	}
}

// MarshalJSON always encodes the bare id.
func (r TemplateRef) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(r.TemplateID())
}
