// Package template holds the notification template catalog and the pure
// payload renderer.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a template id has no definition.
var ErrNotFound = errors.New("template not found")

// Definition is one template as loaded from the catalog file. The field names
// mirror the catalog's JSON keys.
type Definition struct {
	IOSTitle        string `json:"iOS_title"`
	IOSSubtitle     string `json:"iOS_subtitle"`
	AndroidTitle    string `json:"Android_title"`
	AndroidSubtitle string `json:"Android_subtitle"`

	// Raw is the verbatim catalog entry, carried into the payload data
	// section so clients can re-render locally.
	Raw json.RawMessage `json:"-"`
}

// Catalog is an immutable template lookup table.
type Catalog struct {
	templates map[string]*Definition
}

// LoadCatalog parses a JSON object mapping template ids to definitions.
func LoadCatalog(data []byte) (*Catalog, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog: %w", err)
	}

	templates := make(map[string]*Definition, len(raw))
	for id, entry := range raw {
		var def Definition
		if err := json.Unmarshal(entry, &def); err != nil {
			return nil, fmt.Errorf("template %q: %w", id, err)
		}
		def.Raw = entry
		templates[id] = &def
	}
	return &Catalog{templates: templates}, nil
}

// Lookup returns the definition for a template id.
func (c *Catalog) Lookup(templateID string) (*Definition, error) {
	def, ok := c.templates[templateID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, templateID)
	}
	return def, nil
}
