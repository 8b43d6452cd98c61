// Package treatment holds the static remediation guidance shown alongside a
// diagnosis. A Catalog is built once at startup and never mutated, so it can
// be shared by concurrent requests without locking.
package treatment

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Record is the remediation guidance for one disease label.
type Record struct {
	Chemical   []string `yaml:"chemical" json:"chemical"`
	Organic    []string `yaml:"organic" json:"organic"`
	Prevention []string `yaml:"prevention" json:"prevention"`
}

// Empty returns a record with all three lists present and empty.
func Empty() Record {
	return Record{
		Chemical:   []string{},
		Organic:    []string{},
		Prevention: []string{},
	}
}

// IsEmpty reports whether the record carries no guidance at all.
func (r Record) IsEmpty() bool {
	return len(r.Chemical) == 0 && len(r.Organic) == 0 && len(r.Prevention) == 0
}

// Catalog maps exact classifier labels to remediation records.
type Catalog struct {
	records map[string]Record
}

// Default parses the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a YAML catalog from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read treatment catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a Catalog from YAML of the form
//
//	Tomato___Early_blight:
//	  chemical: [...]
//	  organic: [...]
//	  prevention: [...]
//
// Missing lists are normalized to empty ones.
func Parse(data []byte) (*Catalog, error) {
	raw := make(map[string]Record)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse treatment catalog: %w", err)
	}

	records := make(map[string]Record, len(raw))
	for label, rec := range raw {
		if label == "" {
			return nil, fmt.Errorf("treatment catalog: empty label")
		}
		records[label] = normalize(rec)
	}
	return &Catalog{records: records}, nil
}

// New builds a Catalog from an in-memory map. The map is copied.
func New(records map[string]Record) *Catalog {
	c := &Catalog{records: make(map[string]Record, len(records))}
	for label, rec := range records {
		c.records[label] = normalize(rec)
	}
	return c
}

// Lookup returns the record for label, or Empty() when the label is unknown.
// The returned slices are copies; callers may modify them freely.
func (c *Catalog) Lookup(label string) Record {
	rec, ok := c.records[label]
	if !ok {
		return Empty()
	}
	return Record{
		Chemical:   slices.Clone(rec.Chemical),
		Organic:    slices.Clone(rec.Organic),
		Prevention: slices.Clone(rec.Prevention),
	}
}

// Labels returns the known labels in sorted order.
func (c *Catalog) Labels() []string {
	labels := make([]string, 0, len(c.records))
	for label := range c.records {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Len returns the number of labels in the catalog.
func (c *Catalog) Len() int { return len(c.records) }

func normalize(r Record) Record {
	if r.Chemical == nil {
		r.Chemical = []string{}
	}
	if r.Organic == nil {
		r.Organic = []string{}
	}
	if r.Prevention == nil {
		r.Prevention = []string{}
	}
	return r
}
