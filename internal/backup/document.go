package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"licensehub/internal/catalog"
)

// FormatVersion is the schema version of the snapshot document itself.
const FormatVersion = "1.0"

// Document is a full snapshot of the store.
type Document struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Data      Data      `json:"data"`
}

// NewDocument returns an empty document stamped with the current format version.
func NewDocument(ts time.Time) *Document {
	return &Document{
		Version:   FormatVersion,
		Timestamp: ts.UTC(),
	}
}

// Data maps entity names to their records and remembers insertion order, so
// documents serialize in dependency order.
type Data struct {
	order  []string
	groups map[string][]Record
}

// Set stores the records of an entity group, replacing any previous value.
func (d *Data) Set(name string, records []Record) {
	if d.groups == nil {
		d.groups = make(map[string][]Record)
	}
	if _, ok := d.groups[name]; !ok {
		d.order = append(d.order, name)
	}
	if records == nil {
		records = []Record{}
	}
	d.groups[name] = records
}

// Get returns the records of name and whether the group is present.
func (d *Data) Get(name string) ([]Record, bool) {
	records, ok := d.groups[name]
	return records, ok
}

// Has reports whether the group is present.
func (d *Data) Has(name string) bool {
	_, ok := d.groups[name]
	return ok
}

// Names lists present groups in insertion order.
func (d *Data) Names() []string {
	return append([]string(nil), d.order...)
}

// MarshalJSON writes groups as an object in insertion order.
func (d Data) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range d.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		records, err := json.Marshal(d.groups[name])
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", name, err)
		}
		buf.Write(records)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads groups preserving document order. Numbers are kept as
// json.Number. A group whose value is null counts as absent.
func (d *Data) UnmarshalJSON(b []byte) error {
	*d = Data{}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("data must be an object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}

		var records []Record
		if err := dec.Decode(&records); err != nil {
			return fmt.Errorf("group %s: %w", name, err)
		}
		if records == nil {
			continue
		}
		d.Set(name, records)
	}

	_, err = dec.Token()
	return err
}

// ValidateDocument performs the minimal checks made before a destructive
// restore: a known format version and the presence of the users group.
func ValidateDocument(doc *Document) error {
	if doc.Version != "" && doc.Version != FormatVersion {
		return fmt.Errorf("unsupported document version %q (expected %q)", doc.Version, FormatVersion)
	}
	if !doc.Data.Has(catalog.Users) {
		return fmt.Errorf("document has no %q group", catalog.Users)
	}
	return nil
}

// MarshalDocument serializes a document as indented JSON.
func MarshalDocument(doc *Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// UnmarshalDocument parses a document.
func UnmarshalDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid document JSON: %w", err)
	}
	return &doc, nil
}
