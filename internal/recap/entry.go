// Package recap models the recap table and implements its extraction,
// multi-page assembly, reference-code injection and totals recalculation.
package recap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Entry is one element of a recap: a *Section or a *GrandTotal.
type Entry interface {
	isEntry()
}

// Section is one titled block of the recap table.
// Table[0] is the header; Table[1:] are data rows.
type Section struct {
	Company  string     `json:"company"`
	Table    [][]string `json:"table"`
	Subtotal string     `json:"subtotal"`
}

// GrandTotal is the closing aggregate. At most one, always last.
type GrandTotal struct {
	GrandTotal string `json:"grand_total"`
}

func (*Section) isEntry()    {}
func (*GrandTotal) isEntry() {}

// Header returns the section's header row, or nil.
func (s *Section) Header() []string {
	if len(s.Table) == 0 {
		return nil
	}
	return s.Table[0]
}

// Rows returns the data rows.
func (s *Section) Rows() [][]string {
	if len(s.Table) < 2 {
		return nil
	}
	return s.Table[1:]
}

// Column returns the index of the header column named name, or -1.
func (s *Section) Column(name string) int {
	for i, h := range s.Header() {
		if h == name {
			return i
		}
	}
	return -1
}

func (s *Section) clone() *Section {
	c := &Section{Company: s.Company, Subtotal: s.Subtotal, Table: make([][]string, len(s.Table))}
	for i, row := range s.Table {
		c.Table[i] = append([]string(nil), row...)
	}
	return c
}

// Entries is an ordered recap.
type Entries []Entry

// Sections returns the sections in order.
func (es Entries) Sections() []*Section {
	var out []*Section
	for _, e := range es {
		if s, ok := e.(*Section); ok {
			out = append(out, s)
		}
	}
	return out
}

// GrandTotal returns the first grand total entry, or nil.
func (es Entries) GrandTotal() *GrandTotal {
	for _, e := range es {
		if g, ok := e.(*GrandTotal); ok {
			return g
		}
	}
	return nil
}

// HasGrandTotal reports whether any grand total entry is present.
func (es Entries) HasGrandTotal() bool { return es.GrandTotal() != nil }

// WithoutGrandTotal returns the entries with every grand total removed.
func (es Entries) WithoutGrandTotal() Entries {
	out := make(Entries, 0, len(es))
	for _, e := range es {
		if _, ok := e.(*GrandTotal); !ok {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a deep copy.
func (es Entries) Clone() Entries {
	out := make(Entries, 0, len(es))
	for _, e := range es {
		switch v := e.(type) {
		case *Section:
			out = append(out, v.clone())
		case *GrandTotal:
			g := *v
			out = append(out, &g)
		}
	}
	return out
}

// MarshalJSON encodes each entry in its own shape.
func (es Entries) MarshalJSON() ([]byte, error) {
	items := make([]any, 0, len(es))
	for _, e := range es {
		items = append(items, e)
	}
	return json.Marshal(items)
}

// UnmarshalJSON decodes a loosely shaped array. Objects with a "table" or
// "company" key become sections, objects with only "grand_total" become the
// grand total, anything else is dropped. Sections are normalized.
func (es *Entries) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(Entries, 0, len(raw))
	for _, item := range raw {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}

		_, hasTable := obj["table"]
		_, hasCompany := obj["company"]
		if g, ok := obj["grand_total"]; ok && !hasTable && !hasCompany {
			out = append(out, &GrandTotal{GrandTotal: looseString(g)})
			continue
		}
		if !hasTable && !hasCompany {
			continue
		}

		sec := &Section{
			Company:  strings.TrimSpace(looseString(obj["company"])),
			Subtotal: strings.TrimSpace(looseString(obj["subtotal"])),
			Table:    looseTable(obj["table"]),
		}
		if normalizeSection(sec) {
			out = append(out, sec)
		}
	}
	*es = out
	return nil
}

// Parse decodes a model response body into entries.
func Parse(body string) (Entries, error) {
	var es Entries
	if err := json.Unmarshal([]byte(body), &es); err != nil {
		return nil, fmt.Errorf("parse recap entries: %w", err)
	}
	return es, nil
}

// normalizeSection trims the header, drops sections without one, and pads or
// truncates data rows to the header's arity.
func normalizeSection(s *Section) bool {
	if len(s.Table) == 0 {
		return false
	}
	header := make([]string, 0, len(s.Table[0]))
	blank := true
	for _, h := range s.Table[0] {
		h = strings.TrimSpace(h)
		if h != "" {
			blank = false
		}
		header = append(header, h)
	}
	if blank {
		return false
	}
	s.Table[0] = header
	for i := 1; i < len(s.Table); i++ {
		s.Table[i] = fitRow(s.Table[i], len(header))
	}
	return true
}

func fitRow(row []string, n int) []string {
	out := make([]string, n)
	copy(out, row)
	return out
}

// looseString renders a JSON scalar as text. Numbers keep their literal form.
func looseString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func looseTable(raw json.RawMessage) [][]string {
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil
	}
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		var cells []json.RawMessage
		if err := json.Unmarshal(r, &cells); err != nil {
			continue
		}
		row := make([]string, len(cells))
		for i, c := range cells {
			row[i] = looseString(c)
		}
		table = append(table, row)
	}
	return table
}
