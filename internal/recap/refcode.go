package recap

import (
	"crypto/rand"
	"fmt"
	"io"
)

const (
	// ReferenceColumn is the reserved trailing header holding each row's reference code.
	ReferenceColumn = "ITEM_REF_CODE"

	// ReferenceCodeLength is the length of generated reference codes.
	ReferenceCodeLength = 8

	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// CodeGenerator draws reference codes unique within one document.
// It is not safe for concurrent use.
type CodeGenerator struct {
	src  io.Reader
	used map[string]struct{}
}

// NewCodeGenerator returns a generator backed by crypto/rand.
func NewCodeGenerator() *CodeGenerator {
	return NewCodeGeneratorFrom(rand.Reader)
}

// NewCodeGeneratorFrom returns a generator reading randomness from src.
func NewCodeGeneratorFrom(src io.Reader) *CodeGenerator {
	return &CodeGenerator{src: src, used: make(map[string]struct{})}
}

// Reserve marks code as taken.
func (g *CodeGenerator) Reserve(code string) {
	if code != "" {
		g.used[code] = struct{}{}
	}
}

// Next returns a fresh code not returned or reserved before.
func (g *CodeGenerator) Next() (string, error) {
	// Bytes at or above this bound are rejected to keep the alphabet uniform
	limit := byte(256 - 256%len(codeAlphabet))
	buf := make([]byte, 1)
	for {
		code := make([]byte, 0, ReferenceCodeLength)
		for len(code) < ReferenceCodeLength {
			if _, err := io.ReadFull(g.src, buf); err != nil {
				return "", fmt.Errorf("read randomness: %w", err)
			}
			if buf[0] >= limit {
				continue
			}
			code = append(code, codeAlphabet[int(buf[0])%len(codeAlphabet)])
		}
		s := string(code)
		if _, taken := g.used[s]; !taken {
			g.used[s] = struct{}{}
			return s, nil
		}
	}
}

// InjectReferenceCodes returns a copy of entries in which every section
// header ends with ReferenceColumn and every data row carries a code in it.
// Rows that already hold a code keep it, so running it again changes nothing.
func InjectReferenceCodes(entries Entries, gen *CodeGenerator) (Entries, error) {
	if gen == nil {
		gen = NewCodeGenerator()
	}
	out := entries.Clone()
	sections := out.Sections()

	// Seed the used set with every existing code before drawing new ones
	for _, sec := range sections {
		if idx := sec.Column(ReferenceColumn); idx >= 0 {
			for _, row := range sec.Rows() {
				if idx < len(row) {
					gen.Reserve(row[idx])
				}
			}
		}
	}

	for _, sec := range sections {
		if len(sec.Table) == 0 {
			continue
		}
		idx := sec.Column(ReferenceColumn)
		if idx < 0 {
			sec.Table[0] = append(sec.Table[0], ReferenceColumn)
			idx = len(sec.Table[0]) - 1
		}
		width := len(sec.Table[0])
		for i := 1; i < len(sec.Table); i++ {
			row := sec.Table[i]
			if len(row) >= width && row[idx] != "" {
				continue
			}
			code, err := gen.Next()
			if err != nil {
				return nil, err
			}
			if len(row) < width {
				row = fitRow(row, width)
			}
			row[idx] = code
			sec.Table[i] = row
		}
	}
	return out, nil
}
