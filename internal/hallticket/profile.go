// Package hallticket enumerates the candidate hall-ticket identifiers of an
// institution profile in a fixed, restartable order.
//
// The order is regulation, then college, then branch, then roll sub-format,
// then roll index ascending. Every identifier is the concatenation
// YearPrefix + College + Branch.Code + roll.
package hallticket

import (
	"fmt"
	"iter"
	"strings"

	"github.com/JakeFAU/results-harvester/internal/results"
)

// Kind classifies a branch's intake.
type Kind string

// Branch kinds.
const (
	KindRegular Kind = "regular"
	KindLateral Kind = "lateral"
)

// Regulation pairs a curriculum version with its hall-ticket year prefix.
type Regulation struct {
	Name       string `mapstructure:"name" json:"name"`
	YearPrefix string `mapstructure:"year_prefix" json:"year_prefix"`
}

// Branch lists the roll formats valid for one branch code.
type Branch struct {
	Code    string       `mapstructure:"code" json:"code"`
	Name    string       `mapstructure:"name" json:"name"`
	Kind    Kind         `mapstructure:"kind" json:"kind"`
	Formats []RollFormat `mapstructure:"formats" json:"formats"`
}

// Count is the number of rolls across the branch's formats.
func (b Branch) Count() int64 {
	var n int64
	for _, f := range b.Formats {
		n += f.Count()
	}
	return n
}

// Profile is the read-only enumeration grammar of one institution.
type Profile struct {
	Name        string       `mapstructure:"name" json:"name"`
	Regulations []Regulation `mapstructure:"regulations" json:"regulations"`
	Colleges    []string     `mapstructure:"colleges" json:"colleges"`
	Branches    []Branch     `mapstructure:"branches" json:"branches"`

	perCollege int64
}

// NewProfile validates p and precomputes its block sizes. Width and grammar
// violations are rejected here so enumeration never emits a malformed roll.
func NewProfile(p Profile) (*Profile, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("%w: profile name is required", results.ErrConfiguration)
	}
	for _, reg := range p.Regulations {
		if _, ok := digits(reg.YearPrefix); !ok {
			return nil, fmt.Errorf("%w: profile %s: regulation %q has non-numeric year prefix %q",
				results.ErrConfiguration, p.Name, reg.Name, reg.YearPrefix)
		}
	}
	for _, c := range p.Colleges {
		if c == "" || c != strings.ToUpper(c) {
			return nil, fmt.Errorf("%w: profile %s: invalid college code %q", results.ErrConfiguration, p.Name, c)
		}
	}
	for _, b := range p.Branches {
		if b.Code == "" || b.Code != strings.ToUpper(b.Code) {
			return nil, fmt.Errorf("%w: profile %s: invalid branch code %q", results.ErrConfiguration, p.Name, b.Code)
		}
		for i, f := range b.Formats {
			if err := f.validate(); err != nil {
				return nil, fmt.Errorf("%w: profile %s branch %s: %w", results.ErrConfiguration, p.Name, b.Code, err)
			}
			if f.Len() != b.Formats[0].Len() {
				return nil, fmt.Errorf("%w: profile %s branch %s: format %d emits %d chars, want %d",
					results.ErrConfiguration, p.Name, b.Code, i, f.Len(), b.Formats[0].Len())
			}
		}
	}
	out := p
	out.perCollege = 0
	for _, b := range p.Branches {
		out.perCollege += b.Count()
	}
	return &out, nil
}

// Count returns the sequence length from metadata alone.
func (p *Profile) Count() int64 {
	return p.perRegulation() * int64(len(p.Regulations))
}

func (p *Profile) perRegulation() int64 {
	return p.perCollege * int64(len(p.Colleges))
}

// Position locates one identifier inside the profile.
type Position struct {
	Regulation Regulation
	College    string
	Branch     Branch
	Format     RollFormat
	Roll       string
}

// Identifier renders the hall ticket at this position.
func (pos Position) Identifier() string {
	return pos.Regulation.YearPrefix + pos.College + pos.Branch.Code + pos.Roll
}

// At returns the identifier at index i. It panics when i is out of range.
func (p *Profile) At(i int64) string {
	return p.position(i).Identifier()
}

func (p *Profile) position(i int64) Position {
	if i < 0 || i >= p.Count() {
		panic(fmt.Sprintf("hallticket: index %d out of range [0,%d)", i, p.Count()))
	}
	reg := p.Regulations[i/p.perRegulation()]
	rem := i % p.perRegulation()
	college := p.Colleges[rem/p.perCollege]
	rem %= p.perCollege
	for _, b := range p.Branches {
		if rem >= b.Count() {
			rem -= b.Count()
			continue
		}
		for _, f := range b.Formats {
			if rem >= f.Count() {
				rem -= f.Count()
				continue
			}
			return Position{Regulation: reg, College: college, Branch: b, Format: f, Roll: f.At(rem)}
		}
	}
	panic("hallticket: position walk fell through")
}

// All yields the full sequence lazily.
func (p *Profile) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, reg := range p.Regulations {
			for _, college := range p.Colleges {
				for _, b := range p.Branches {
					prefix := reg.YearPrefix + college + b.Code
					for _, f := range b.Formats {
						for i := int64(0); i < f.Count(); i++ {
							if !yield(prefix + f.At(i)) {
								return
							}
						}
					}
				}
			}
		}
	}
}

// Window yields at most limit identifiers starting at offset.
func (p *Profile) Window(offset, limit int64) iter.Seq[string] {
	return func(yield func(string) bool) {
		c := p.Cursor()
		c.Seek(offset)
		for n := int64(0); n < limit; n++ {
			id, ok := c.Next()
			if !ok || !yield(id) {
				return
			}
		}
	}
}

// Slice materializes [start, end). Callers opt into the allocation.
func (p *Profile) Slice(start, end int64) []string {
	end = min(end, p.Count())
	if start < 0 {
		start = 0
	}
	if start >= end {
		return nil
	}
	out := make([]string, 0, end-start)
	for id := range p.Window(start, end-start) {
		out = append(out, id)
	}
	return out
}

// Locate finds the position of id, if the profile's grammar admits it.
func (p *Profile) Locate(id string) (Position, bool) {
	for _, reg := range p.Regulations {
		afterYear, ok := strings.CutPrefix(id, reg.YearPrefix)
		if !ok {
			continue
		}
		for _, college := range p.Colleges {
			afterCollege, ok := strings.CutPrefix(afterYear, college)
			if !ok {
				continue
			}
			for _, b := range p.Branches {
				roll, ok := strings.CutPrefix(afterCollege, b.Code)
				if !ok {
					continue
				}
				for _, f := range b.Formats {
					if f.Matches(roll) {
						return Position{Regulation: reg, College: college, Branch: b, Format: f, Roll: roll}, true
					}
				}
			}
		}
	}
	return Position{}, false
}
