package hallticket

import (
	"fmt"
	"strconv"
	"strings"
)

// RollFormat describes one roll-number sub-format of a branch.
//
// A numeric format emits Lo..Hi zero-padded to Width. A lettered format emits,
// for every n in Lo..Hi and every suffix digit in SuffixLo..SuffixHi, the
// string pad(n, Width) + Letter + suffix (for example 05A1..99A9).
type RollFormat struct {
	Name     string `mapstructure:"name" json:"name"`
	Lo       int    `mapstructure:"lo" json:"lo"`
	Hi       int    `mapstructure:"hi" json:"hi"`
	Width    int    `mapstructure:"width" json:"width"`
	Letter   string `mapstructure:"letter" json:"letter,omitempty"`
	SuffixLo int    `mapstructure:"suffix_lo" json:"suffix_lo,omitempty"`
	SuffixHi int    `mapstructure:"suffix_hi" json:"suffix_hi,omitempty"`
}

// Numeric builds a numeric-only format.
func Numeric(name string, lo, hi, width int) RollFormat {
	return RollFormat{Name: name, Lo: lo, Hi: hi, Width: width}
}

// Lettered builds an alphanumeric lateral-entry format.
func Lettered(name string, lo, hi, width int, letter string, suffixLo, suffixHi int) RollFormat {
	return RollFormat{
		Name:     name,
		Lo:       lo,
		Hi:       hi,
		Width:    width,
		Letter:   letter,
		SuffixLo: suffixLo,
		SuffixHi: suffixHi,
	}
}

func (f RollFormat) lettered() bool {
	return f.Letter != ""
}

func (f RollFormat) suffixCount() int64 {
	if !f.lettered() {
		return 1
	}
	return int64(f.SuffixHi - f.SuffixLo + 1)
}

// Count returns the number of rolls the format emits.
func (f RollFormat) Count() int64 {
	return int64(f.Hi-f.Lo+1) * f.suffixCount()
}

// Len is the character length of every roll the format emits.
func (f RollFormat) Len() int {
	if f.lettered() {
		return f.Width + len(f.Letter) + 1
	}
	return f.Width
}

// At returns the i-th roll of the format. i must lie in [0, Count()).
func (f RollFormat) At(i int64) string {
	if !f.lettered() {
		return pad(int64(f.Lo)+i, f.Width)
	}
	n := int64(f.Lo) + i/f.suffixCount()
	s := int64(f.SuffixLo) + i%f.suffixCount()
	return pad(n, f.Width) + f.Letter + strconv.FormatInt(s, 10)
}

// Matches reports whether roll belongs to this format's grammar.
func (f RollFormat) Matches(roll string) bool {
	if len(roll) != f.Len() {
		return false
	}
	n, ok := digits(roll[:f.Width])
	if !ok || n < int64(f.Lo) || n > int64(f.Hi) {
		return false
	}
	if !f.lettered() {
		return true
	}
	rest := roll[f.Width:]
	if !strings.HasPrefix(rest, f.Letter) {
		return false
	}
	s, ok := digits(rest[len(f.Letter):])
	return ok && s >= int64(f.SuffixLo) && s <= int64(f.SuffixHi)
}

// Range renders the first and last roll, e.g. "05A1-99A9".
func (f RollFormat) Range() string {
	return f.At(0) + "-" + f.At(f.Count()-1)
}

func (f RollFormat) validate() error {
	switch {
	case f.Width < 1:
		return fmt.Errorf("format %q: width must be positive", f.Name)
	case f.Lo < 0 || f.Hi < f.Lo:
		return fmt.Errorf("format %q: invalid roll range %d-%d", f.Name, f.Lo, f.Hi)
	case len(strconv.Itoa(f.Hi)) > f.Width:
		return fmt.Errorf("format %q: roll %d exceeds width %d", f.Name, f.Hi, f.Width)
	}
	if !f.lettered() {
		return nil
	}
	if len(f.Letter) != 1 || f.Letter[0] < 'A' || f.Letter[0] > 'Z' {
		return fmt.Errorf("format %q: letter must be a single upper-case letter", f.Name)
	}
	if f.SuffixLo < 0 || f.SuffixHi > 9 || f.SuffixHi < f.SuffixLo {
		return fmt.Errorf("format %q: suffix range must be single digits", f.Name)
	}
	return nil
}

func pad(n int64, width int) string {
	s := strconv.FormatInt(n, 10)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

func digits(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}
