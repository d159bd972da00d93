package record

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultDelimiters are the delimiters recommended by ASTM E1394 §5.4: `|\^&`.
var DefaultDelimiters = Delimiters{Field: '|', Repeat: '\\', Component: '^', Escape: '&'}

// ErrInvalidDelimiters is returned when a delimiter set is unusable.
var ErrInvalidDelimiters = errors.New("record: invalid delimiters")

// Delimiters is the set of separator characters used inside record text.
//
// The header record declares them in its first four characters after the
// type tag, e.g. `H|\^&`.
type Delimiters struct {
	Field     byte `json:"field"`
	Repeat    byte `json:"repeat"`
	Component byte `json:"component"`
	Escape    byte `json:"escape"`
}

// Validate checks that the delimiters are printable and pairwise distinct.
func (d Delimiters) Validate() error {
	set := [4]byte{d.Field, d.Repeat, d.Component, d.Escape}
	for i, c := range set {
		if c < 0x20 || c > 0x7E || isAlnum(c) {
			return fmt.Errorf("%w: 0x%02X is not a printable separator", ErrInvalidDelimiters, c)
		}

		for _, o := range set[i+1:] {
			if c == o {
				return fmt.Errorf("%w: %q used twice", ErrInvalidDelimiters, c)
			}
		}
	}

	return nil
}

// String renders the delimiters in header order: field, repeat, component, escape.
func (d Delimiters) String() string {
	return string([]byte{d.Field, d.Repeat, d.Component, d.Escape})
}

// ParseDelimiters extracts the delimiter definition from header record text.
func ParseDelimiters(header string) (Delimiters, error) {
	if len(header) < 5 || Type(header[0]) != TypeHeader {
		return Delimiters{}, fmt.Errorf("%w: header too short or not a header: %q", ErrInvalidDelimiters, header)
	}

	d := Delimiters{Field: header[1], Repeat: header[2], Component: header[3], Escape: header[4]}
	if err := d.Validate(); err != nil {
		return Delimiters{}, err
	}

	return d, nil
}

// Components splits a field value on the component delimiter.
func (d Delimiters) Components(v string) []string {
	return strings.Split(v, string(d.Component))
}

// Repeats splits a field value on the repeat delimiter, dropping empty repeats.
func (d Delimiters) Repeats(v string) []string {
	parts := strings.Split(v, string(d.Repeat))
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

// Unescape replaces the escape sequences of ASTM E1394 §5.6 (&F&, &S&, &R&, &E&)
// with the delimiter characters they stand for. Unknown sequences are kept.
func (d Delimiters) Unescape(v string) string {
	esc := string(d.Escape)
	if !strings.Contains(v, esc) {
		return v
	}

	r := strings.NewReplacer(
		esc+"F"+esc, string(d.Field),
		esc+"S"+esc, string(d.Component),
		esc+"R"+esc, string(d.Repeat),
		esc+"E"+esc, esc,
	)

	return r.Replace(v)
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}
