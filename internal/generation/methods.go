package generation

import (
	"sort"
	"strings"

	"github.com/congo-pay/mintledger/internal/challenge"
)

// Method describes how a generation is challenged.
type Method struct {
	Name   string
	Digits int
}

// Methods is a read-only set of generation methods, built once at startup.
type Methods struct {
	byName map[string]Method
}

// NewMethods builds a method set. Later entries with the same name win.
func NewMethods(methods ...Method) Methods {
	byName := make(map[string]Method, len(methods))
	for _, m := range methods {
		if m.Digits <= 0 {
			m.Digits = challenge.DefaultDigits
		}
		byName[strings.ToLower(m.Name)] = m
	}
	return Methods{byName: byName}
}

// DefaultMethods returns the standard (6 digit) and secure (8 digit) methods.
func DefaultMethods() Methods {
	return NewMethods(
		Method{Name: "standard", Digits: 6},
		Method{Name: "secure", Digits: 8},
	)
}

// Lookup finds a method by case-insensitive name.
func (m Methods) Lookup(name string) (Method, bool) {
	method, ok := m.byName[strings.ToLower(strings.TrimSpace(name))]
	return method, ok
}

// Names lists the known method names in sorted order.
func (m Methods) Names() []string {
	names := make([]string, 0, len(m.byName))
	for name := range m.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
