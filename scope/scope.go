// Package scope matches credential scopes against the scope an operation
// requires.
//
// A granted scope is one of three variants:
//
//	"*"          any scope
//	"forms.*"    any scope beginning with "forms."
//	"forms.read" exactly "forms.read"
//
// No other wildcard forms exist. Matching is case-sensitive.
package scope

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags a Pattern variant.
type Kind uint8

const (
	KindExact Kind = iota + 1
	KindPrefix
	KindAny
)

const (
	wildcard       = "*"
	prefixWildcard = ".*"
)

// ErrInvalidPattern is returned by Parse for strings that are not a
// supported scope form.
var ErrInvalidPattern = errors.New("scope: invalid pattern")

// Pattern is a parsed granted scope. For KindPrefix, Value holds the part
// before ".*"; for KindExact the full scope; for KindAny it is empty.
type Pattern struct {
	Kind  Kind
	Value string
}

// Parse converts a granted scope string into a Pattern.
func Parse(s string) (Pattern, error) {
	switch {
	case s == "":
		return Pattern{}, fmt.Errorf("%w: empty", ErrInvalidPattern)
	case strings.ContainsAny(s, " \t\r\n"):
		return Pattern{}, fmt.Errorf("%w: %q contains whitespace", ErrInvalidPattern, s)
	case s == wildcard:
		return Pattern{Kind: KindAny}, nil
	}

	if base, ok := strings.CutSuffix(s, prefixWildcard); ok {
		if base == "" || strings.Contains(base, wildcard) || strings.HasSuffix(base, ".") {
			return Pattern{}, fmt.Errorf("%w: %q", ErrInvalidPattern, s)
		}
		return Pattern{Kind: KindPrefix, Value: base}, nil
	}

	if strings.Contains(s, wildcard) {
		return Pattern{}, fmt.Errorf("%w: %q: wildcard only allowed as \"*\" or a trailing \".*\"", ErrInvalidPattern, s)
	}
	return Pattern{Kind: KindExact, Value: s}, nil
}

// Matches reports whether the pattern grants required.
func (p Pattern) Matches(required string) bool {
	if required == "" {
		return false
	}
	switch p.Kind {
	case KindAny:
		return true
	case KindPrefix:
		return strings.HasPrefix(required, p.Value+".")
	case KindExact:
		return required == p.Value
	default:
		return false
	}
}

func (p Pattern) String() string {
	switch p.Kind {
	case KindAny:
		return wildcard
	case KindPrefix:
		return p.Value + prefixWildcard
	default:
		return p.Value
	}
}

// Authorize reports whether any of the granted scopes covers required.
// Granted entries that fail to parse never match.
func Authorize(granted []string, required string) bool {
	for _, g := range granted {
		p, err := Parse(g)
		if err != nil {
			continue
		}
		if p.Matches(required) {
			return true
		}
	}
	return false
}

// Validate checks that every scope in the set parses.
func Validate(scopes []string) error {
	var errs []error
	for _, s := range scopes {
		if _, err := Parse(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
