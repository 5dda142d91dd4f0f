package scope_test

import (
	"errors"
	"testing"

	"github.com/ipflow/relay/scope"
)

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name     string
		granted  []string
		required string
		want     bool
	}{
		{"prefix wildcard read", []string{"forms.*"}, "forms.read", true},
		{"prefix wildcard write", []string{"forms.*"}, "forms.write", true},
		{"prefix wildcard nested", []string{"forms.*"}, "forms.patent.read", true},
		{"prefix wildcard other namespace", []string{"forms.*"}, "cases.read", false},
		{"prefix wildcard boundary", []string{"forms.*"}, "formsx.read", false},
		{"prefix wildcard bare namespace", []string{"forms.*"}, "forms", false},
		{"universal", []string{"*"}, "anything", true},
		{"exact", []string{"cases.write"}, "cases.write", true},
		{"exact mismatch", []string{"cases.write"}, "cases.read", false},
		{"case sensitive", []string{"cases.write"}, "Cases.write", false},
		{"any of many", []string{"cases.read", "forms.*"}, "forms.submit", true},
		{"empty set", nil, "cases.read", false},
		{"empty required", []string{"*"}, "", false},
		{"malformed grant ignored", []string{"forms*"}, "formsx", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scope.Authorize(tt.granted, tt.required); got != tt.want {
				t.Errorf("Authorize(%v, %q) = %v, want %v", tt.granted, tt.required, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		kind scope.Kind
		val  string
	}{
		{"*", scope.KindAny, ""},
		{"forms.*", scope.KindPrefix, "forms"},
		{"forms.patent.*", scope.KindPrefix, "forms.patent"},
		{"forms.read", scope.KindExact, "forms.read"},
	}
	for _, tt := range tests {
		p, err := scope.Parse(tt.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.in, err)
		}
		if p.Kind != tt.kind || p.Value != tt.val {
			t.Errorf("Parse(%q) = %+v, want kind %d value %q", tt.in, p, tt.kind, tt.val)
		}
		if p.String() != tt.in {
			t.Errorf("String() = %q, want %q", p.String(), tt.in)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", ".*", "forms*", "*.read", "forms.*.read", "forms..*", "cases read", "**"} {
		if _, err := scope.Parse(in); !errors.Is(err, scope.ErrInvalidPattern) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidPattern", in, err)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := scope.Validate([]string{"cases.read", "forms.*", "*"}); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := scope.Validate([]string{"cases.read", "bad*"}); err == nil {
		t.Fatal("expected error for bad scope")
	}
}
