package catalog_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/ipflow/relay/catalog"
)

func TestDefaultRegistry(t *testing.T) {
	r := catalog.Default()

	if !r.Has("case.created") {
		t.Fatal("expected case.created to be registered")
	}
	if r.Has(catalog.TestEvent) {
		t.Fatal("test event must not be registered")
	}
	if got := len(r.List()); got != len(catalog.Defaults) {
		t.Fatalf("List() len = %d, want %d", got, len(catalog.Defaults))
	}
}

func TestExpand(t *testing.T) {
	r := catalog.Default()

	got, err := r.Expand([]string{"case.*", "form.generated", "case.created"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"case.closed", "case.created", "case.updated", "form.generated"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Expand = %v, want %v", got, want)
	}
}

func TestExpandUnknown(t *testing.T) {
	r := catalog.Default()

	_, err := r.Expand([]string{"case.created", "invoice.paid"})
	if !errors.Is(err, catalog.ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if _, err := r.Expand([]string{catalog.TestEvent}); !errors.Is(err, catalog.ErrUnknownEvent) {
		t.Fatalf("test event must not expand, got %v", err)
	}
}

func TestValidatePayload(t *testing.T) {
	r := catalog.Default()

	if err := r.Validate("case.created", json.RawMessage(`{"caseId":"case_1","title":"x"}`)); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	if err := r.Validate("case.created", json.RawMessage(`{"title":"no id"}`)); err != nil {
		t.Fatalf("id fields are optional, got %v", err)
	}

	err := r.Validate("case.created", json.RawMessage(`{"caseId":""}`))
	var se *catalog.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if se.Event != "case.created" {
		t.Fatalf("SchemaError.Event = %q", se.Event)
	}

	if err := r.Validate("case.created", json.RawMessage(`{"caseId":42}`)); err == nil {
		t.Fatal("expected type mismatch to fail")
	}

	if err := r.Validate("invoice.paid", json.RawMessage(`{}`)); !errors.Is(err, catalog.ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestValidateWithoutSchema(t *testing.T) {
	r := catalog.NewRegistry(catalog.Definition{Name: "note.added"})
	if err := r.Validate("note.added", nil); err != nil {
		t.Fatalf("schema-less event should accept anything: %v", err)
	}
}

func TestRegisterRejectsBadDefinitions(t *testing.T) {
	r := catalog.NewRegistry()

	bad := []catalog.Definition{
		{Name: ""},
		{Name: "case.*"},
		{Name: "case..created"},
		{Name: catalog.TestEvent},
		{Name: "case.created", Schema: json.RawMessage(`{"type": 12}`)},
		{Name: "case.created", Schema: json.RawMessage(`{not json`)},
	}
	for _, d := range bad {
		if err := r.Register(d); !errors.Is(err, catalog.ErrInvalidDefinition) {
			t.Errorf("Register(%q) = %v, want ErrInvalidDefinition", d.Name, err)
		}
	}
}
