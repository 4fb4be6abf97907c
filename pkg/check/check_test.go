package check

import (
	"testing"

	"github.com/droe-lang/droec/pkg/parser"
	"github.com/droe-lang/droec/pkg/resolver"
)

func parseModule(t *testing.T, name, source string) resolver.Module {
	t.Helper()
	prog, diags := parser.Parse("test.droe", source)
	if diags.HasErrors() {
		t.Fatalf("parse errors: %v", diags)
	}
	return resolver.Module{Path: "test.droe", Name: name, Program: prog}
}

func TestCheckValidProgram(t *testing.T) {
	mod := parseModule(t, "", `
action add with a which is int, b which is int gives int
give a plus b
end action

set total which is int from add with 10, 5
display total
`)

	diags := New().Check([]resolver.Module{mod})
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
}

func TestCheckUnknownIdentifier(t *testing.T) {
	mod := parseModule(t, "", `display missing`)

	diags := New().Check([]resolver.Module{mod})
	if !diags.HasErrors() {
		t.Fatal("expected an unknown-identifier diagnostic")
	}
	found := false
	for _, d := range diags {
		if d.Kind == "type.unknown_identifier" {
			found = true
		}
	}
	if !found {
		t.Errorf("diagnostics %v do not include type.unknown_identifier", diags)
	}
}

func TestCheckArityMismatch(t *testing.T) {
	mod := parseModule(t, "", `
action add with a which is int, b which is int gives int
give a plus b
end action

set total which is int from add with 10
`)

	diags := New().Check([]resolver.Module{mod})
	if !diags.HasErrors() {
		t.Fatal("expected an arity-mismatch diagnostic")
	}
	found := false
	for _, d := range diags {
		if d.Kind == "type.arity_mismatch" {
			found = true
		}
	}
	if !found {
		t.Errorf("diagnostics %v do not include type.arity_mismatch", diags)
	}
}

func TestCheckIncompatibleAssignment(t *testing.T) {
	mod := parseModule(t, "", `set total which is int to "hello"`)

	diags := New().Check([]resolver.Module{mod})
	if !diags.HasErrors() {
		t.Fatal("expected an incompatible-assignment diagnostic")
	}
	found := false
	for _, d := range diags {
		if d.Kind == "type.incompatible_assignment" {
			found = true
		}
	}
	if !found {
		t.Errorf("diagnostics %v do not include type.incompatible_assignment", diags)
	}
}

func TestCheckArgumentTypeMismatch(t *testing.T) {
	mod := parseModule(t, "", `
action add with a which is int, b which is int gives int
give a plus b
end action

set total which is int from add with 10, "oops"
`)

	diags := New().Check([]resolver.Module{mod})
	if !diags.HasErrors() {
		t.Fatal("expected an incompatible-argument diagnostic")
	}
}
