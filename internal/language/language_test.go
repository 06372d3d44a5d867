package language

import (
	"errors"
	"testing"
)

func TestRegistryDefaults(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		id       string
		compiles bool
	}{
		{"python", false},
		{"javascript", false},
		{"ruby", false},
		{"c", true},
		{"cpp", true},
		{"rust", true},
		{"go", true},
		{"java", true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			p, err := r.Get(tt.id)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Compiles() != tt.compiles {
				t.Fatalf("Compiles(): got %v, want %v", p.Compiles(), tt.compiles)
			}
			if p.SourceFile == "" || p.RunImage == "" || len(p.RunCmd) == 0 {
				t.Fatalf("incomplete profile: %+v", p)
			}
			if p.Compiles() && (p.CompileImage == "" || p.ArtifactPath == "") {
				t.Fatalf("compiled language without compile image or artifact path: %+v", p)
			}
		})
	}

	if len(r.List()) != len(tests) {
		t.Fatalf("List(): got %d profiles, want %d", len(r.List()), len(tests))
	}
}

func TestRegistryUnknownLanguage(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("cobol")
	if !errors.Is(err, ErrUnknownLanguage) {
		t.Fatalf("got %v, want ErrUnknownLanguage", err)
	}
}

func TestRegistryRegisterOverride(t *testing.T) {
	r := NewRegistry()
	r.Register(Profile{
		ID:         "python",
		Name:       "Python",
		SourceFile: "main.py",
		RunImage:   "python:3.12-slim",
		RunCmd:     []string{"python3", "main.py"},
	})

	p, err := r.Get("python")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.RunImage != "python:3.12-slim" {
		t.Fatalf("override not applied: %+v", p)
	}
}
