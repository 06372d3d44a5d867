// Package language holds the immutable per-language execution profiles.
// Loaded once at startup; never mutated by running jobs.
package language

import (
	"errors"
	"sync"
)

var (
	ErrUnknownLanguage = errors.New("unknown language")
)

// Profile maps one language identifier to its compile/run commands,
// images and file naming. CompileCmd nil means the language is interpreted.
type Profile struct {
	ID           string
	Name         string
	SourceFile   string
	CompileImage string
	CompileCmd   []string
	CompileEnv   []string
	// ArtifactPath is the container path of the compile output copied
	// into each run sandbox.
	ArtifactPath string
	RunImage     string
	RunCmd       []string
}

// Compiles reports whether the language needs a shared compile step.
func (p Profile) Compiles() bool {
	return len(p.CompileCmd) > 0
}

type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewRegistry() *Registry {
	r := &Registry{
		profiles: make(map[string]Profile),
	}
	r.registerDefaults()
	return r
}

func (r *Registry) Register(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ID] = p
}

func (r *Registry) Get(id string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, ErrUnknownLanguage
	}
	return p, nil
}

func (r *Registry) List() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profiles := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		profiles = append(profiles, p)
	}
	return profiles
}

func (r *Registry) registerDefaults() {
	r.Register(Profile{
		ID:         "python",
		Name:       "Python",
		SourceFile: "main.py",
		RunImage:   "python:3.11-slim",
		RunCmd:     []string{"python3", "main.py"},
	})

	r.Register(Profile{
		ID:         "javascript",
		Name:       "JavaScript",
		SourceFile: "main.js",
		RunImage:   "node:20-slim",
		RunCmd:     []string{"node", "main.js"},
	})

	r.Register(Profile{
		ID:         "ruby",
		Name:       "Ruby",
		SourceFile: "main.rb",
		RunImage:   "ruby:3.2-slim",
		RunCmd:     []string{"ruby", "main.rb"},
	})

	r.Register(Profile{
		ID:           "c",
		Name:         "C",
		SourceFile:   "main.c",
		CompileImage: "gcc:13",
		CompileCmd:   []string{"gcc", "-O2", "-static", "-o", "main", "main.c"},
		ArtifactPath: "/box/main",
		RunImage:     "debian:bookworm-slim",
		RunCmd:       []string{"./main"},
	})

	r.Register(Profile{
		ID:           "cpp",
		Name:         "C++",
		SourceFile:   "main.cpp",
		CompileImage: "gcc:13",
		CompileCmd:   []string{"g++", "-O2", "-static", "-o", "main", "main.cpp"},
		ArtifactPath: "/box/main",
		RunImage:     "debian:bookworm-slim",
		RunCmd:       []string{"./main"},
	})

	r.Register(Profile{
		ID:           "rust",
		Name:         "Rust",
		SourceFile:   "main.rs",
		CompileImage: "rust:1.79-slim",
		CompileCmd:   []string{"rustc", "-O", "-o", "main", "main.rs"},
		ArtifactPath: "/box/main",
		RunImage:     "debian:bookworm-slim",
		RunCmd:       []string{"./main"},
	})

	r.Register(Profile{
		ID:           "go",
		Name:         "Go",
		SourceFile:   "main.go",
		CompileImage: "golang:1.22",
		CompileCmd:   []string{"go", "build", "-o", "main", "main.go"},
		CompileEnv:   []string{"CGO_ENABLED=0", "GOCACHE=/tmp/gocache", "GOPATH=/tmp/gopath", "GO111MODULE=off"},
		ArtifactPath: "/box/main",
		RunImage:     "debian:bookworm-slim",
		RunCmd:       []string{"./main"},
	})

	r.Register(Profile{
		ID:           "java",
		Name:         "Java",
		SourceFile:   "Main.java",
		CompileImage: "eclipse-temurin:21",
		CompileCmd:   []string{"javac", "-d", "classes", "Main.java"},
		ArtifactPath: "/box/classes",
		RunImage:     "eclipse-temurin:21",
		RunCmd:       []string{"java", "-cp", "classes", "Main"},
	})
}
