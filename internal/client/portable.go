package client

import (
	"fmt"
	"os"

	"github.com/ZerkerEOD/permfarm/internal/permuter"
	"github.com/ZerkerEOD/permfarm/pkg/debug"
)

// PortablePermuter is everything a server needs to evaluate a permuter on
// another machine. It is immutable once built.
type PortablePermuter struct {
	FnName           string
	Filename         string
	KeepProb         float64
	StackDifferences bool
	CompressedSource []byte
	BaseScore        int
	BaseHash         string
	TargetOBin       []byte
	CompileScript    string
}

// NewPortablePermuter snapshots p, reading its reference object and compile
// script from disk.
func NewPortablePermuter(p *permuter.Permuter) (*PortablePermuter, error) {
	compressed, err := compressSource(p.Source)
	if err != nil {
		return nil, fmt.Errorf("permuter %s: %w", p.FnName, err)
	}

	targetO, err := os.ReadFile(p.TargetO)
	if err != nil {
		return nil, fmt.Errorf("permuter %s: failed to read target object: %w", p.FnName, err)
	}

	script, err := os.ReadFile(p.CompileScript)
	if err != nil {
		return nil, fmt.Errorf("permuter %s: failed to read compile script: %w", p.FnName, err)
	}
	portable, err := MakeScriptPortable(string(script))
	if err != nil {
		return nil, fmt.Errorf("permuter %s: malformed compile script %s: %w", p.FnName, p.CompileScript, err)
	}

	debug.Debug("Prepared permuter %s: source %d -> %d bytes compressed, object %d bytes",
		p.FnName, len(p.Source), len(compressed), len(targetO))

	return &PortablePermuter{
		FnName:           p.FnName,
		Filename:         p.SourceFile,
		KeepProb:         p.KeepProb,
		StackDifferences: p.StackDifferences,
		CompressedSource: compressed,
		BaseScore:        p.BaseScore,
		BaseHash:         p.BaseHash,
		TargetOBin:       targetO,
		CompileScript:    portable,
	}, nil
}

// NewPortablePermuters builds descriptors in order, stopping at the first error.
func NewPortablePermuters(perms []*permuter.Permuter) ([]*PortablePermuter, error) {
	out := make([]*PortablePermuter, 0, len(perms))
	for _, p := range perms {
		pp, err := NewPortablePermuter(p)
		if err != nil {
			return nil, err
		}
		out = append(out, pp)
	}
	return out, nil
}

// payloadSize is the number of binary bytes sent at registration.
func (p *PortablePermuter) payloadSize() int {
	return len(p.CompressedSource) + len(p.TargetOBin)
}
