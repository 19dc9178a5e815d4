// Package rulestore manages the hot-reloadable rule configuration.
//
// The store holds one immutable snapshot at a time. Reloads build and
// validate a complete replacement before publishing it with a single
// atomic pointer swap: in-flight evaluations keep the snapshot they
// started with, and a failed reload leaves the previous snapshot active.
package rulestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veritas-id/kestrel/internal/domain"
	"github.com/veritas-id/kestrel/internal/rules"
)

// ErrConfig marks malformed or invalid rule-source documents.
// A reload returning ErrConfig has not changed the active snapshot.
var ErrConfig = errors.New("invalid rule configuration")

// Snapshot is an immutable rule set plus its pre-compiled conditions.
type Snapshot struct {
	Set      *domain.RuleSet
	Compiled []rules.CompiledRule
}

// Store loads rule documents and publishes immutable snapshots.
type Store struct {
	source   string
	compiler *rules.Compiler
	current  atomic.Pointer[Snapshot]
}

// New creates a store reading from the given source path. Until the first
// successful Load, Current returns an empty snapshot with default
// thresholds so evaluation never observes a nil rule set.
func New(source string, compiler *rules.Compiler) *Store {
	s := &Store{
		source:   source,
		compiler: compiler,
	}
	s.current.Store(&Snapshot{
		Set: &domain.RuleSet{
			Thresholds: domain.DefaultThresholds(),
			Source:     source,
			LoadedAt:   time.Now().UTC(),
		},
	})
	return s
}

// Source returns the configured source path.
func (s *Store) Source() string {
	return s.source
}

// Current returns the latest committed snapshot. Non-blocking; safe for
// concurrent use with Reload.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Load reads, validates, compiles and commits the rule source.
func (s *Store) Load() (*Snapshot, error) {
	return s.Reload()
}

// Reload builds a new snapshot from the source document and swaps it in.
// On any validation or compilation failure the previous snapshot remains
// active and an ErrConfig-wrapped error is returned; the store is never
// left partially updated.
func (s *Store) Reload() (*Snapshot, error) {
	snap, err := s.build()
	if err != nil {
		return nil, err
	}
	s.current.Store(snap)
	return snap, nil
}

// ruleDocument is the on-disk shape of a rule source.
type ruleDocument struct {
	Rules      []domain.RuleDefinition `json:"rules" yaml:"rules"`
	Thresholds *domain.Thresholds      `json:"thresholds" yaml:"thresholds"`
}

func (s *Store) build() (*Snapshot, error) {
	data, err := os.ReadFile(s.source)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrConfig, s.source, err)
	}

	var doc ruleDocument
	switch strings.ToLower(filepath.Ext(s.source)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrConfig, s.source, err)
	}

	if err := validate(doc.Rules); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	thresholds := domain.DefaultThresholds()
	if doc.Thresholds != nil {
		thresholds = *doc.Thresholds
	}
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	compiled, err := s.compiler.CompileAll(doc.Rules)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	return &Snapshot{
		Set: &domain.RuleSet{
			Rules:      doc.Rules,
			Thresholds: thresholds,
			Source:     s.source,
			LoadedAt:   time.Now().UTC(),
		},
		Compiled: compiled,
	}, nil
}

// validate checks the structural invariants that fail a whole reload.
func validate(defs []domain.RuleDefinition) error {
	seen := make(map[string]bool, len(defs))
	for i := range defs {
		if err := defs[i].Validate(); err != nil {
			return err
		}
		if seen[defs[i].ID] {
			return fmt.Errorf("duplicate rule id %q", defs[i].ID)
		}
		seen[defs[i].ID] = true
	}
	return nil
}
