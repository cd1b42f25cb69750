package engine

import (
	"sync/atomic"
)

// Snapshot is one immutable generation of the moderation table with the
// evaluator and resolver built from it.
type Snapshot struct {
	Config    Config
	Hash      string
	Evaluator *RiskEvaluator
	Resolver  *ActionResolver
}

// NewSnapshot builds a snapshot from a validated config.
func NewSnapshot(cfg Config, opts ...EvaluatorOption) *Snapshot {
	c := cfg.Clone()
	return &Snapshot{
		Config:    c,
		Hash:      c.Hash(),
		Evaluator: NewRiskEvaluator(c, opts...),
		Resolver:  NewActionResolver(c),
	}
}

// WithOverride returns a snapshot with a per-project override applied.
// An empty override returns s unchanged.
func (s *Snapshot) WithOverride(o *PolicyOverride, opts ...EvaluatorOption) (*Snapshot, error) {
	if o.IsEmpty() {
		return s, nil
	}
	cfg, err := o.Apply(s.Config)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(cfg, opts...), nil
}

// SnapshotHolder publishes the live snapshot. Readers never observe a
// partially updated table.
type SnapshotHolder struct {
	p atomic.Pointer[Snapshot]
}

// NewSnapshotHolder creates a holder serving s.
func NewSnapshotHolder(s *Snapshot) *SnapshotHolder {
	h := &SnapshotHolder{}
	h.p.Store(s)
	return h
}

// Load returns the current snapshot.
func (h *SnapshotHolder) Load() *Snapshot {
	return h.p.Load()
}

// Swap installs s and returns the previous snapshot.
func (h *SnapshotHolder) Swap(s *Snapshot) *Snapshot {
	return h.p.Swap(s)
}
