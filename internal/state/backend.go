// Package state persists bandit arm statistics. Backends are swappable
// behind one interface; the engine always does load-mutate-save per
// operation, so the hosting process can restart between calls without losing
// learned state. Concurrent writers resolve last-writer-wins.
package state

import "context"

// ArmRecord is the durable statistics of one runner arm. Fields only
// accumulate; additive schema changes must default-fill on load.
type ArmRecord struct {
	Pulls         int     `json:"pulls"`
	TotalReward   float64 `json:"total_reward"`
	Successes     int     `json:"successes"`
	Failures      int     `json:"failures"`
	TotalDuration float64 `json:"total_duration"`
}

// Document is the single persisted state document, keyed by runner key.
type Document struct {
	Algorithm  string               `json:"algorithm,omitempty"`
	TotalPulls int                  `json:"total_pulls"`
	Runners    map[string]ArmRecord `json:"runners"`
}

// NewDocument returns an empty document ("no prior knowledge").
func NewDocument() Document {
	return Document{Runners: map[string]ArmRecord{}}
}

// Clone returns an independent copy of the document.
func (d Document) Clone() Document {
	out := Document{
		Algorithm:  d.Algorithm,
		TotalPulls: d.TotalPulls,
		Runners:    make(map[string]ArmRecord, len(d.Runners)),
	}
	for key, rec := range d.Runners {
		out.Runners[key] = rec
	}
	return out
}

// Backend persists the state document. Load on a backend that has never been
// written returns an empty document, not an error.
type Backend interface {
	Load(ctx context.Context) (Document, error)
	Save(ctx context.Context, doc Document) error
}
