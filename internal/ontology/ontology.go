// Package ontology holds the fleet's capability knowledge: which runner can do
// what, and which capabilities imply others. The solver consults it to build
// feasible sets, the bandit engine to validate observed runner keys.
package ontology

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wolfram-laube/backoffice/internal/logging"
)

// NotFoundError is returned when a runner key is not registered.
type NotFoundError struct {
	RunnerKey string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("runner %q is not registered", e.RunnerKey)
}

// RunnerProfile describes one execution agent. Capabilities is the declared
// set closed under the implication rules.
type RunnerProfile struct {
	RunnerKey     string
	DisplayName   string
	Tags          []string
	Capabilities  Set
	CostPerMinute float64
	ExecutorClass string
}

// Ontology is the registry of runner profiles plus the implication rules.
// Registration replaces a runner's declared set and recomputes only that
// runner's closure; other runners are untouched.
type Ontology struct {
	mu           sync.RWMutex
	runners      map[string]*RunnerProfile
	implications map[string][]string
	kinds        map[string]Kind
	logger       logging.Logger
}

// Option configures an Ontology at construction time.
type Option func(*Ontology)

// WithImplications replaces the default implication rules.
func WithImplications(rules map[string][]string) Option {
	return func(o *Ontology) {
		o.implications = make(map[string][]string, len(rules))
		for k, v := range rules {
			o.implications[k] = append([]string(nil), v...)
		}
	}
}

// WithLogger sets the ontology logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *Ontology) { o.logger = logger }
}

// New creates an Ontology seeded with the standard taxonomy and default
// implication rules.
func New(opts ...Option) *Ontology {
	o := &Ontology{
		runners:      make(map[string]*RunnerProfile),
		implications: DefaultImplications,
		kinds:        make(map[string]Kind, len(StandardTaxonomy)),
		logger:       logging.Nop(),
	}
	for name, kind := range StandardTaxonomy {
		o.kinds[name] = kind
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrNop(o.logger)
	return o
}

// RegisterInput carries the declared facts for a runner registration.
type RegisterInput struct {
	RunnerKey     string
	DisplayName   string
	Tags          []string
	Capabilities  []string
	CostPerMinute float64
	ExecutorClass string
}

// Register adds or replaces a runner profile. Declared capabilities are
// normalized to lower case and closed under the implication rules. Unknown
// tokens become custom capabilities rather than errors.
func (o *Ontology) Register(in RegisterInput) (*RunnerProfile, error) {
	if strings.TrimSpace(in.RunnerKey) == "" {
		return nil, fmt.Errorf("runner key must not be empty")
	}
	if in.CostPerMinute < 0 {
		return nil, fmt.Errorf("runner %q: cost per minute must not be negative", in.RunnerKey)
	}

	declared := make([]string, 0, len(in.Capabilities))
	for _, c := range in.Capabilities {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		declared = append(declared, c)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	closed := o.closureLocked(declared)
	for token := range closed {
		if _, known := o.kinds[token]; !known {
			o.kinds[token] = KindCustom
		}
	}

	display := in.DisplayName
	if display == "" {
		display = in.RunnerKey
	}
	profile := &RunnerProfile{
		RunnerKey:     in.RunnerKey,
		DisplayName:   display,
		Tags:          append([]string(nil), in.Tags...),
		Capabilities:  closed,
		CostPerMinute: in.CostPerMinute,
		ExecutorClass: in.ExecutorClass,
	}
	if _, replacing := o.runners[in.RunnerKey]; replacing {
		o.logger.Info("ontology: re-registered runner %q (%d capabilities)", in.RunnerKey, len(closed))
	} else {
		o.logger.Info("ontology: registered runner %q (%d capabilities)", in.RunnerKey, len(closed))
	}
	o.runners[in.RunnerKey] = profile
	return profile, nil
}

// closureLocked computes the implication closure of the declared tokens.
// The loop runs to a fixed point: a pass that adds nothing terminates it, so
// cyclic or self-referential rules cannot loop forever.
func (o *Ontology) closureLocked(declared []string) Set {
	closed := NewSet(declared...)
	for {
		changed := false
		for token := range closed {
			for _, implied := range o.implications[token] {
				if !closed.Has(implied) {
					closed[implied] = struct{}{}
					changed = true
				}
			}
		}
		if !changed {
			return closed
		}
	}
}

// CapabilitiesOf returns the closed capability set of a registered runner.
func (o *Ontology) CapabilitiesOf(runnerKey string) (Set, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	profile, ok := o.runners[runnerKey]
	if !ok {
		return nil, &NotFoundError{RunnerKey: runnerKey}
	}
	return profile.Capabilities.Clone(), nil
}

// Profile returns a copy of the registered profile for runnerKey.
func (o *Ontology) Profile(runnerKey string) (RunnerProfile, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	profile, ok := o.runners[runnerKey]
	if !ok {
		return RunnerProfile{}, &NotFoundError{RunnerKey: runnerKey}
	}
	return o.copyProfileLocked(profile), nil
}

// Profiles returns copies of all registered profiles in runner-key order.
func (o *Ontology) Profiles() []RunnerProfile {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]RunnerProfile, 0, len(o.runners))
	for _, profile := range o.runners {
		out = append(out, o.copyProfileLocked(profile))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunnerKey < out[j].RunnerKey })
	return out
}

// Known reports whether runnerKey is registered.
func (o *Ontology) Known(runnerKey string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.runners[runnerKey]
	return ok
}

// RunnerKeys returns all registered keys in lexical order.
func (o *Ontology) RunnerKeys() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	keys := make([]string, 0, len(o.runners))
	for key := range o.runners {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Implications returns a copy of the active implication rules.
func (o *Ontology) Implications() map[string][]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string][]string, len(o.implications))
	for k, v := range o.implications {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// KindOf returns the kind recorded for a capability token, or KindCustom when
// the token has never been seen.
func (o *Ontology) KindOf(token string) Kind {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if kind, ok := o.kinds[token]; ok {
		return kind
	}
	return KindCustom
}

func (o *Ontology) copyProfileLocked(p *RunnerProfile) RunnerProfile {
	return RunnerProfile{
		RunnerKey:     p.RunnerKey,
		DisplayName:   p.DisplayName,
		Tags:          append([]string(nil), p.Tags...),
		Capabilities:  p.Capabilities.Clone(),
		CostPerMinute: p.CostPerMinute,
		ExecutorClass: p.ExecutorClass,
	}
}
