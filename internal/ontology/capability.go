package ontology

import "sort"

// Kind categorizes a capability token.
type Kind string

const (
	KindExecutor Kind = "executor" // docker, shell, kubernetes
	KindPlatform Kind = "platform" // linux, macos, windows
	KindCloud    Kind = "cloud"    // gcp, aws, azure
	KindHardware Kind = "hardware" // gpu, arm64, x86_64
	KindNetwork  Kind = "network"  // regions, vpn
	KindCustom   Kind = "custom"   // anything declared on the fly
)

// StandardTaxonomy maps well-known capability tokens to their kind. Tokens
// outside this table are registered as KindCustom when first seen.
var StandardTaxonomy = map[string]Kind{
	"docker":         KindExecutor,
	"shell":          KindExecutor,
	"kubernetes":     KindExecutor,
	"docker-machine": KindExecutor,

	"linux":   KindPlatform,
	"macos":   KindPlatform,
	"windows": KindPlatform,

	"gcp":   KindCloud,
	"aws":   KindCloud,
	"azure": KindCloud,
	"cloud": KindCloud,

	"gpu":    KindHardware,
	"arm64":  KindHardware,
	"x86_64": KindHardware,

	"nordic":  KindNetwork,
	"eu-west": KindNetwork,
	"us-east": KindNetwork,
}

// DefaultImplications are the implication rules active when no custom rules
// are configured. A runner declaring the key capability also gets the values.
var DefaultImplications = map[string][]string{
	"docker": {"linux"},
	"gcp":    {"cloud"},
	"aws":    {"cloud"},
	"azure":  {"cloud"},
	"nordic": {"eu-west", "gcp"},
}

// Set is a set of capability tokens.
type Set map[string]struct{}

// NewSet builds a Set from tokens.
func NewSet(tokens ...string) Set {
	s := make(Set, len(tokens))
	for _, t := range tokens {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether the set contains token.
func (s Set) Has(token string) bool {
	_, ok := s[token]
	return ok
}

// HasAll reports whether every token is in the set.
func (s Set) HasAll(tokens []string) bool {
	for _, t := range tokens {
		if !s.Has(t) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for t := range s {
		out[t] = struct{}{}
	}
	return out
}

// Sorted returns the tokens in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
