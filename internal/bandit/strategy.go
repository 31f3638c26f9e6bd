package bandit

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/wolfram-laube/backoffice/internal/state"
)

// Choice is one strategy decision with enough context to explain it.
type Choice struct {
	RunnerKey  string
	Confidence float64
	Exploring  bool
	Reasoning  string
}

// Strategy picks one arm out of a feasible set given the current statistics.
// Implementations must only consider arms present in feasible; statistics of
// other arms are read (UCB1's global pull count) but never written.
type Strategy interface {
	Name() string
	Select(feasible []string, doc state.Document, rng *rand.Rand) Choice
}

// NewStrategy builds a strategy from its configured name. Unknown names fall
// back to UCB1.
func NewStrategy(name string) Strategy {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "thompson", "thompson_sampling":
		return &ThompsonSampling{PriorAlpha: 1.0, PriorBeta: 1.0}
	case "epsilon", "epsilon_greedy", "epsilon-greedy":
		return &EpsilonGreedy{Epsilon: 0.1}
	default:
		return &UCB1{C: 2.0}
	}
}

func meanReward(rec state.ArmRecord) float64 {
	if rec.Pulls == 0 {
		return 0.0
	}
	return rec.TotalReward / float64(rec.Pulls)
}

func sortedCopy(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	return out
}

// UCB1 is the default strategy: mean reward plus an exploration bonus that
// shrinks as an arm accumulates pulls.
type UCB1 struct {
	C float64
}

func (s *UCB1) Name() string { return "ucb1" }

// Select returns the unexplored arm with the smallest runner key, if any;
// otherwise the arg-max of mean + c*sqrt(ln(t)/pulls) where t is the pull
// count across all registered arms, not just the feasible ones. Ties go to
// the smaller runner key.
func (s *UCB1) Select(feasible []string, doc state.Document, rng *rand.Rand) Choice {
	keys := sortedCopy(feasible)
	lines := []string{fmt.Sprintf("Evaluating %d feasible runners:", len(keys))}

	for _, key := range keys {
		if doc.Runners[key].Pulls == 0 {
			lines = append(lines, fmt.Sprintf("  - %s: unexplored, selecting for exploration", key))
			return Choice{
				RunnerKey:  key,
				Confidence: 0.5,
				Exploring:  true,
				Reasoning:  strings.Join(lines, "\n"),
			}
		}
	}

	total := doc.TotalPulls
	if total < 1 {
		total = 1
	}
	best := ""
	bestValue := math.Inf(-1)
	secondValue := math.Inf(-1)
	for _, key := range keys {
		rec := doc.Runners[key]
		mean := meanReward(rec)
		bonus := s.C * math.Sqrt(math.Log(float64(total))/float64(rec.Pulls))
		value := mean + bonus
		lines = append(lines, fmt.Sprintf("  - %s: mean=%.3f explore=%.3f ucb=%.3f", key, mean, bonus, value))
		if value > bestValue {
			secondValue = bestValue
			bestValue = value
			best = key
		} else if value > secondValue {
			secondValue = value
		}
	}

	confidence := 1.0
	if !math.IsInf(secondValue, -1) && bestValue > 0 {
		confidence = math.Min(1.0, bestValue/(secondValue+0.001))
	}
	lines = append(lines, fmt.Sprintf("  selected %s (ucb=%.3f)", best, bestValue))
	return Choice{
		RunnerKey:  best,
		Confidence: confidence,
		Reasoning:  strings.Join(lines, "\n"),
	}
}

// ThompsonSampling keeps a Beta posterior per arm over its success rate and
// selects the arm with the highest posterior sample.
type ThompsonSampling struct {
	PriorAlpha float64
	PriorBeta  float64
}

func (s *ThompsonSampling) Name() string { return "thompson" }

func (s *ThompsonSampling) Select(feasible []string, doc state.Document, rng *rand.Rand) Choice {
	keys := sortedCopy(feasible)
	lines := []string{fmt.Sprintf("Sampling %d feasible runners:", len(keys))}

	best := ""
	bestSample := math.Inf(-1)
	secondSample := math.Inf(-1)
	for _, key := range keys {
		rec := doc.Runners[key]
		alpha := s.PriorAlpha + float64(rec.Successes)
		beta := s.PriorBeta + float64(rec.Failures)
		sample := sampleBeta(rng, alpha, beta)
		lines = append(lines, fmt.Sprintf("  - %s: Beta(%.0f,%.0f) sample=%.3f", key, alpha, beta, sample))
		if sample > bestSample {
			secondSample = bestSample
			bestSample = sample
			best = key
		} else if sample > secondSample {
			secondSample = sample
		}
	}

	confidence := 1.0
	if !math.IsInf(secondSample, -1) && bestSample > 0 {
		confidence = math.Min(1.0, bestSample/(secondSample+0.001))
	}
	lines = append(lines, fmt.Sprintf("  selected %s (sample=%.3f)", best, bestSample))
	return Choice{
		RunnerKey:  best,
		Confidence: confidence,
		Reasoning:  strings.Join(lines, "\n"),
	}
}

// EpsilonGreedy explores uniformly at random with probability Epsilon and
// otherwise exploits the best observed mean reward.
type EpsilonGreedy struct {
	Epsilon float64
}

func (s *EpsilonGreedy) Name() string { return "epsilon_greedy" }

func (s *EpsilonGreedy) Select(feasible []string, doc state.Document, rng *rand.Rand) Choice {
	keys := sortedCopy(feasible)

	if rng.Float64() < s.Epsilon {
		key := keys[rng.Intn(len(keys))]
		return Choice{
			RunnerKey:  key,
			Confidence: 0.5,
			Exploring:  true,
			Reasoning:  fmt.Sprintf("Exploring: picked %s uniformly at random (epsilon=%.2f)", key, s.Epsilon),
		}
	}

	best := ""
	bestMean := math.Inf(-1)
	for _, key := range keys {
		if mean := meanReward(doc.Runners[key]); mean > bestMean {
			bestMean = mean
			best = key
		}
	}
	return Choice{
		RunnerKey:  best,
		Confidence: 1.0,
		Reasoning:  fmt.Sprintf("Exploiting: %s has the best mean reward (%.3f)", best, bestMean),
	}
}

// sampleBeta draws from Beta(alpha, beta) via two Gamma draws.
func sampleBeta(rng *rand.Rand, alpha, beta float64) float64 {
	x := sampleGamma(rng, alpha)
	y := sampleGamma(rng, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using Marsaglia-Tsang, with the
// standard boost for shape < 1.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		u := rng.Float64()
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1.0-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}
