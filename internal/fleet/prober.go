// Package fleet queries runner online status from the orchestrating CI
// system. A probe that cannot answer reports "unknown" rather than "fleet
// down", because a flaky status API must never trigger capacity starts.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/wolfram-laube/backoffice/internal/logging"
)

// RunnerRef identifies one runner in the status API.
type RunnerRef struct {
	ID        int    `yaml:"id"`
	RunnerKey string `yaml:"runner_key"`
}

// ProbeResult is the answer of one availability probe. Unknown means the
// probe could not determine fleet state; callers must treat that as "assume
// available, do not intervene".
type ProbeResult struct {
	Online  map[string]struct{}
	Offline []string
	Unknown bool
	Reason  string
}

// IsOnline reports whether runnerKey was seen online. Only meaningful when
// Unknown is false.
func (r ProbeResult) IsOnline(runnerKey string) bool {
	_, ok := r.Online[runnerKey]
	return ok
}

// OnlineKeys returns the online runner keys in lexical order.
func (r ProbeResult) OnlineKeys() []string {
	keys := make([]string, 0, len(r.Online))
	for key := range r.Online {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Config configures the prober.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
	Runners []RunnerRef   `yaml:"runners"`
}

// Prober checks runner availability against the CI status API.
type Prober struct {
	baseURL string
	token   string
	client  *http.Client
	runners []RunnerRef
	logger  logging.Logger
}

// NewProber creates a prober. A zero timeout defaults to five seconds.
func NewProber(cfg Config, logger logging.Logger) *Prober {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
		runners: append([]RunnerRef(nil), cfg.Runners...),
		logger:  logging.OrNop(logger),
	}
}

type runnerStatus struct {
	Status string `json:"status"`
}

// OnlineRunnerKeys probes each registered runner. Without a token the result
// is unknown (assume available). A runner whose lookup fails is counted
// offline; if every lookup fails the whole probe is unknown.
func (p *Prober) OnlineRunnerKeys(ctx context.Context) ProbeResult {
	if p.token == "" || p.baseURL == "" {
		p.logger.Warn("fleet: no status API configured, assuming all runners available")
		return ProbeResult{Unknown: true, Reason: "status API not configured"}
	}
	if len(p.runners) == 0 {
		return ProbeResult{Unknown: true, Reason: "no runners registered with the status API"}
	}

	result := ProbeResult{Online: map[string]struct{}{}}
	failures := 0
	for _, ref := range p.runners {
		online, err := p.probeOne(ctx, ref.ID)
		if err != nil {
			p.logger.Warn("fleet: could not check runner %s: %v", ref.RunnerKey, err)
			result.Offline = append(result.Offline, ref.RunnerKey)
			failures++
			continue
		}
		if online {
			result.Online[ref.RunnerKey] = struct{}{}
		} else {
			result.Offline = append(result.Offline, ref.RunnerKey)
		}
	}
	if failures == len(p.runners) {
		return ProbeResult{Unknown: true, Reason: "status API unreachable"}
	}
	sort.Strings(result.Offline)
	p.logger.Info("fleet: %d online, %d offline", len(result.Online), len(result.Offline))
	return result
}

func (p *Prober) probeOne(ctx context.Context, runnerID int) (bool, error) {
	url := fmt.Sprintf("%s/runners/%d", p.baseURL, runnerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("PRIVATE-TOKEN", p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("status API returned %d", resp.StatusCode)
	}

	var status runnerStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, fmt.Errorf("failed to decode status response: %w", err)
	}
	return status.Status == "online", nil
}
