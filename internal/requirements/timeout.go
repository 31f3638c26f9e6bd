package requirements

import (
	"regexp"
	"strconv"
)

const defaultTimeoutSeconds = 3600

var durationParts = []struct {
	re         *regexp.Regexp
	multiplier int
}{
	{regexp.MustCompile(`(?i)(\d+)\s*h`), 3600},
	{regexp.MustCompile(`(?i)(\d+)\s*m`), 60},
	{regexp.MustCompile(`(?i)(\d+)\s*s`), 1},
}

// parseTimeout converts CI timeout strings ("1h 30m", "30 minutes", "3600")
// to seconds. Unparseable input falls back to one hour.
func parseTimeout(timeout string) int {
	if n, err := strconv.Atoi(timeout); err == nil {
		return n
	}

	total := 0
	for _, part := range durationParts {
		if m := part.re.FindStringSubmatch(timeout); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			total += n * part.multiplier
		}
	}
	if total <= 0 {
		return defaultTimeoutSeconds
	}
	return total
}
