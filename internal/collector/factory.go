package collector

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/config"
)

// Known source names. Every raw record's source column holds one of these.
const (
	SourceOddsfeed    = oddsfeedName
	SourceSharpsplits = sharpsplitsName
	SourceWagerpct    = wagerpctName
	SourceMlbsched    = mlbschedName
	SourceOddsboard   = oddsboardName
)

// New creates the collector for one configured source. The gate may be nil,
// in which case requests run unguarded (useful in tests).
func New(name string, cc config.CollectorConfig, gate Gate, logger *logrus.Logger) (Collector, error) {
	entry := logrus.NewEntry(logger)

	switch name {
	case oddsfeedName:
		if cc.APIKey == "" {
			return nil, fmt.Errorf("collector %s requires an api key", name)
		}
		return NewOddsfeedCollector(cc, NewRateLimitedHTTPClient(HTTPConfigFor(name, &cc), gate, entry), entry), nil

	case sharpsplitsName:
		if cc.APIKey == "" {
			return nil, fmt.Errorf("collector %s requires an api key", name)
		}
		return NewSharpsplitsCollector(cc, NewRateLimitedHTTPClient(HTTPConfigFor(name, &cc), gate, entry), entry), nil

	case wagerpctName:
		if cc.APIKey == "" {
			return nil, fmt.Errorf("collector %s requires an api key", name)
		}
		return NewWagerpctCollector(cc, NewRateLimitedHTTPClient(HTTPConfigFor(name, &cc), gate, entry), entry), nil

	case mlbschedName:
		// the league feed is public, no key needed
		return NewMlbschedCollector(cc, NewRateLimitedHTTPClient(HTTPConfigFor(name, &cc), gate, entry), entry), nil

	case oddsboardName:
		if cc.StreamURL == "" {
			return nil, fmt.Errorf("collector %s requires a stream url", name)
		}
		return NewOddsboardCollector(cc, gate, entry), nil

	default:
		return nil, fmt.Errorf("unknown collector: %s", name)
	}
}

// BuildEnabled creates every enabled collector from configuration. Gates are
// looked up by source name; a missing gate leaves that collector unguarded.
func BuildEnabled(cfg *config.Config, gates map[string]Gate, logger *logrus.Logger) ([]Collector, error) {
	var collectors []Collector

	for _, name := range cfg.EnabledCollectors() {
		cc, _ := cfg.Collector(name)
		c, err := New(name, cc, gates[name], logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create collector %s: %w", name, err)
		}
		collectors = append(collectors, c)
		logger.WithField("collector", name).Info("Created collector")
	}

	if len(collectors) == 0 {
		return nil, fmt.Errorf("no enabled collectors configured")
	}

	return collectors, nil
}
