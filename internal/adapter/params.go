package adapter

import (
	"strconv"
	"strings"
	"time"

	"github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/feed"
)

// =============================================================================
// Manifest Parameter Helpers
// =============================================================================
//
// Builders read vendor settings from Descriptor.Params. Credentials
// arrive already expanded from ${VAR} references by discovery; a
// missing required parameter fails the build, never a later poll.

func requireParam(desc feed.Descriptor, key string) (string, error) {
	v := strings.TrimSpace(desc.Params[key])
	if v == "" {
		return "", errors.Wrapf(errors.ErrInvalidManifest, "feed %s: missing required param %q", desc.Name, key)
	}
	return v, nil
}

func paramOr(desc feed.Descriptor, key, def string) string {
	if v := strings.TrimSpace(desc.Params[key]); v != "" {
		return v
	}
	return def
}

func durationParam(desc feed.Descriptor, key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(desc.Params[key])
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidManifest, "feed %s: param %q: %v", desc.Name, key, err)
	}
	if d <= 0 {
		return 0, errors.Wrapf(errors.ErrInvalidManifest, "feed %s: param %q must be positive", desc.Name, key)
	}
	return d, nil
}

func intParam(desc feed.Descriptor, key string, def int) (int, error) {
	v := strings.TrimSpace(desc.Params[key])
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidManifest, "feed %s: param %q: %v", desc.Name, key, err)
	}
	return n, nil
}

func floatParam(desc feed.Descriptor, key string, def float64) (float64, error) {
	v := strings.TrimSpace(desc.Params[key])
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidManifest, "feed %s: param %q: %v", desc.Name, key, err)
	}
	return f, nil
}

// listParam splits a comma-separated param into trimmed entries.
func listParam(desc feed.Descriptor, key string) ([]string, error) {
	raw, err := requireParam(desc, key)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidManifest, "feed %s: param %q has no entries", desc.Name, key)
	}
	return out, nil
}

// symbolsParam is listParam with ticker normalization.
func symbolsParam(desc feed.Descriptor, key string) ([]string, error) {
	syms, err := listParam(desc, key)
	if err != nil {
		return nil, err
	}
	for i, s := range syms {
		syms[i] = strings.ToUpper(s)
	}
	return syms, nil
}
