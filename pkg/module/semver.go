package module

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Strategy selects which component a promotion bumps.
type Strategy string

const (
	StrategyPatch Strategy = "patch"
	StrategyMinor Strategy = "minor"
	StrategyMajor Strategy = "major"
)

// validSemver reports whether v (without a leading "v") is a valid
// semantic version, using golang.org/x/mod/semver's parser.
func validSemver(v string) bool {
	return semver.IsValid("v" + v)
}

// compareSemver returns semver.Compare's result for two bare (no "v")
// version strings.
func compareSemver(a, b string) int {
	return semver.Compare("v"+a, "v"+b)
}

// nextVersion computes the version a promotion with the given strategy
// produces, given the highest existing version for a name (empty string
// if none exists).
func nextVersion(latest string, strategy Strategy) (string, error) {
	if latest == "" {
		switch strategy {
		case StrategyPatch:
			return "0.0.1", nil
		case StrategyMinor, StrategyMajor:
			return "0.1.0", nil
		default:
			return "", fmt.Errorf("module: unknown version strategy %q", strategy)
		}
	}

	major, minor, patch, err := parseParts(latest)
	if err != nil {
		return "", err
	}

	switch strategy {
	case StrategyPatch:
		patch++
	case StrategyMinor:
		minor++
		patch = 0
	case StrategyMajor:
		major++
		minor = 0
		patch = 0
	default:
		return "", fmt.Errorf("module: unknown version strategy %q", strategy)
	}

	return fmt.Sprintf("%d.%d.%d", major, minor, patch), nil
}

// parseParts extracts major/minor/patch ints from a canonical bare
// semver string. semver.Canonical drops build metadata but keeps a
// pre-release suffix, so a version such as "1.2.3-rc1" fails to parse
// here and returns an error.
func parseParts(v string) (major, minor, patch int, err error) {
	canon := strings.TrimPrefix(semver.Canonical("v"+v), "v")
	parts := strings.SplitN(canon, ".", 3)
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("module: malformed semver %q", v)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("module: malformed semver %q: %w", v, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("module: malformed semver %q: %w", v, err)
	}
	patch, err = strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("module: malformed semver %q: %w", v, err)
	}
	return major, minor, patch, nil
}
