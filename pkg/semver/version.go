// Package semver checks the editor host version reported by get_system_info against the configured
// compatibility range.
package semver

import (
	"fmt"
	"regexp"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:version"

var (
	majorOnlyRegex = regexp.MustCompile(`^\d+$`)
	// leadingVersionRegex captures the numeric prefix of editor builds such as "2022.3.10f1".
	leadingVersionRegex = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?`)
)

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	var major int
	fmt.Sscanf(rangeStr, "%d", &major)
	return major
}

// ParseVersion parses a host version. Strict SemVer is tried first; otherwise the leading
// major[.minor[.patch]] digits are used and any build suffix is dropped.
func ParseVersion(raw string) (*masterminds.Version, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("%s - empty version", logPrefix)
	}
	if v, err := masterminds.StrictNewVersion(strings.TrimPrefix(s, "v")); err == nil {
		return v, nil
	}
	m := leadingVersionRegex.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%s - unparseable version %q", logPrefix, raw)
	}
	parts := []string{m[1], "0", "0"}
	if m[2] != "" {
		parts[1] = m[2]
	}
	if m[3] != "" {
		parts[2] = m[3]
	}
	v, err := masterminds.NewVersion(strings.Join(parts, "."))
	if err != nil {
		return nil, fmt.Errorf("%s - unparseable version %q: %w", logPrefix, raw, err)
	}
	return v, nil
}

// ParseConstraint parses a range. A bare major ("2") means any 2.x release.
func ParseConstraint(rangeStr string) (*masterminds.Constraints, error) {
	r := strings.TrimSpace(rangeStr)
	if IsMajorOnly(r) {
		r = fmt.Sprintf("%d.x", ExtractMajorFromRange(r))
	}
	c, err := masterminds.NewConstraint(r)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid version range %q: %w", logPrefix, rangeStr, err)
	}
	return c, nil
}

// SatisfiesRange checks if a version string satisfies a range.
func SatisfiesRange(version, rangeStr string) bool {
	c, err := ParseConstraint(rangeStr)
	if err != nil {
		return false
	}
	v, err := ParseVersion(version)
	if err != nil {
		return false
	}
	return c.Check(v)
}
