package semver

import (
	"fmt"
	"strings"
)

// versionKeys are the get_system_info fields that may carry the host version, in lookup order.
var versionKeys = []string{"version", "editor_version", "unity_version", "host_version"}

// Compatibility is the outcome of a host version check.
type Compatibility struct {
	Version    string `json:"version"`
	Constraint string `json:"constraint"`
	Compatible bool   `json:"compatible"`
	Reason     string `json:"reason,omitempty"`
}

// HostVersion extracts the version string from a get_system_info payload.
func HostVersion(info map[string]interface{}) string {
	for _, key := range versionKeys {
		if v, ok := info[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if nested, ok := info["system_info"].(map[string]interface{}); ok {
		return HostVersion(nested)
	}
	return ""
}

// CheckHostVersion checks version against constraint. An empty constraint accepts any version.
func CheckHostVersion(version, constraint string) Compatibility {
	out := Compatibility{Version: version, Constraint: constraint}
	if strings.TrimSpace(constraint) == "" {
		out.Compatible = true
		return out
	}
	c, err := ParseConstraint(constraint)
	if err != nil {
		out.Reason = err.Error()
		return out
	}
	v, err := ParseVersion(version)
	if err != nil {
		out.Reason = err.Error()
		return out
	}
	ok, errs := c.Validate(v)
	out.Compatible = ok
	if !ok {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		out.Reason = fmt.Sprintf("host version %s does not satisfy %s: %s", version, constraint, strings.Join(msgs, "; "))
	}
	return out
}
