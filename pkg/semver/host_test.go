package semver

import (
	"strings"
	"testing"
)

const hostTestPrefix = "semver:host_test"

func TestHostVersion(t *testing.T) {
	tests := []struct {
		name string
		info map[string]interface{}
		want string
	}{
		{name: "version", info: map[string]interface{}{"version": "1.4.0"}, want: "1.4.0"},
		{name: "unity_version", info: map[string]interface{}{"unity_version": " 2022.3.10f1 "}, want: "2022.3.10f1"},
		{name: "nested", info: map[string]interface{}{"system_info": map[string]interface{}{"editor_version": "6000.0.1"}}, want: "6000.0.1"},
		{name: "non-string", info: map[string]interface{}{"version": 3}, want: ""},
		{name: "missing", info: map[string]interface{}{}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HostVersion(tt.info); got != tt.want {
				t.Errorf("%s - HostVersion() = %q, want %q", hostTestPrefix, got, tt.want)
			}
		})
	}
}

func TestCheckHostVersion(t *testing.T) {
	tests := []struct {
		name       string
		version    string
		constraint string
		compatible bool
		reason     string
	}{
		{name: "satisfied", version: "1.2.0", constraint: ">= 1.0.0", compatible: true},
		{name: "no constraint", version: "", constraint: "", compatible: true},
		{name: "too old", version: "0.9.0", constraint: ">= 1.0.0", reason: "does not satisfy"},
		{name: "bad constraint", version: "1.0.0", constraint: ">>1", reason: "invalid version range"},
		{name: "unknown version", version: "", constraint: ">= 1.0.0", reason: "empty version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckHostVersion(tt.version, tt.constraint)
			if got.Compatible != tt.compatible {
				t.Errorf("%s - Compatible = %v, want %v (%s)", hostTestPrefix, got.Compatible, tt.compatible, got.Reason)
			}
			if tt.reason != "" && !strings.Contains(got.Reason, tt.reason) {
				t.Errorf("%s - Reason = %q, want substring %q", hostTestPrefix, got.Reason, tt.reason)
			}
			if got.Version != tt.version || got.Constraint != tt.constraint {
				t.Errorf("%s - inputs not echoed: %+v", hostTestPrefix, got)
			}
		})
	}
}
