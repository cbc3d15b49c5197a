package command

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultSubsystem is used for command types without a "<subsystem>." prefix.
const DefaultSubsystem = "core"

// ParseType splits a command type into subsystem and action. The subsystem is lower-cased;
// types without a dot belong to the core subsystem.
func ParseType(commandType string) (subsystem, action string) {
	t := strings.TrimSpace(commandType)
	if i := strings.Index(t, "."); i >= 0 {
		return strings.ToLower(t[:i]), t[i+1:]
	}
	return DefaultSubsystem, t
}

// Qualified returns the "<subsystem>.<action>" form of a command type.
func Qualified(commandType string) string {
	s, a := ParseType(commandType)
	return s + "." + a
}

// CacheKey builds the cache key for a command: the qualified type plus the canonical JSON of its
// parameters. encoding/json writes map keys in sorted order, which makes the encoding canonical.
func CacheKey(commandType string, params map[string]interface{}) (string, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("command:name - canonical parameters for %s: %w", commandType, err)
	}
	return Qualified(commandType) + ":" + string(data), nil
}
