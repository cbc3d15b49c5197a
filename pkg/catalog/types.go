// Package catalog loads the table of editor commands the gateway forwards and registers it.
package catalog

import "github.com/morezero/editor-gateway/pkg/registry"

// Catalog is the on-disk description of forwarded commands.
type Catalog struct {
	Name        string              `json:"name"`
	Version     string              `json:"version"`
	Description string              `json:"description,omitempty"`
	Commands    []CommandDefinition `json:"commands"`
	Aliases     map[string]string   `json:"aliases,omitempty"`
}

// CommandDefinition describes one forwarded command.
type CommandDefinition struct {
	Type         string           `json:"type"`
	Category     string           `json:"category"`
	Description  string           `json:"description"`
	Parameters   []registry.Param `json:"parameters,omitempty"`
	Returns      string           `json:"returns,omitempty"`
	RemoteAction string           `json:"remoteAction,omitempty"`
}
