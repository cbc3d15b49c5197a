package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/morezero/editor-gateway/pkg/command"
	"github.com/morezero/editor-gateway/pkg/registry"
)

const logPrefix = "catalog:loader"

//go:embed default_catalog.json
var defaultCatalog []byte

// LoadCatalog loads the command catalog.
// It tries paths in order: first any paths passed in, then GATEWAY_CATALOG_FILE env, then defaults.
// A file that is missing or fails to parse is skipped; the embedded catalog is the last resort.
func LoadCatalog(paths ...string) (*Catalog, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("GATEWAY_CATALOG_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/catalog.json", "catalog.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		cat, err := Parse(data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse catalog file %s: %v", logPrefix, p, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded catalog from %s (%d commands)", logPrefix, p, len(cat.Commands)))
		return cat, nil
	}

	slog.Info(fmt.Sprintf("%s - Using embedded catalog", logPrefix))
	return Default()
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	cat, err := Parse(defaultCatalog)
	if err != nil {
		return nil, fmt.Errorf("%s - embedded catalog: %w", logPrefix, err)
	}
	return cat, nil
}

// Parse decodes a catalog and checks that every command has a type.
func Parse(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, err
	}
	for i, c := range cat.Commands {
		if c.Type == "" {
			return nil, fmt.Errorf("command %d has no type", i)
		}
	}
	return &cat, nil
}

// Merge overlays override onto base. Commands with the same type are replaced, new ones appended.
func Merge(base, override *Catalog) *Catalog {
	merged := *base
	merged.Commands = make([]CommandDefinition, len(base.Commands))
	copy(merged.Commands, base.Commands)

	index := make(map[string]int, len(merged.Commands))
	for i, c := range merged.Commands {
		index[c.Type] = i
	}
	for _, c := range override.Commands {
		if i, ok := index[c.Type]; ok {
			merged.Commands[i] = c
			continue
		}
		index[c.Type] = len(merged.Commands)
		merged.Commands = append(merged.Commands, c)
	}

	merged.Aliases = make(map[string]string, len(base.Aliases)+len(override.Aliases))
	for alias, target := range base.Aliases {
		merged.Aliases[alias] = target
	}
	for alias, target := range override.Aliases {
		merged.Aliases[alias] = target
	}

	if override.Version != "" {
		merged.Version = override.Version
	}
	return &merged
}

// Register adds every catalog command to reg as a forwarded entry. Aliases become extra entries
// that forward to the same host action as their target.
func (c *Catalog) Register(reg *registry.Registry) error {
	for _, def := range c.Commands {
		if err := reg.Register(entryFor(def.Type, def)); err != nil {
			return fmt.Errorf("%s - register %s: %w", logPrefix, def.Type, err)
		}
	}

	for alias, target := range c.Aliases {
		t, ok := reg.Lookup(target)
		if !ok {
			return fmt.Errorf("%s - alias %s points at unknown command %s", logPrefix, alias, target)
		}
		def := CommandDefinition{
			Category:     t.Category,
			Description:  t.Description,
			Parameters:   t.Params,
			Returns:      t.Returns,
			RemoteAction: t.WireAction(),
		}
		if err := reg.Register(entryFor(alias, def)); err != nil {
			return fmt.Errorf("%s - register alias %s: %w", logPrefix, alias, err)
		}
	}
	return nil
}

func entryFor(commandType string, def CommandDefinition) registry.Entry {
	subsystem, action := command.ParseType(commandType)
	return registry.Entry{
		Subsystem:    subsystem,
		Action:       action,
		Category:     def.Category,
		Description:  def.Description,
		Params:       def.Parameters,
		Returns:      def.Returns,
		RemoteAction: def.RemoteAction,
	}
}
