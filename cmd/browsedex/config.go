// Config loading for the browsedex CLI.
package main

import (
	"fmt"
	"os"

	"github.com/openshelf/browsedex/internal/schema"
	"github.com/openshelf/browsedex/pkg/types"
)

const defaultConfigFile = "browsedex.yaml"

// defaultConfigYAML is written by the init command as a starting point.
const defaultConfigYAML = `# Browsedex configuration

# Storage backend: sqlite or postgres.
backend: sqlite
data_dir: .browsedex

# Postgres connection string, used when backend is postgres.
# dsn: postgres://browsedex@localhost/browsedex?sslmode=disable

# Orphaned value pruning: immediate or deferred.
pruning: immediate

# Distinct value lookup: exact or fold.
distinct_lookup: exact

# BCP-47 locale for collation-derived sort keys. Empty uses plain
# normalization.
# collation: en

# Minimum authority confidence for authority-bearing indexes.
min_confidence: 600

# Browse result cache size in pages. Zero disables caching.
cache_size: 256

sort_options:
  - number: 1
    name: title
    field: dc.title
    type: title
  - number: 2
    name: dateissued
    field: dc.date.issued
    type: date

indexes:
  - name: author
    number: 1
    fields: ["dc.contributor.*"]
    type: text
    display: metadata
    authority: true
  - name: subject
    number: 2
    fields: ["dc.subject.*"]
    type: text
    display: metadata
  - name: title
    number: 3
    type: title
    display: item
    sort_option: 1
  - name: dateissued
    number: 4
    type: date
    display: item
    sort_option: 2
    ascending: false
`

// loadConfig reads and validates the config file, defaulting to
// ./browsedex.yaml when no --config flag is given.
func loadConfig(path string) (types.Config, error) {
	if path == "" {
		path = defaultConfigFile
	}
	return schema.LoadFile(path)
}

// writeDefaultConfig creates the default config file. Refuses to overwrite
// an existing one.
func writeDefaultConfig(path string) error {
	if path == "" {
		path = defaultConfigFile
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking config file: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
