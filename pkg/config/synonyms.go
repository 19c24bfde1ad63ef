package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SynonymsFileName is the optional per-deployment query-expansion table,
// looked up inside the config directory.
const SynonymsFileName = "synonyms.yaml"

// defaultSynonyms is the built-in query-expansion table. Keys are prompt
// tokens; values are related terms unioned into the search query before the
// hybrid query runs.
var defaultSynonyms = map[string][]string{
	"create":      {"add", "new", "publish", "post", "initiate", "build"},
	"post":        {"publish", "entry", "article"},
	"list":        {"get", "fetch", "show", "display", "view", "enumerate"},
	"delete":      {"remove", "destroy", "clear", "erase", "purge"},
	"update":      {"edit", "modify", "change", "revise", "upgrade"},
	"search":      {"find", "query", "lookup", "locate", "explore"},
	"manage":      {"organize", "handle", "control", "track", "administer"},
	"api":         {"integration", "service", "endpoint", "connection"},
	"content":     {"post", "article", "page", "data", "material", "resource"},
	"tool":        {"utility", "function", "capability", "feature"},
	"blog":        {"article", "posts", "ghost", "cms", "write-up"},
	"integration": {"api", "service", "connector", "plugin"},
	"configure":   {"setup", "initialize", "customize"},
	"ghost":       {"blogging", "headless", "cms"},
	"web":         {"online", "internet", "site", "webpage"},
}

// DefaultSynonyms returns a copy of the built-in expansion table.
func DefaultSynonyms() map[string][]string {
	out := make(map[string][]string, len(defaultSynonyms))
	for k, v := range defaultSynonyms {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// loadSynonyms returns the built-in table, overridden by configDir/synonyms.yaml
// when that file exists. A present-but-invalid file is a configuration error.
func loadSynonyms(configDir string) (map[string][]string, error) {
	table := DefaultSynonyms()
	if configDir == "" {
		return table, nil
	}

	path := filepath.Join(configDir, SynonymsFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return table, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var overrides map[string][]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for k, v := range overrides {
		table[k] = v
	}
	return table, nil
}
