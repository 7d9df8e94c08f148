// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Reloads runtime-mutable keys from a YAML document.

package control

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ReloadYAML merges a flat YAML mapping into cs.
func ReloadYAML(cs *ConfigStore, data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("control: parse reload document: %w", err)
	}
	if len(doc) == 0 {
		return nil
	}
	cs.SetConfig(doc)
	return nil
}

// ReloadFile reads path and merges it into cs.
func ReloadFile(cs *ConfigStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("control: read %s: %w", path, err)
	}
	return ReloadYAML(cs, data)
}
