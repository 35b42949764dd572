package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SaveFile writes s as JSON for a .json path and YAML otherwise.
func SaveFile(path string, s Snapshot) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(s, "", "  ")
	default:
		data, err = yaml.Marshal(s)
	}
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	// write then rename so a crash never leaves a torn file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFile reads a checkpoint written by SaveFile, trying YAML first and
// then JSON.
func LoadFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}

	var s Snapshot
	if yerr := yaml.Unmarshal(data, &s); yerr != nil {
		s = Snapshot{}
		if jerr := json.Unmarshal(data, &s); jerr != nil {
			return Snapshot{}, fmt.Errorf("decode checkpoint %s: yaml: %v; json: %w", path, yerr, jerr)
		}
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
