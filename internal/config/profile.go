package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// profileFile is the on-disk shape of the extraction-profile file (§6.2).
type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadProfiles reads the YAML extraction-profile file named by
// ExtractorConfig.ProfilePath. A missing file returns a single built-in
// default profile rather than an error, so a fresh checkout runs without
// extra setup.
func LoadProfiles(path string) (map[string]Profile, error) {
	out := map[string]Profile{
		"default": {
			Name:               "default",
			ModelID:            "claude-opus-4",
			Temperature:        0.2,
			TopP:               0.9,
			InputPricePerMTok:  3.0,
			OutputPricePerMTok: 15.0,
		},
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("config: reading profile file %q: %w", path, err)
	}
	var pf profileFile
	if err := yaml.Unmarshal(b, &pf); err != nil {
		return nil, fmt.Errorf("config: parsing profile file %q: %w", path, err)
	}
	for _, p := range pf.Profiles {
		if p.Name == "" {
			return nil, fmt.Errorf("config: profile file %q has an entry with no name", path)
		}
		out[p.Name] = p
	}
	return out, nil
}
