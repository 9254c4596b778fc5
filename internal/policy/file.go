package policy

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// fileConfig is the YAML structure of a policy file:
//
//	components:
//	  fetcher:
//	    capabilities:
//	      - kind: network
//	        pattern: "*.example.com"
//	      - kind: fs
//	        pattern: "read:/etc/ssl"
//	    limits:
//	      memory_mb: 64
//	      cpu_time: 5s
type fileConfig struct {
	Components map[string]componentPolicy `yaml:"components"`
}

type componentPolicy struct {
	Capabilities []struct {
		Kind    string `yaml:"kind"`
		Pattern string `yaml:"pattern"`
	} `yaml:"capabilities"`
	Limits *struct {
		MemoryMB int64  `yaml:"memory_mb"`
		CPUTime  string `yaml:"cpu_time"`
	} `yaml:"limits"`
}

// LoadFile applies the grants and limits of a policy file to a store.
// A malformed file or an invalid grant pattern aborts the load; grants
// applied before the failing entry remain in the store.
func LoadFile(path string, store *Store) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading policy file: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing policy file: %w", err)
	}

	for componentID, pol := range cfg.Components {
		for _, c := range pol.Capabilities {
			if err := store.Grant(componentID, Capability{Kind: c.Kind, Pattern: c.Pattern}); err != nil {
				return fmt.Errorf("policy for component %s: %w", componentID, err)
			}
		}
		if pol.Limits != nil {
			limits := Limits{MemoryBytes: pol.Limits.MemoryMB << 20}
			if pol.Limits.CPUTime != "" {
				budget, err := time.ParseDuration(pol.Limits.CPUTime)
				if err != nil {
					return fmt.Errorf("policy for component %s: invalid cpu_time %q: %w",
						componentID, pol.Limits.CPUTime, err)
				}
				limits.CPUTime = budget
			}
			store.SetLimits(componentID, limits)
		}
	}
	return nil
}
