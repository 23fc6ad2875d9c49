package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// participantFile is the on-disk shape of the participant map:
//
//	participants:
//	  "174630": P012
//	  "058832": P013
type participantFile struct {
	Participants map[string]string `yaml:"participants"`
}

// LoadParticipants reads the suffix-to-participant map. An empty path returns
// an empty map, so an unmapped deployment keeps archive-style file names.
func LoadParticipants(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read participant map: %w", err)
	}
	var pf participantFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse participant map %s: %w", path, err)
	}
	out := make(map[string]string, len(pf.Participants))
	for suffix, pid := range pf.Participants {
		suffix = strings.TrimSpace(suffix)
		pid = strings.TrimSpace(pid)
		if suffix == "" || pid == "" {
			continue
		}
		out[suffix] = pid
	}
	return out, nil
}
