package source

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/parentmap/venue-pipeline/internal/model"
)

type sourcesFile struct {
	Sources []model.SourceConfig `yaml:"sources"`
}

// LoadSources reads sources.yaml. Every entry is checked and defaulted:
// a 30 day recency window and one listing page.
func LoadSources(path string) ([]model.SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", path)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "source: parse %s", path)
	}

	names := make(map[string]bool, len(f.Sources))
	for i := range f.Sources {
		s := &f.Sources[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, eris.Errorf("source: entry %d in %s has no name", i, path)
		}
		if names[s.Name] {
			return nil, eris.Errorf("source: duplicate source name %q in %s", s.Name, path)
		}
		names[s.Name] = true
		if !s.Type.Known() {
			return nil, eris.Errorf("source %s: unknown type %q", s.Name, s.Type)
		}
		if s.Type == model.SourceManual {
			if s.Path == "" {
				return nil, eris.Errorf("source %s: manual source needs a path", s.Name)
			}
		} else if s.URL == "" {
			return nil, eris.Errorf("source %s: url is required", s.Name)
		}
		if s.RecencyWindowDays <= 0 {
			s.RecencyWindowDays = defaultRecencyDays
		}
		if s.MaxPages <= 0 {
			s.MaxPages = 1
		}
	}
	return f.Sources, nil
}

// Select returns the enabled sources, narrowed to name when it is set.
func Select(sources []model.SourceConfig, name string) ([]model.SourceConfig, error) {
	var out []model.SourceConfig
	for _, s := range sources {
		if name != "" && s.Name != name {
			continue
		}
		if !s.IsEnabled() {
			continue
		}
		out = append(out, s)
	}
	if name != "" && len(out) == 0 {
		return nil, eris.Errorf("source: no enabled source named %q", name)
	}
	return out, nil
}
