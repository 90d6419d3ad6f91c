package pool

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EndpointSpec is one entry of the static endpoint list as written by the
// operator. Zero-valued overrides fall back to Settings.
type EndpointSpec struct {
	Name          string        `yaml:"name" mapstructure:"name" json:"name"`
	URL           string        `yaml:"url" mapstructure:"url" json:"url"`
	SecondaryURL  string        `yaml:"secondary_url" mapstructure:"secondary_url" json:"secondary_url,omitempty"`
	MaxConcurrent int           `yaml:"max_concurrent" mapstructure:"max_concurrent" json:"max_concurrent,omitempty"`
	Cooldown      time.Duration `yaml:"cooldown" mapstructure:"cooldown" json:"cooldown,omitempty"`
	BackoffBase   time.Duration `yaml:"backoff_base" mapstructure:"backoff_base" json:"backoff_base,omitempty"`
	RateLimitRPS  float64       `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps" json:"rate_limit_rps,omitempty"`
}

// Source yields the ordered endpoint list.
type Source interface {
	Endpoints() ([]EndpointSpec, error)
}

// StaticSource serves an in-memory endpoint list, typically decoded from the
// application config.
type StaticSource []EndpointSpec

func (s StaticSource) Endpoints() ([]EndpointSpec, error) {
	out := make([]EndpointSpec, len(s))
	copy(out, s)
	return out, nil
}

// FileSource reads a YAML (or JSON) endpoint file. The document is either a
// bare list of endpoints or a mapping with an `endpoints` key.
type FileSource struct {
	Path string
}

func (f FileSource) Endpoints() ([]EndpointSpec, error) {
	path := strings.TrimSpace(f.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: endpoints file path is empty", ErrConfiguration)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
	}

	specs, err := ParseEndpoints(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, path, err)
	}
	return specs, nil
}

// ParseEndpoints decodes an endpoint document.
func ParseEndpoints(data []byte) ([]EndpointSpec, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var specs []EndpointSpec
		if err := root.Decode(&specs); err != nil {
			return nil, err
		}
		return specs, nil
	case yaml.MappingNode:
		var wrapped struct {
			Endpoints []EndpointSpec `yaml:"endpoints"`
		}
		if err := root.Decode(&wrapped); err != nil {
			return nil, err
		}
		return wrapped.Endpoints, nil
	default:
		return nil, fmt.Errorf("expected a list of endpoints or an endpoints mapping")
	}
}

// CombinedSource concatenates several sources in order. Any failing source
// fails the whole list so a partial pool never masks a broken file.
type CombinedSource []Source

func (c CombinedSource) Endpoints() ([]EndpointSpec, error) {
	var out []EndpointSpec
	for _, src := range c {
		if src == nil {
			continue
		}
		specs, err := src.Endpoints()
		if err != nil {
			return nil, err
		}
		out = append(out, specs...)
	}
	return out, nil
}
