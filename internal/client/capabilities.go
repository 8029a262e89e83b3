package client

import (
	"sort"
	"strings"

	"github.com/kubev2v/doctrack/internal/job"
	"github.com/spf13/cast"
)

// Capabilities is the set of optional features advertised by the service.
type Capabilities struct {
	enabled map[string]bool
}

func (c Capabilities) Has(name string) bool {
	return c.enabled[strings.ToLower(name)]
}

func (c Capabilities) Names() []string {
	names := make([]string, 0, len(c.enabled))
	for n, ok := range c.enabled {
		if ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// parseCapabilities accepts {"capabilities": ["cancel", ...]}, {"features": {"cancel": true}}
// or top level boolean flags.
func parseCapabilities(r job.Record) Capabilities {
	c := Capabilities{enabled: map[string]bool{}}

	if list, ok := r["capabilities"].([]any); ok {
		for _, item := range list {
			if name, err := cast.ToStringE(item); err == nil && name != "" {
				c.enabled[strings.ToLower(name)] = true
			}
		}
	}

	flags := r
	if features, ok := r["features"].(map[string]any); ok {
		flags = features
	}
	for name, v := range flags {
		if b, ok := v.(bool); ok {
			c.enabled[strings.ToLower(name)] = b
		}
	}
	return c
}
