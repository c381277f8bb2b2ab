package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"modelreg/internal/query"
	"modelreg/internal/registry"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
	FormatYAML  OutputFormat = "yaml"
	FormatTOML  OutputFormat = "toml"
)

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatYAML:
		return formatYAML(resp)
	case FormatTOML:
		return formatTOML(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

func formatYAML(resp interface{}) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(resp); err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func formatTOML(resp interface{}) (string, error) {
	data, err := toml.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal TOML: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// formatHuman formats the response in human-readable format
func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *query.Result:
		return formatResultHuman(v), nil
	case *registry.Stats:
		return formatStatsHuman(v), nil
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

func formatResultHuman(res *query.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d model(s)\n", len(res.IDs))
	if len(res.IDs) == 0 {
		return b.String()
	}

	props := make([]string, 0, len(res.Values))
	for name := range res.Values {
		props = append(props, name)
	}
	sort.Strings(props)

	b.WriteString(strings.Repeat("─", 40) + "\n")
	for _, id := range res.IDs {
		fmt.Fprintf(&b, "%-8d", id)
		for _, name := range props {
			if v, ok := res.Values[name][id]; ok {
				fmt.Fprintf(&b, " %s=%v", name, v)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatStatsHuman(s *registry.Stats) string {
	var b strings.Builder
	b.WriteString("Registry\n")
	b.WriteString(strings.Repeat("─", 40) + "\n")
	fmt.Fprintf(&b, "Live queries:   %d\n", s.LiveQueries)
	fmt.Fprintf(&b, "Cache backend:  %s\n", s.Cache.Backend)
	if s.Cache.Path != "" {
		fmt.Fprintf(&b, "Cache path:     %s\n", s.Cache.Path)
	}
	fmt.Fprintf(&b, "Cached models:  %d\n", s.Cache.Models)
	fmt.Fprintf(&b, "Satisfactions:  %d\n", s.Cache.Satisfactions)

	if len(s.Providers) > 0 {
		b.WriteString("\nProviders\n")
		for _, p := range s.Providers {
			fmt.Fprintf(&b, "  %-20s saturation %.0f%%\n", p.Name, p.Saturation*100)
		}
	}
	return b.String()
}
