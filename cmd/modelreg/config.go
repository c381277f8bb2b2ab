package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"modelreg/internal/config"
)

var (
	configFormat   string
	configShowDiff bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage modelreg configuration",
	Long:  "View and manage configuration stored in .modelreg/config.{json,yaml,toml}",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the effective configuration, after environment overrides.

Examples:
  modelreg config show                # Pretty-print current config
  modelreg config show --format yaml  # As a YAML config file
  modelreg config show --diff         # Only show non-default values`,
	RunE: runConfigShow,
}

var configEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "List supported environment variables",
	Run:   runConfigEnv,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to .modelreg/config.json",
	RunE:  runConfigInit,
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "human", "Output format (human, json, yaml, toml)")
	configShowCmd.Flags().BoolVar(&configShowDiff, "diff", false, "Only show non-default values")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEnvCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

// ConfigShowResponse is the response format for config show --format json
type ConfigShowResponse struct {
	ConfigPath   string                 `json:"configPath,omitempty"`
	UsedDefaults bool                   `json:"usedDefaults"`
	EnvOverrides []config.EnvOverride   `json:"envOverrides,omitempty"`
	Config       map[string]interface{} `json:"config"`
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	result, err := config.LoadConfigWithDetails(rootFlag)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	return writeConfig(cmd.OutOrStdout(), result, OutputFormat(configFormat), configShowDiff)
}

func writeConfig(w io.Writer, result *config.LoadResult, format OutputFormat, diffOnly bool) error {
	switch format {
	case FormatYAML, FormatTOML:
		// Emitted as a config file, so the diff is not supported here.
		out, err := FormatResponse(result.Config, format)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, out)
		return nil
	case FormatJSON:
		configMap, err := configAsMap(result.Config, diffOnly)
		if err != nil {
			return err
		}
		out, err := formatJSON(ConfigShowResponse{
			ConfigPath:   result.ConfigPath,
			UsedDefaults: result.UsedDefaults,
			EnvOverrides: result.EnvOverrides,
			Config:       configMap,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(w, out)
		return nil
	case FormatHuman:
		configMap, err := configAsMap(result.Config, diffOnly)
		if err != nil {
			return err
		}
		writeConfigHuman(w, result, configMap)
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func configAsMap(cfg *config.Config, diffOnly bool) (map[string]interface{}, error) {
	configMap, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	if !diffOnly {
		return configMap, nil
	}
	defaultMap, err := toMap(config.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return computeDiff(configMap, defaultMap), nil
}

func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// computeDiff returns the entries of current that differ from defaults,
// recursing into sections.
func computeDiff(current, defaults map[string]interface{}) map[string]interface{} {
	diff := make(map[string]interface{})
	for k, v := range current {
		dv, ok := defaults[k]
		if !ok {
			diff[k] = v
			continue
		}
		if vm, ok := v.(map[string]interface{}); ok {
			if dm, ok := dv.(map[string]interface{}); ok {
				if sub := computeDiff(vm, dm); len(sub) > 0 {
					diff[k] = sub
				}
				continue
			}
		}
		if !isEqual(v, dv) {
			diff[k] = v
		}
	}
	return diff
}

func isEqual(a, b interface{}) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

func valueOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func writeConfigHuman(w io.Writer, result *config.LoadResult, configMap map[string]interface{}) {
	fmt.Fprintln(w, "modelreg Configuration")
	fmt.Fprintln(w, strings.Repeat("─", 50))
	fmt.Fprintf(w, "Source: %s\n", valueOrDefault(result.ConfigPath, "(defaults)"))
	if len(result.EnvOverrides) > 0 {
		fmt.Fprintln(w, "Environment overrides:")
		for _, o := range result.EnvOverrides {
			fmt.Fprintf(w, "  %s -> %s = %v\n", o.EnvVar, o.Path, o.Value)
		}
	}
	fmt.Fprintln(w)
	writeSection(w, configMap, "")
}

func writeSection(w io.Writer, m map[string]interface{}, indent string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if sub, ok := m[k].(map[string]interface{}); ok {
			fmt.Fprintf(w, "%s%s:\n", indent, k)
			writeSection(w, sub, indent+"  ")
			continue
		}
		fmt.Fprintf(w, "%s%s: %v\n", indent, k, m[k])
	}
}

func runConfigEnv(cmd *cobra.Command, args []string) {
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Supported environment variables:")
	for _, v := range config.GetSupportedEnvVars() {
		marker := " "
		if _, ok := os.LookupEnv(v); ok {
			marker = "*"
		}
		fmt.Fprintf(w, " %s %s\n", marker, v)
	}
	fmt.Fprintln(w, "\n  MODELREG_CONFIG_PATH selects the config file. * marks variables that are set.")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if err := config.DefaultConfig().Save(rootFlag); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s/config.json\n", config.Dir)
	return nil
}
