package tools

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const shorthandMarker = " (shorthand for "

func shorthandUsage(name string) string {
	return shorthandMarker + name + ")"
}

// longName maps a shorthand flag to the flag it aliases
func longName(f *flag.Flag) string {
	i := strings.LastIndex(f.Usage, shorthandMarker)
	if i < 0 || !strings.HasSuffix(f.Usage, ")") {
		return f.Name
	}
	return f.Usage[i+len(shorthandMarker) : len(f.Usage)-1]
}

// ApplyConfigFile sets the flags named in the TOML file at path. Keys are long flag names;
// a flag given on the command line, by name or shorthand, keeps its command line value.
func ApplyConfigFile(flagCommand *flag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	values := map[string]any{}
	if err := toml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}

	explicit := map[string]bool{}
	flagCommand.Visit(func(f *flag.Flag) {
		explicit[longName(f)] = true
	})

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f := flagCommand.Lookup(name)
		if f == nil || longName(f) != name {
			return fmt.Errorf("config %s: unknown setting %q", path, name)
		}
		if name == "config" {
			return fmt.Errorf("config %s: nested config files are not supported", path)
		}
		if explicit[name] {
			continue
		}
		if err := flagCommand.Set(name, configValue(values[name])); err != nil {
			return fmt.Errorf("config %s: setting %q: %w", path, name, err)
		}
	}
	return nil
}

// configValue renders a TOML value the way it would be typed on the command line. Arrays become comma separated lists.
func configValue(value any) string {
	if list, ok := value.([]any); ok {
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(value)
}
