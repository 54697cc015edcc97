package config

import (
	"reflect"
	"sort"
	"strings"
)

// setting is one leaf key of the config file, addressed as section.key.
type setting struct {
	Section string
	Key     string
	Secret  bool
	Value   reflect.Value
}

// Name returns the dotted key, e.g. "server.listen_addr".
func (s setting) Name() string {
	return s.Section + "." + s.Key
}

// EnvName returns the environment variable that overrides the key.
func (s setting) EnvName() string {
	return EnvPrefix + strings.ToUpper(s.Section+"_"+s.Key)
}

// settings lists every leaf of cfg in declaration order. The values are
// addressable, so callers can assign through them.
func settings(cfg *Config) []setting {
	root := reflect.ValueOf(cfg).Elem()
	rootType := root.Type()

	var out []setting

	for i := range rootType.NumField() {
		section := rootType.Field(i).Tag.Get("toml")
		sv := root.Field(i)
		st := sv.Type()

		for j := range st.NumField() {
			f := st.Field(j)
			out = append(out, setting{
				Section: section,
				Key:     f.Tag.Get("toml"),
				Secret:  f.Tag.Get("secret") == "true",
				Value:   sv.Field(j),
			})
		}
	}

	return out
}

// knownKeys maps each section to its sorted keys. Sorted for deterministic
// suggestions when two candidates have the same edit distance.
var knownKeys = func() map[string][]string {
	out := make(map[string][]string)

	for _, s := range settings(DefaultConfig()) {
		out[s.Section] = append(out[s.Section], s.Key)
	}

	for _, keys := range out {
		sort.Strings(keys)
	}

	return out
}()

// knownSections is the sorted list of section names.
var knownSections = func() []string {
	out := make([]string, 0, len(knownKeys))
	for s := range knownKeys {
		out = append(out, s)
	}

	sort.Strings(out)

	return out
}()
