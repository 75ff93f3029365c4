package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// mapFlags are generic string key-value pair flags.
// Use when option keys are not predetermined.
type mapFlags struct {
	values map[string]string
}

func newMapFlags() *mapFlags {
	return &mapFlags{values: make(map[string]string)}
}

func (m mapFlags) String() string {
	var pairs []string
	for _, k := range slices.Sorted(maps.Keys(m.values)) {
		pairs = append(pairs, fmt.Sprint(k, "=", m.values[k]))
	}

	return strings.Join(pairs, ",")
}

func (m *mapFlags) Set(value string) error {
	if m == nil {
		return nil
	}

	values := make(map[string]string)
	for vi := range strings.SplitSeq(value, ",") {
		k, v, _ := strings.Cut(vi, "=")
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)

		if k == "" || v == "" {
			return fmt.Errorf("invalid map key-value pair, expected format key=value but got: '%s'", vi)
		}

		values[k] = v
	}

	m.values = values
	return nil
}

func (m *mapFlags) UnmarshalYAML(unmarshal func(any) error) error {
	values := make(map[string]string)
	if err := unmarshal(&values); err != nil {
		return err
	}

	m.values = values
	return nil
}

// Values returns a copy of the pairs.
func (m *mapFlags) Values() map[string]string {
	if m == nil {
		return nil
	}

	return maps.Clone(m.values)
}
