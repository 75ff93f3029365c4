package config

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

// yamlFlag accepts a yaml document on the command line and stores the
// decoded value behind target. The target is replaced only on success.
type yamlFlag[T any] struct {
	target **T
	raw    string
}

func newYamlFlag[T any](target **T) *yamlFlag[T] {
	return &yamlFlag[T]{target: target}
}

func (f *yamlFlag[T]) decode(unmarshal func(any) error) error {
	v := new(T)
	if err := unmarshal(v); err != nil {
		return err
	}

	*f.target = v
	return nil
}

func (f *yamlFlag[T]) Set(value string) error {
	err := f.decode(func(v any) error { return yaml.Unmarshal([]byte(value), v) })
	if err != nil {
		return fmt.Errorf("invalid yaml value: %w", err)
	}

	f.raw = value
	return nil
}

func (f *yamlFlag[T]) UnmarshalYAML(unmarshal func(any) error) error {
	return f.decode(unmarshal)
}

func (f *yamlFlag[T]) String() string {
	if f == nil {
		return ""
	}

	return f.raw
}
