package appconf

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment selects logging format and storage safety checks.
type Environment int

const (
	Development Environment = iota
	Test
	Production
)

func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

// ParseEnvironment accepts the names returned by String, case-insensitively.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "development", "dev":
		return Development, nil
	case "test":
		return Test, nil
	case "production", "prod":
		return Production, nil
	}
	return Development, fmt.Errorf("unknown environment %q", s)
}

func (e *Environment) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseEnvironment(value.Value)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

func (e Environment) MarshalYAML() (interface{}, error) {
	return e.String(), nil
}
