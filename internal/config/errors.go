package config

import "fmt"

// ConfigError represents an invalid startup parameter
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Message
	}
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Message)
}

// errInvalid creates a new configuration error
func errInvalid(field, format string, args ...interface{}) error {
	return &ConfigError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}
