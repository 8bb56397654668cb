package config

import "fmt"

// FileError means the config file could not be read
type FileError struct {
	Path     string
	InnerErr error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("unable to read config file %s: %s", e.Path, e.InnerErr)
}

func (e *FileError) Unwrap() error { return e.InnerErr }

// ValidationError means the config contents are not valid
type ValidationError struct {
	Field    string
	InnerErr error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid config: %s", e.InnerErr)
	}
	return fmt.Sprintf("invalid config field %s: %s", e.Field, e.InnerErr)
}

func (e *ValidationError) Unwrap() error { return e.InnerErr }
