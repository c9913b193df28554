package config

import "errors"

var (
	// ErrInvalidConfig indicates a configuration file that failed schema or
	// semantic validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDuplicatePipeline indicates two pipelines with the same name.
	ErrDuplicatePipeline = errors.New("duplicate pipeline name")
)
