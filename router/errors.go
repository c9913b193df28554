package router

import "errors"

var (
	// ErrSynthesizerRequired is returned when an answer synthesizer is not provided.
	ErrSynthesizerRequired = errors.New("answer synthesizer required")

	// ErrRouteMissing is returned when a reasoning level has no adapter.
	ErrRouteMissing = errors.New("reasoning level has no route")

	// ErrRouteMismatch is returned when a level is mapped to an adapter of the wrong strategy.
	ErrRouteMismatch = errors.New("reasoning level mapped to the wrong strategy")

	// ErrSynthesisFailed indicates that hits were retrieved but no answer could be written.
	ErrSynthesisFailed = errors.New("answer synthesis failed")
)
