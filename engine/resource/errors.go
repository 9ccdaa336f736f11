package resource

import (
	"errors"
	"fmt"
)

var (
	// ErrAdapterUnavailable is returned when no adapter satisfies the request.
	ErrAdapterUnavailable = errors.New("gpu adapter unavailable")
	// ErrDeviceTimeout is returned when adapter or device acquisition loses the race against the acquire timeout.
	ErrDeviceTimeout = errors.New("gpu device acquisition timed out")
	// ErrContextUnavailable is returned when a device or presentation context could not be established.
	ErrContextUnavailable = errors.New("gpu context unavailable")
	// ErrNotReady is returned when an operation runs before its prerequisites exist.
	ErrNotReady = errors.New("resources not ready")
	// ErrStaleHandle is returned when writing through a buffer handle that a resize replaced.
	ErrStaleHandle = errors.New("stale buffer handle")
	// ErrOutOfRange is returned when a write or read exceeds a buffer's capacity.
	ErrOutOfRange = errors.New("buffer range out of bounds")
	// ErrStalePipelines is returned when the pipeline set was built against a different layout.
	ErrStalePipelines = fmt.Errorf("%w: pipelines built against a different layout", ErrNotReady)
	// ErrPipelineCompile is returned by strict pipeline builds when any entry point failed to compile.
	ErrPipelineCompile = errors.New("pipeline compilation failed")
)
