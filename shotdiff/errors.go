package shotdiff

import "errors"

// ErrNotFound is returned when a screenshot file or directory does not exist.
var ErrNotFound = errors.New("shotdiff: not found")

// ErrNotScreenshot is returned for a path that does not locate as a
// tutorial screenshot.
var ErrNotScreenshot = errors.New("shotdiff: not a tutorial screenshot path")

// ErrInvalidColorSpec is returned for a highlight colour that is not six
// hex digits.
var ErrInvalidColorSpec = errors.New("shotdiff: invalid highlight colour")

// ErrInvalidRadius is returned for an amplification radius outside 1..10.
var ErrInvalidRadius = errors.New("shotdiff: amplification radius must be between 1 and 10")

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("shotdiff: invalid config")
