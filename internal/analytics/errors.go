package analytics

import "errors"

var (
	ErrInvalidRange  = errors.New("end date must not be before start date")
	ErrRangeTooLarge = errors.New("date range is too large")
)
