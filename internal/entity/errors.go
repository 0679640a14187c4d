package entity

import "errors"

// ErrNotFound is returned by Repository reads when no row matches.
var ErrNotFound = errors.New("entity not found")

// ErrInvalidPage is returned when a page write would break 0 <= page <= total.
var ErrInvalidPage = errors.New("page out of range")
