package domain

import (
	"fmt"
	"strings"
)

// ValidationError reports the required fields a record is missing.
// Records failing validation are rejected individually; the batch they
// arrived in continues with the remaining records.
type ValidationError struct {
	Entity  string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s missing required fields: %s", e.Entity, strings.Join(e.Missing, ", "))
}
