package athletedb

import "errors"

// Sentinel errors for the athlete repository layer. These indicate
// infrastructure-level outcomes (presence/absence of rows, constraint
// violations), not domain validation failures; the service layers decide
// how to map them into domain errors.
var (
	// ErrNotFound indicates the requested athlete/result row does not exist.
	ErrNotFound = errors.New("athlete record not found")

	// ErrNoRowsAffected indicates an UPDATE/DELETE affected zero rows.
	ErrNoRowsAffected = errors.New("no rows affected")

	// ErrUniqueViolation indicates a write broke a uniqueness constraint
	// (external_id on athletes, or (meet_id, athlete_id, weight_class_label)
	// on result_records).
	ErrUniqueViolation = errors.New("uniqueness constraint violated")
)
