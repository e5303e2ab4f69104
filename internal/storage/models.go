package storage

import "time"

// Compilation is one audited compiler run.
type Compilation struct {
	ID             string    `json:"id" db:"id"`
	InputPath      string    `json:"input_path" db:"input_path"`
	InputDigest    string    `json:"input_digest" db:"input_digest"`
	OutputPath     string    `json:"output_path" db:"output_path"`
	ArtifactDigest string    `json:"artifact_digest,omitempty" db:"artifact_digest"`
	Arch           string    `json:"arch" db:"arch"`
	Basic          bool      `json:"basic" db:"basic"`
	GroupCount     int       `json:"group_count" db:"group_count"`
	RuleCount      int       `json:"rule_count" db:"rule_count"`
	Instructions   int       `json:"instructions" db:"instructions"`
	ArtifactBytes  int       `json:"artifact_bytes" db:"artifact_bytes"`
	Status         string    `json:"status" db:"status"` // success, error
	ErrorKind      string    `json:"error_kind,omitempty" db:"error_kind"`
	Error          string    `json:"error,omitempty" db:"error"`
	DurationMS     int64     `json:"duration_ms" db:"duration_ms"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`

	Groups []GroupRecord `json:"groups,omitempty" db:"-"`
}

// GroupRecord stores per-group statistics of a compilation.
type GroupRecord struct {
	CompilationID    string `json:"compilation_id" db:"compilation_id"`
	Position         int    `json:"position" db:"position"`
	Name             string `json:"name" db:"name"`
	Rules            int    `json:"rules" db:"rules"`
	ConditionalRules int    `json:"conditional_rules" db:"conditional_rules"`
	Instructions     int    `json:"instructions" db:"instructions"`
}

// CompilationFilter provides criteria for querying compilations.
type CompilationFilter struct {
	Arch   string
	Status string
	Limit  int
	Offset int
}
