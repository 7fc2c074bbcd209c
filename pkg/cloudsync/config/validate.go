package config

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError represents a single configuration validation failure,
// mirroring the teacher's storagex.ValidationError shape.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Message)
}

// Validate performs comprehensive validation of the full config document,
// in the same accumulate-all-errors style as the teacher's ValidateConfig.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Field: "config", Message: "configuration cannot be nil"}
	}

	var errs []string

	if cfg.Global.Workers <= 0 {
		errs = append(errs, "global.workers must be positive")
	}
	if cfg.Global.EnumeratorWorkers <= 0 {
		errs = append(errs, "global.enumerator_workers must be positive")
	}
	if cfg.Global.ItemsChunk <= 0 {
		errs = append(errs, "global.items_chunk must be positive")
	}
	if cfg.Global.PollInterval <= 0 {
		errs = append(errs, "global.poll_interval must be positive")
	}
	if cfg.Global.StatusDir == "" {
		errs = append(errs, "global.status_dir cannot be empty")
	}

	seen := make(map[string]bool, len(cfg.Profiles)+len(cfg.Migrations))
	for i, p := range cfg.Profiles {
		errs = append(errs, validateProfileFields(fmt.Sprintf("profiles[%d]", i), p, seen)...)
	}
	for i, m := range cfg.Migrations {
		field := fmt.Sprintf("migrations[%d]", i)
		errs = append(errs, validateProfileFields(field, m.ProfileConfig, seen)...)
		if m.MigratorSettings.RingName == "" {
			errs = append(errs, field+".migrator_settings.ring_name cannot be empty")
		}
		if m.MigratorSettings.LocalObjectSizeLimit < 0 {
			errs = append(errs, field+".migrator_settings.local_object_size_limit cannot be negative")
		}
		errs = append(errs, validateCondition(field+".migrator_settings.metadata_conditions", m.MigratorSettings.MetadataConditions)...)
	}

	if len(errs) > 0 {
		return &ValidationError{Field: "config", Message: strings.Join(errs, "; ")}
	}
	return nil
}

// validateProfileFields checks the fields shared by a sync profile and a
// migration binding, accumulating onto the shared account/container
// dedupe set so the two lists can't collide on the same (profile, status
// record) key.
func validateProfileFields(field string, p ProfileConfig, seen map[string]bool) []string {
	var errs []string

	if p.Account == "" {
		errs = append(errs, field+".account cannot be empty")
	}
	if p.Container == "" {
		errs = append(errs, field+".container cannot be empty")
	}
	key := p.Account + "/" + p.Container
	if seen[key] {
		errs = append(errs, fmt.Sprintf("%s duplicates account/container %q", field, key))
	}
	seen[key] = true

	if p.Protocol != "swift" && p.Protocol != "s3" {
		errs = append(errs, fmt.Sprintf("%s.protocol must be \"swift\" or \"s3\", got %q", field, p.Protocol))
	}
	if p.AWSBucket == "" {
		errs = append(errs, field+".aws_bucket cannot be empty")
	}
	if p.AWSEndpoint == "" {
		errs = append(errs, field+".aws_endpoint cannot be empty")
	}
	if p.MinSegmentSize < 0 {
		errs = append(errs, field+".min_segment_size cannot be negative")
	}
	if p.MinSegmentSize > 0 && p.MinSegmentSize < 1<<20 {
		errs = append(errs, field+".min_segment_size below 1MiB rarely makes sense for S3 part coalescing")
	}
	if p.CopyAfter < 0 {
		errs = append(errs, field+".copy_after cannot be negative")
	}
	if p.RemoteDeleteAfter < 0 {
		errs = append(errs, field+".remote_delete_after cannot be negative")
	}
	if p.Container == "/*" && p.ConvertDLO {
		errs = append(errs, field+".convert_dlo is not supported together with a wildcard container")
	}
	if p.ExcludePattern != "" {
		if _, err := regexp.Compile(p.ExcludePattern); err != nil {
			errs = append(errs, fmt.Sprintf("%s.exclude_pattern is not a valid regexp: %v", field, err))
		}
	}
	return errs
}

// validateCondition recursively checks a metadata_conditions tree: every
// non-leaf op must carry at least one child, every leaf must name a key,
// and the op itself must be one of the four spec §4.4 combinators. A
// zero-value tree (Op == "") is valid and means "no filter".
func validateCondition(field string, c MetadataConditionConfig) []string {
	if c.Op == "" && c.Key == "" && len(c.Children) == 0 {
		return nil
	}
	var errs []string
	switch c.Op {
	case "eq":
		if c.Key == "" {
			errs = append(errs, field+".key is required for op \"eq\"")
		}
	case "and", "or":
		if len(c.Children) == 0 {
			errs = append(errs, fmt.Sprintf("%s.children cannot be empty for op %q", field, c.Op))
		}
	case "not":
		if len(c.Children) != 1 {
			errs = append(errs, field+".children must have exactly one entry for op \"not\"")
		}
	default:
		errs = append(errs, fmt.Sprintf("%s.op must be one of \"eq\", \"and\", \"or\", \"not\", got %q", field, c.Op))
	}
	for i, child := range c.Children {
		errs = append(errs, validateCondition(fmt.Sprintf("%s.children[%d]", field, i), child)...)
	}
	return errs
}

// Sanitize returns a copy of cfg with secrets masked, safe for logging
// (mirrors the teacher's Config.Sanitize/String redaction).
func (c *Config) Sanitize() *Config {
	out := *c
	out.Profiles = make([]ProfileConfig, len(c.Profiles))
	for i, p := range c.Profiles {
		out.Profiles[i] = sanitizeProfileFields(p)
	}
	out.Migrations = make([]MigrationConfig, len(c.Migrations))
	for i, m := range c.Migrations {
		m.ProfileConfig = sanitizeProfileFields(m.ProfileConfig)
		out.Migrations[i] = m
	}
	return &out
}

func sanitizeProfileFields(p ProfileConfig) ProfileConfig {
	if p.AWSSecret != "" {
		p.AWSSecret = "***redacted***"
	}
	if p.AWSIdentity != "" && len(p.AWSIdentity) > 4 {
		p.AWSIdentity = p.AWSIdentity[:4] + "***"
	}
	return p
}
