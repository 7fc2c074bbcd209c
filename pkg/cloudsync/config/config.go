// Package config defines the typed, validated configuration tree the
// sync engine, migrator and shunt all load from a single JSON document
// (spec §6). Generalizes the teacher's storagex.Config (one provider, one
// bucket) into a two-level document: global daemon settings plus a list of
// per-profile bindings, replacing the original system's dynamic
// dict-of-dicts config with one typed struct tree (spec §9 "typed config
// over attribute dicts").
package config

import (
	"time"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/migrator"
)

// Global holds the daemon-wide settings shared by every profile
// (spec §6 "global keys").
type Global struct {
	Devices           []string      `mapstructure:"devices" yaml:"devices"`
	ItemsChunk        int           `mapstructure:"items_chunk" yaml:"items_chunk" default:"1000"`
	LogFile           string        `mapstructure:"log_file" yaml:"log_file"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" default:"30s"`
	StatusDir         string        `mapstructure:"status_dir" yaml:"status_dir" default:"/var/cache/cloudsync/status"`
	Workers           int           `mapstructure:"workers" yaml:"workers" default:"10"`
	EnumeratorWorkers int           `mapstructure:"enumerator_workers" yaml:"enumerator_workers" default:"2"`
	StatsdHost        string        `mapstructure:"statsd_host" yaml:"statsd_host"`
	StatsdPort        int           `mapstructure:"statsd_port" yaml:"statsd_port" default:"8125"`
	GracefulTimeout   time.Duration `mapstructure:"graceful_timeout" yaml:"graceful_timeout" default:"30s"`
}

// ProfileConfig is the on-disk shape of one profile entry, mapstructure/yaml
// tagged the way the teacher tags Config (mapstructure §6 schema keys).
type ProfileConfig struct {
	Account   string `mapstructure:"account" yaml:"account"`
	Container string `mapstructure:"container" yaml:"container"`
	Protocol  string `mapstructure:"protocol" yaml:"protocol" default:"swift"`

	AWSEndpoint string `mapstructure:"aws_endpoint" yaml:"aws_endpoint"`
	AWSIdentity string `mapstructure:"aws_identity" yaml:"aws_identity"`
	AWSSecret   string `mapstructure:"aws_secret" yaml:"aws_secret"`
	AWSBucket   string `mapstructure:"aws_bucket" yaml:"aws_bucket"`

	ConvertDLO            bool   `mapstructure:"convert_dlo" yaml:"convert_dlo" default:"false"`
	CopyAfter             int64  `mapstructure:"copy_after" yaml:"copy_after" default:"0"`
	ExcludePattern        string `mapstructure:"exclude_pattern" yaml:"exclude_pattern"`
	PropagateDelete       bool   `mapstructure:"propagate_delete" yaml:"propagate_delete" default:"true"`
	PropagateExpiration   bool   `mapstructure:"propagate_expiration" yaml:"propagate_expiration" default:"false"`
	PropagateExpOffset    int64  `mapstructure:"propagate_expiration_offset" yaml:"propagate_expiration_offset" default:"0"`
	RemoteDeleteAfter     int64  `mapstructure:"remote_delete_after" yaml:"remote_delete_after" default:"0"`
	RemoteDeleteAddition  int64  `mapstructure:"remote_delete_after_addition" yaml:"remote_delete_after_addition" default:"0"`
	RetainLocal           bool   `mapstructure:"retain_local" yaml:"retain_local" default:"true"`
	RetainLocalSegments   bool   `mapstructure:"retain_local_segments" yaml:"retain_local_segments" default:"true"`
	StoragePolicy         string `mapstructure:"storage_policy" yaml:"storage_policy"`
	SyncContainerACL      bool   `mapstructure:"sync_container_acl" yaml:"sync_container_acl" default:"false"`
	SyncContainerMetadata bool   `mapstructure:"sync_container_metadata" yaml:"sync_container_metadata" default:"false"`
	MinSegmentSize        int64  `mapstructure:"min_segment_size" yaml:"min_segment_size" default:"5242880"`
	MergeNamespaces       bool   `mapstructure:"merge_namespaces" yaml:"merge_namespaces" default:"false"`
	CustomPrefix          string `mapstructure:"custom_prefix" yaml:"custom_prefix"`
}

// MetadataConditionConfig is the on-disk boolean-expression tree for a
// migration's migrator_settings.metadata_conditions (spec §4.4 step 2:
// "boolean combination of AND/NOT/OR over key-value predicates").
type MetadataConditionConfig struct {
	Op       string                    `mapstructure:"op" yaml:"op"`
	Key      string                    `mapstructure:"key" yaml:"key"`
	Value    string                    `mapstructure:"value" yaml:"value"`
	Children []MetadataConditionConfig `mapstructure:"children" yaml:"children"`
}

// ToCondition converts the on-disk tree into the migrator.Condition
// evaluator the Migrator actually runs.
func (m MetadataConditionConfig) ToCondition() migrator.Condition {
	children := make([]migrator.Condition, len(m.Children))
	for i, c := range m.Children {
		children[i] = c.ToCondition()
	}
	return migrator.Condition{
		Op:       migrator.ConditionOp(m.Op),
		Key:      m.Key,
		Value:    m.Value,
		Children: children,
	}
}

// MigratorSettings holds the migrator-only tuning knobs nested under a
// migrations[] entry (spec §4.4 "Partitioning", "Status file").
type MigratorSettings struct {
	RingName             string                  `mapstructure:"ring_name" yaml:"ring_name" default:"container"`
	MetadataConditions   MetadataConditionConfig `mapstructure:"metadata_conditions" yaml:"metadata_conditions"`
	StatusFile           string                  `mapstructure:"status_file" yaml:"status_file" default:"/var/cache/cloudsync/migrator-status.json"`
	LocalObjectSizeLimit int64                   `mapstructure:"local_object_size_limit" yaml:"local_object_size_limit"`
}

// MigrationConfig is one entry of the top-level "migrations" list: the
// same account/container/protocol binding a sync profile uses, but read in
// the opposite direction (remote -> local), plus its migrator_settings
// (spec §6 "migrations with migrator_settings").
type MigrationConfig struct {
	ProfileConfig    `mapstructure:",squash" yaml:",inline"`
	MigratorSettings MigratorSettings `mapstructure:"migrator_settings" yaml:"migrator_settings"`
}

// Config is the full on-disk document: one Global block plus the sync
// profile list and/or the migrations list (spec §6 top-level JSON schema
// "containers ... and/or migrations with migrator_settings").
type Config struct {
	Global     Global            `mapstructure:"global" yaml:"global"`
	Profiles   []ProfileConfig   `mapstructure:"profiles" yaml:"profiles"`
	Migrations []MigrationConfig `mapstructure:"migrations" yaml:"migrations"`
}

// Prefix implements configx.Configurable, the same hook the teacher's
// storagex.Config uses to bind into gostratum/core's config loader.
func (Config) Prefix() string { return "cloudsync" }

// DefaultConfig returns a Config with the Global defaults the struct tags
// above declare, for callers that construct one without going through a
// loader (mirrors the teacher's DefaultConfig). The profile and migration
// lists are left empty, so no per-profile tag default is applied here.
func DefaultConfig() *Config {
	return &Config{
		Global: Global{
			ItemsChunk:        1000,
			PollInterval:      30 * time.Second,
			StatusDir:         "/var/cache/cloudsync/status",
			Workers:           10,
			EnumeratorWorkers: 2,
			StatsdPort:        8125,
			GracefulTimeout:   30 * time.Second,
		},
	}
}

// ToProfiles converts the on-disk ProfileConfig list into domain
// cloudsync.Profile values, the shape the sync engine and migrator
// actually consume.
func (c *Config) ToProfiles() []cloudsync.Profile {
	out := make([]cloudsync.Profile, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		out = append(out, profileFromConfig(p))
	}
	return out
}

// ToMigrationProfiles converts the on-disk Migrations list into domain
// cloudsync.Profile values plus their migrator_settings, the shape
// cmd/cloud-migrator hands to migrator.New.
func (c *Config) ToMigrationProfiles() []MigrationProfile {
	out := make([]MigrationProfile, 0, len(c.Migrations))
	for _, m := range c.Migrations {
		out = append(out, MigrationProfile{
			Profile:  profileFromConfig(m.ProfileConfig),
			Settings: m.MigratorSettings,
		})
	}
	return out
}

// MigrationProfile pairs a resolved domain Profile with its
// migrator-only settings.
type MigrationProfile struct {
	Profile  cloudsync.Profile
	Settings MigratorSettings
}

func profileFromConfig(p ProfileConfig) cloudsync.Profile {
	return cloudsync.Profile{
		Account:               p.Account,
		Container:             p.Container,
		Protocol:              cloudsync.Protocol(p.Protocol),
		Endpoint:              p.AWSEndpoint,
		Identity:              p.AWSIdentity,
		Secret:                p.AWSSecret,
		Bucket:                p.AWSBucket,
		ConvertDLO:            p.ConvertDLO,
		CopyAfter:             p.CopyAfter,
		ExcludePattern:        p.ExcludePattern,
		PropagateDelete:       p.PropagateDelete,
		PropagateExpiration:   p.PropagateExpiration,
		ExpirationOffset:      p.PropagateExpOffset,
		RemoteDeleteAfter:     p.RemoteDeleteAfter,
		RemoteDeleteAddition:  p.RemoteDeleteAddition,
		RetainLocal:           p.RetainLocal,
		RetainLocalSegments:   p.RetainLocalSegments,
		StoragePolicy:         p.StoragePolicy,
		SyncContainerACL:      p.SyncContainerACL,
		SyncContainerMetadata: p.SyncContainerMetadata,
		MinSegmentSize:        p.MinSegmentSize,
		MergeNamespaces:       p.MergeNamespaces,
		CustomPrefix:          p.CustomPrefix,
	}
}
