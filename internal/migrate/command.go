package migrate

import (
	"fmt"
)

// Mapping rule kinds.
const (
	RuleColumn     = "column"
	RuleExpression = "expression"
	RuleConstant   = "constant"
)

// MappingRule derives one target column's value from a source row:
// a direct column copy, a source-side SQL expression, or a constant.
type MappingRule struct {
	Type   string `yaml:"type" json:"type"`
	Source string `yaml:"source,omitempty" json:"source,omitempty"` // column rules
	SQL    string `yaml:"sql,omitempty" json:"sql,omitempty"`       // expression rules
	Value  any    `yaml:"value,omitempty" json:"value,omitempty"`   // constant rules
}

// Validate checks the rule's tag and required fields.
func (r MappingRule) Validate() error {
	switch r.Type {
	case RuleColumn:
		if r.Source == "" {
			return fmt.Errorf("column rule requires a source column")
		}
	case RuleExpression:
		if r.SQL == "" {
			return fmt.Errorf("expression rule requires sql")
		}
	case RuleConstant:
		// any value, including nil, is acceptable
	default:
		return fmt.Errorf("unknown mapping rule type %q", r.Type)
	}
	return nil
}

// RawPayloadConfig requests that the whole source row, keyed by source
// column name, is serialized into one extra target column.
type RawPayloadConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	TargetColumn string `yaml:"target_column,omitempty" json:"target_column,omitempty"`
}

// DefaultRawPayloadColumn is used when no target column is configured.
const DefaultRawPayloadColumn = "raw_payload"

// Column returns the configured raw-payload column, or the default.
func (c *RawPayloadConfig) Column() string {
	if c == nil || !c.Enabled {
		return ""
	}
	if c.TargetColumn == "" {
		return DefaultRawPayloadColumn
	}
	return c.TargetColumn
}

// Transfer modes.
const (
	ModeAppend            = "append"
	ModeTruncateAndInsert = "truncate_and_insert"
)

// Batch size bounds.
const (
	DefaultBatchSize = 1000
	MinBatchSize     = 1
	MaxBatchSize     = 10000
)

// Command is a declarative one-shot migration: where to read, where to
// write, and how each target column is derived.
type Command struct {
	Source     Endpoint               `yaml:"source" json:"source"`
	Target     Endpoint               `yaml:"target" json:"target"`
	Mode       string                 `yaml:"mode,omitempty" json:"mode,omitempty"`
	Filter     string                 `yaml:"filter,omitempty" json:"filter,omitempty"`
	BatchSize  int                    `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	Mapping    map[string]MappingRule `yaml:"mapping" json:"mapping"`
	RawPayload *RawPayloadConfig      `yaml:"raw_payload,omitempty" json:"raw_payload,omitempty"`
}

// EffectiveBatchSize clamps the configured batch size into [1, 10000],
// defaulting to 1000 when unset.
func (c *Command) EffectiveBatchSize() int {
	size := c.BatchSize
	if size == 0 {
		size = DefaultBatchSize
	}
	if size < MinBatchSize {
		size = MinBatchSize
	}
	if size > MaxBatchSize {
		size = MaxBatchSize
	}
	return size
}

// EffectiveMode defaults to append.
func (c *Command) EffectiveMode() string {
	if c.Mode == "" {
		return ModeAppend
	}
	return c.Mode
}
