// Package config reads the declarative task-set document and keeps the
// live scheduler convergent with it: parse, validate, debounce change
// bursts, diff against the current set, and issue create/update/stop.
package config

import (
	"fmt"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"taskgate/internal/task"
)

// Field defaults for omitted record fields.
const (
	DefaultIntervalMs = 1000
	DefaultTolerance  = 10
)

// document is the root of the task-set file. Records are kept as raw
// nodes so each one strict-decodes independently (see decodeSpec).
type document struct {
	Tasks []yaml.Node `yaml:"tasks"`
}

// TaskSpec is one task record as written in the file. Pointer and
// FlexBool fields distinguish "omitted" from an explicit zero/false.
type TaskSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	IntervalMs   *int     `yaml:"interval_ms"`
	SigTolerance *int     `yaml:"sig_tolerance"`
	SigRepeat    *int     `yaml:"sig_repeat"`
	AllowSignal  FlexBool `yaml:"allow_signal"`
	ActTolerance *int     `yaml:"act_tolerance"`
	ActRepeat    *int     `yaml:"act_repeat"`
	AllowAction  FlexBool `yaml:"allow_action"`
}

// FlexBool accepts true/false/1/0/yes/no, case-insensitive.
// The zero value means "omitted" and defaults to true.
type FlexBool struct {
	set bool
	val bool
}

func (b *FlexBool) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected scalar boolean, got %v", value.Kind)
	}
	if value.Tag == "!!null" {
		return nil // bare key, treat as omitted
	}
	switch strings.ToLower(strings.TrimSpace(value.Value)) {
	case "true", "1", "yes":
		b.val = true
	case "false", "0", "no":
		b.val = false
	default:
		return fmt.Errorf("invalid boolean %q", value.Value)
	}
	b.set = true
	return nil
}

// Value resolves the field with its default (true when omitted).
func (b FlexBool) Value() bool {
	if !b.set {
		return true
	}
	return b.val
}

// ExtendedConfig is a validated record: the runtime task config plus the
// factory type tag. It is comparable; the reconciler's "changed?" check
// compares every field.
type ExtendedConfig struct {
	Task task.Config
	Type string
}

// resolve applies defaults and converts the raw spec into runtime shape.
// Call only after validate passed.
func (s TaskSpec) resolve() ExtendedConfig {
	intervalMs := DefaultIntervalMs
	if s.IntervalMs != nil {
		intervalMs = *s.IntervalMs
	}
	sigTol, actTol := DefaultTolerance, DefaultTolerance
	if s.SigTolerance != nil {
		sigTol = *s.SigTolerance
	}
	if s.ActTolerance != nil {
		actTol = *s.ActTolerance
	}
	sigRep, actRep := 0, 0
	if s.SigRepeat != nil {
		sigRep = *s.SigRepeat
	}
	if s.ActRepeat != nil {
		actRep = *s.ActRepeat
	}

	return ExtendedConfig{
		Type: s.Type,
		Task: task.Config{
			Name:         s.Name,
			Interval:     time.Duration(intervalMs) * time.Millisecond,
			SigTolerance: sigTol,
			SigRepeat:    sigRep,
			AllowSignal:  s.AllowSignal.Value(),
			ActTolerance: actTol,
			ActRepeat:    actRep,
			AllowAction:  s.AllowAction.Value(),
		},
	}
}

// validate reports why a record must be dropped, or "".
func (s TaskSpec) validate() string {
	if strings.TrimSpace(s.Name) == "" {
		return "missing task name"
	}
	if !task.KnownType(s.Type) {
		return fmt.Sprintf("unknown task type %q", s.Type)
	}
	if s.IntervalMs != nil && *s.IntervalMs <= 0 {
		return fmt.Sprintf("interval_ms must be > 0, got %d", *s.IntervalMs)
	}
	if s.SigTolerance != nil && *s.SigTolerance < 0 {
		return "sig_tolerance must be >= 0"
	}
	if s.ActTolerance != nil && *s.ActTolerance < 0 {
		return "act_tolerance must be >= 0"
	}
	if s.SigRepeat != nil && *s.SigRepeat < 0 {
		return "sig_repeat must be >= 0"
	}
	if s.ActRepeat != nil && *s.ActRepeat < 0 {
		return "act_repeat must be >= 0"
	}
	return ""
}
