package task

import (
	"taskgate/pkg/logx"
)

// Task type tags accepted in the declarative config.
const (
	TypeSensor   = "SensorTask"
	TypeActuator = "ActuatorTask"
)

// DefaultSensorThreshold is the activation threshold for config-created
// sensors. It is a factory extra, not part of Config.
const DefaultSensorThreshold = 50.0

// Build constructs a task of the given type around cfg, or nil when the
// type tag is unknown.
func Build(taskType string, cfg Config, log logx.Logger) *Task {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("task", cfg.Name))

	switch taskType {
	case TypeSensor:
		return New(cfg, NewSensor(DefaultSensorThreshold, log))
	case TypeActuator:
		return New(cfg, NewActuator(log))
	default:
		log.Error("unknown task type", logx.String("type", taskType))
		return nil
	}
}

// KnownType reports whether taskType is a recognized factory tag.
func KnownType(taskType string) bool {
	return taskType == TypeSensor || taskType == TypeActuator
}
