package task

import (
	"math"
	"sync/atomic"

	"taskgate/pkg/logx"
)

// Sensor is a gauge-style runner: it wants both channels whenever its
// simulated reading exceeds the threshold. The reading is settable from
// outside (demo and tests) and read from the worker, hence atomic.
type Sensor struct {
	log       logx.Logger
	valueBits atomic.Uint64
	threshold float64
}

func NewSensor(threshold float64, log logx.Logger) *Sensor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sensor{log: log, threshold: threshold}
}

// SetValue records a new simulated reading.
func (s *Sensor) SetValue(v float64) { s.valueBits.Store(math.Float64bits(v)) }

func (s *Sensor) Value() float64 { return math.Float64frombits(s.valueBits.Load()) }

func (s *Sensor) Plan() PlanResult {
	over := s.Value() > s.threshold
	return PlanResult{WantSignal: over, WantAct: over}
}

func (s *Sensor) Signal(on bool) {
	if on {
		s.log.Info("signal activated",
			logx.Float64("value", s.Value()),
			logx.Float64("threshold", s.threshold))
	} else {
		s.log.Info("signal deactivated", logx.Float64("value", s.Value()))
	}
}

func (s *Sensor) Act(on bool) {
	if on {
		s.log.Debug("processing reading", logx.Float64("value", s.Value()))
	} else {
		s.log.Debug("processing stopped")
	}
}
