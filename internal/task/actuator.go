package task

import (
	"sync/atomic"

	"taskgate/pkg/logx"
)

// Actuator is a command-style runner: it wants both channels while its
// command flag is set. Activations are counted for verification.
type Actuator struct {
	log     logx.Logger
	command atomic.Bool
	actions atomic.Int64
}

func NewActuator(log logx.Logger) *Actuator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Actuator{log: log}
}

// SetCommand enables or disables the actuator command.
func (a *Actuator) SetCommand(on bool) { a.command.Store(on) }

func (a *Actuator) Command() bool { return a.command.Load() }

// ActionCount reports how many times the action channel fired on.
func (a *Actuator) ActionCount() int64 { return a.actions.Load() }

func (a *Actuator) Plan() PlanResult {
	want := a.command.Load()
	return PlanResult{WantSignal: want, WantAct: want}
}

func (a *Actuator) Signal(on bool) {
	if on {
		a.log.Info("state ready")
	} else {
		a.log.Info("state idle")
	}
}

func (a *Actuator) Act(on bool) {
	if on {
		n := a.actions.Add(1)
		a.log.Info("action executed", logx.Int64("count", n))
	} else {
		a.log.Info("action stopped", logx.Int64("total", a.actions.Load()))
	}
}
