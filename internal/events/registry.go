package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// scenario lifecycle
	"scenario.loaded":  {},
	"scenario.started": {},
	"scenario.stopped": {},

	// steps and questions
	"step.fired":         {},
	"question.presented": {},
	"question.answered":  {},
	"question.discarded": {},
	"phase.changed":      {},

	// interventions
	"drug.administered":   {},
	"infusion.started":    {},
	"infusion.stopped":    {},
	"environment.changed": {},

	// safety monitor
	"monitor.started":   {},
	"monitor.stopped":   {},
	"monitor.alert":     {},
	"monitor.preempted": {},

	// debrief
	"debrief.ready": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
