package sets

import (
	"github.com/wheelibin/sets/internal/constants"
	"github.com/wheelibin/sets/internal/models"
	"github.com/wheelibin/sets/internal/notify"
)

// pending buffers the notifications produced while a mutation holds the
// engine lock. The buffer is flushed after the durable writes have been
// committed and the lock released, so that trigger observers are free to
// call back into the engine. Events flush in the order they were queued.
type pending struct {
	fire []func(n changeNotifier)
}

func (p *pending) add(f func(n changeNotifier)) {
	p.fire = append(p.fire, f)
}

func (p *pending) flush(n changeNotifier) {
	for _, f := range p.fire {
		f(n)
	}
}

func (p *pending) setsChanged(changes map[string]*models.SetView) {
	p.add(func(n changeNotifier) { n.SetsChanged(changes) })
}

func (p *pending) statesChanged(changes map[string]*string) {
	p.add(func(n changeNotifier) { n.StatesChanged(changes) })
}

func (p *pending) timersChanged(timers models.Timers) {
	snapshot := copyTimers(timers)
	p.add(func(n changeNotifier) { n.TimersChanged(snapshot) })
}

func (p *pending) trigger(evt notify.TriggerEvent) {
	p.add(func(n changeNotifier) { n.Trigger(evt) })
}

// stateChange queues the state_set/state_reset pair for a single boolean
// transition: the "always" trigger whenever the state ends up (or was)
// active, and the "changed" trigger strictly on a flip.
func (p *pending) stateChange(setID, stateID string, oldState, newState bool) {
	if newState {
		p.trigger(notify.TriggerEvent{Kind: constants.TriggerStateSet, SetID: setID, StateID: stateID, Trigger: constants.TriggerKindAlways})
	} else if oldState {
		p.trigger(notify.TriggerEvent{Kind: constants.TriggerStateReset, SetID: setID, StateID: stateID, Trigger: constants.TriggerKindAlways})
	}

	if oldState != newState {
		kind := constants.TriggerStateReset
		if newState {
			kind = constants.TriggerStateSet
		}
		p.trigger(notify.TriggerEvent{Kind: kind, SetID: setID, StateID: stateID, Trigger: constants.TriggerKindChanged})
	}
}

// aggregate queues the edge triggers for a none/all aggregate transition.
func (p *pending) aggregate(setID, kind string, oldState, newState bool) {
	if !oldState && newState {
		p.trigger(notify.TriggerEvent{Kind: kind + "_active", SetID: setID})
	}
	if oldState && !newState {
		p.trigger(notify.TriggerEvent{Kind: "not_" + kind + "_active", SetID: setID})
	}
	if oldState != newState {
		p.trigger(notify.TriggerEvent{Kind: kind + "_active_changed", SetID: setID})
	}
}

func (p *pending) change(setID string) {
	p.trigger(notify.TriggerEvent{Kind: constants.TriggerChange, SetID: setID})
}

func copyTimers(timers models.Timers) models.Timers {
	snapshot := models.Timers{}
	for setID, setTimers := range timers {
		inner := map[string]int{}
		for stateID, timer := range setTimers {
			inner[stateID] = timer
		}
		snapshot[setID] = inner
	}
	return snapshot
}
