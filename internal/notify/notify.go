package notify

import (
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/wheelibin/sets/internal/constants"
	"github.com/wheelibin/sets/internal/models"
)

// TriggerEvent is the immutable context handed to automation-trigger
// observers after a committed mutation.
type TriggerEvent struct {
	Kind    string `json:"kind"`
	SetID   string `json:"setId"`
	StateID string `json:"stateId,omitempty"`
	// the "always"/"changed" discriminator for state_set/state_reset,
	// empty for the other trigger kinds
	Trigger string `json:"trigger,omitempty"`
}

// TriggerHandler observes fired automation triggers. Handlers run
// synchronously in registration order and are allowed to call back into the
// update engine (e.g. to auto-register a missing state while matching).
type TriggerHandler func(evt TriggerEvent)

// StreamPublisher pushes a realtime event to connected observers.
type StreamPublisher interface {
	Publish(event string, data []byte)
}

// Notifier fans every committed mutation out to the realtime stream and to
// the registered automation-trigger observers.
type Notifier struct {
	logger    *log.Logger
	publisher StreamPublisher

	mu       sync.RWMutex
	handlers map[string][]TriggerHandler
}

func NewNotifier(logger *log.Logger, publisher StreamPublisher) *Notifier {
	return &Notifier{
		logger:    logger,
		publisher: publisher,
		handlers:  map[string][]TriggerHandler{},
	}
}

// OnTrigger registers an observer for a trigger kind.
func (n *Notifier) OnTrigger(kind string, handler TriggerHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[kind] = append(n.handlers[kind], handler)
}

// Trigger fires an automation trigger. Handler faults are not isolated.
func (n *Notifier) Trigger(evt TriggerEvent) {
	n.mu.RLock()
	handlers := n.handlers[evt.Kind]
	n.mu.RUnlock()

	n.logger.Debug("triggered flow", "kind", evt.Kind, "setId", evt.SetID, "stateId", evt.StateID, "trigger", evt.Trigger)

	for _, handler := range handlers {
		handler(evt)
	}
}

// SetsChanged pushes a delta of changed sets, nil marking a deleted set.
func (n *Notifier) SetsChanged(changes map[string]*models.SetView) {
	n.publish(constants.EventSetsChanged, changes)
}

// StatesChanged pushes a delta of changed state definitions as id => label,
// nil marking a deleted definition.
func (n *Notifier) StatesChanged(changes map[string]*string) {
	n.publish(constants.EventStatesChanged, changes)
}

// TimersChanged pushes the full timer map.
func (n *Notifier) TimersChanged(timers models.Timers) {
	n.publish(constants.EventTimersChanged, timers)
}

func (n *Notifier) publish(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		n.logger.Error("error encoding realtime event", "event", event, "err", err)
		return
	}

	n.logger.Debug("realtime update", "event", event, "data", string(raw))
	n.publisher.Publish(event, raw)
}
