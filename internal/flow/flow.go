package flow

import (
	"github.com/charmbracelet/log"

	"github.com/wheelibin/sets/internal/constants"
	"github.com/wheelibin/sets/internal/models"
	"github.com/wheelibin/sets/internal/notify"
)

// Arg is an autocomplete entry chosen by the user when configuring a card:
// the label plus the id it resolved to at configuration time. Cards resolve
// labels through the registry on every run, adopting the stored id, so a
// deleted and recreated set/state keeps satisfying old cards.
type Arg struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Args holds the configured arguments of a card.
type Args struct {
	Set   *Arg
	State *Arg
	// the always|changed discriminator of state_set/state_reset cards
	Trigger string
	// timeout/delay in ticks for the timed actions
	Duration int
}

type updateEngine interface {
	SetID(label, adoptID string) (string, error)
	StateID(label, adoptID string) (string, error)
	AddState(setID, stateID string) (bool, error)
	SetState(setID, stateID string, change models.Change) (bool, error)
	SetAll(setID string, value bool) (bool, error)
	SetExactlyOne(setID, stateID string) (bool, error)
	SetDelayed(setID, stateID string, delay int) (bool, error)
	State(setID, stateID string) (*bool, error)
	None(setID string) (bool, error)
	All(setID string) (bool, error)
	AutoCompleteSet(partial string) ([]models.AutoCompleteResult, error)
	AutoCompleteState(setID, partial string) ([]models.AutoCompleteResult, error)
}

type triggerSource interface {
	OnTrigger(kind string, handler notify.TriggerHandler)
}

// TriggerCards lists the trigger cards and their argument kinds.
var TriggerCards = map[string][]string{
	constants.TriggerNoneActive:        {"set"},
	constants.TriggerNotNoneActive:     {"set"},
	constants.TriggerNoneActiveChanged: {"set"},
	constants.TriggerAllActive:         {"set"},
	constants.TriggerNotAllActive:      {"set"},
	constants.TriggerAllActiveChanged:  {"set"},
	constants.TriggerStateSet:          {"set", "state"},
	constants.TriggerStateReset:        {"set", "state"},
	constants.TriggerChange:            {"set"},
}

// Service is the automation-rule surface: trigger cards matched against
// fired engine events, plus the condition and action cards.
type Service struct {
	logger   *log.Logger
	engine   updateEngine
	triggers triggerSource
}

func NewService(logger *log.Logger, engine updateEngine, triggers triggerSource) *Service {
	return &Service{logger: logger, engine: engine, triggers: triggers}
}

func (f *Service) setID(args Args) (string, error) {
	if args.Set == nil {
		return "", nil
	}
	return f.engine.SetID(args.Set.Name, args.Set.ID)
}

func (f *Service) stateID(args Args) (string, error) {
	if args.State == nil {
		return "", nil
	}
	return f.engine.StateID(args.State.Name, args.State.ID)
}

// RegisterTrigger wires a configured trigger card: whenever the engine
// fires a trigger of the given kind whose context matches the card's
// arguments, fire is invoked. Matching resolves the card's labels through
// the registry and auto-registers the card's state into the set, so a card
// referring to a state nothing has touched yet still matches.
func (f *Service) RegisterTrigger(kind string, args Args, fire func(evt notify.TriggerEvent)) {
	f.triggers.OnTrigger(kind, func(evt notify.TriggerEvent) {
		matched, err := f.matches(kind, args, evt)
		if err != nil {
			f.logger.Error("error matching trigger", "kind", kind, "err", err)
			return
		}
		if matched {
			fire(evt)
		}
	})
}

func (f *Service) matches(kind string, args Args, evt notify.TriggerEvent) (bool, error) {
	setID, err := f.setID(args)
	if err != nil {
		return false, err
	}
	stateID, err := f.stateID(args)
	if err != nil {
		return false, err
	}

	if setID != "" && stateID != "" {
		if _, err := f.engine.AddState(setID, stateID); err != nil {
			return false, err
		}
	}

	result := setID == evt.SetID
	if result && stateID != "" && evt.StateID != "" {
		result = stateID == evt.StateID
	}
	if result && evt.Trigger != "" {
		result = args.Trigger == evt.Trigger
	}

	f.logger.Debug("matchTrigger", "kind", kind, "setId", setID, "stateId", stateID, "event", evt, "result", result)
	return result, nil
}

// Conditions

func (f *Service) ConditionNoneActive(args Args) (bool, error) {
	setID, err := f.setID(args)
	if err != nil {
		return false, err
	}
	return f.engine.None(setID)
}

func (f *Service) ConditionAllActive(args Args) (bool, error) {
	setID, err := f.setID(args)
	if err != nil {
		return false, err
	}
	return f.engine.All(setID)
}

func (f *Service) ConditionIsActive(args Args) (bool, error) {
	setID, err := f.setID(args)
	if err != nil {
		return false, err
	}
	stateID, err := f.stateID(args)
	if err != nil {
		return false, err
	}

	value, err := f.engine.State(setID, stateID)
	if err != nil || value == nil {
		return false, err
	}
	return *value, nil
}

// Actions

func (f *Service) ActivateState(args Args) (bool, error) {
	return f.setStateAction(args, models.SetTo(true))
}

func (f *Service) DeactivateState(args Args) (bool, error) {
	return f.setStateAction(args, models.SetTo(false))
}

// ActivateTempState activates a state with automatic deactivation after the
// card's configured duration.
func (f *Service) ActivateTempState(args Args) (bool, error) {
	return f.setStateAction(args, models.ActivateFor(args.Duration))
}

func (f *Service) setStateAction(args Args, change models.Change) (bool, error) {
	setID, err := f.setID(args)
	if err != nil {
		return false, err
	}
	stateID, err := f.stateID(args)
	if err != nil {
		return false, err
	}
	return f.engine.SetState(setID, stateID, change)
}

// ActivateDelayed schedules activation of a state after the card's
// configured duration.
func (f *Service) ActivateDelayed(args Args) (bool, error) {
	setID, err := f.setID(args)
	if err != nil {
		return false, err
	}
	stateID, err := f.stateID(args)
	if err != nil {
		return false, err
	}
	return f.engine.SetDelayed(setID, stateID, args.Duration)
}

func (f *Service) ActivateAll(args Args) (bool, error) {
	setID, err := f.setID(args)
	if err != nil {
		return false, err
	}
	return f.engine.SetAll(setID, true)
}

func (f *Service) DeactivateAll(args Args) (bool, error) {
	setID, err := f.setID(args)
	if err != nil {
		return false, err
	}
	return f.engine.SetAll(setID, false)
}

// ActivateOne activates a single state and deactivates all its siblings.
func (f *Service) ActivateOne(args Args) (bool, error) {
	setID, err := f.setID(args)
	if err != nil {
		return false, err
	}
	stateID, err := f.stateID(args)
	if err != nil {
		return false, err
	}
	return f.engine.SetExactlyOne(setID, stateID)
}

// Autocomplete

func (f *Service) AutoCompleteSet(query string) ([]models.AutoCompleteResult, error) {
	return f.engine.AutoCompleteSet(query)
}

func (f *Service) AutoCompleteState(args Args, query string) ([]models.AutoCompleteResult, error) {
	setID, err := f.setID(args)
	if err != nil {
		return nil, err
	}
	return f.engine.AutoCompleteState(setID, query)
}
