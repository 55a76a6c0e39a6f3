package constants

import "time"

const TickInterval = time.Second

// settings store keys
const (
	SettingSets        = "sets"
	SettingStates      = "states"
	SettingSetLabels   = "setLabels"
	SettingStateLabels = "stateLabels"
	SettingTimers      = "timers"
)

// realtime event names
const (
	EventSetsChanged   = "sets_changed"
	EventStatesChanged = "states_changed"
	EventTimersChanged = "timers_changed"
)

// automation trigger names
const (
	TriggerNoneActive        = "none_active"
	TriggerNotNoneActive     = "not_none_active"
	TriggerNoneActiveChanged = "none_active_changed"
	TriggerAllActive         = "all_active"
	TriggerNotAllActive      = "not_all_active"
	TriggerAllActiveChanged  = "all_active_changed"
	TriggerStateSet          = "state_set"
	TriggerStateReset        = "state_reset"
	TriggerChange            = "change"
)

// trigger discriminators
const (
	TriggerKindAlways  = "always"
	TriggerKindChanged = "changed"
)

const AggregateNone = "none"
const AggregateAll = "all"
