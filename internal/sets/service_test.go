package sets_test

import (
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelibin/sets/internal/models"
	"github.com/wheelibin/sets/internal/notify"
	"github.com/wheelibin/sets/internal/sets"
)

// memSettings is an in-memory settings store that round-trips every value
// through JSON, like the real repo does.
type memSettings struct {
	data map[string][]byte
}

func newMemSettings() *memSettings {
	return &memSettings{data: map[string][]byte{}}
}

func (m *memSettings) load(key string, v any) error {
	if raw, ok := m.data[key]; ok {
		return json.Unmarshal(raw, v)
	}
	return nil
}

func (m *memSettings) save(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

func (m *memSettings) Sets() (map[string]*models.Set, error) {
	sets := map[string]*models.Set{}
	return sets, m.load("sets", &sets)
}
func (m *memSettings) SaveSets(sets map[string]*models.Set) error { return m.save("sets", sets) }

func (m *memSettings) States() (map[string]*models.StateDef, error) {
	states := map[string]*models.StateDef{}
	return states, m.load("states", &states)
}
func (m *memSettings) SaveStates(states map[string]*models.StateDef) error {
	return m.save("states", states)
}

func (m *memSettings) SetLabels() (map[string]string, error) {
	labels := map[string]string{}
	return labels, m.load("setLabels", &labels)
}
func (m *memSettings) SaveSetLabels(labels map[string]string) error {
	return m.save("setLabels", labels)
}

func (m *memSettings) StateLabels() (map[string]string, error) {
	labels := map[string]string{}
	return labels, m.load("stateLabels", &labels)
}
func (m *memSettings) SaveStateLabels(labels map[string]string) error {
	return m.save("stateLabels", labels)
}

func (m *memSettings) Timers() (models.Timers, error) {
	timers := models.Timers{}
	return timers, m.load("timers", &timers)
}
func (m *memSettings) SaveTimers(timers models.Timers) error { return m.save("timers", timers) }

// recordingNotifier captures everything the engine fans out.
type recordingNotifier struct {
	setsChanged   []map[string]*models.SetView
	statesChanged []map[string]*string
	timersChanged []models.Timers
	triggers      []notify.TriggerEvent
}

func (n *recordingNotifier) SetsChanged(changes map[string]*models.SetView) {
	n.setsChanged = append(n.setsChanged, changes)
}
func (n *recordingNotifier) StatesChanged(changes map[string]*string) {
	n.statesChanged = append(n.statesChanged, changes)
}
func (n *recordingNotifier) TimersChanged(timers models.Timers) {
	n.timersChanged = append(n.timersChanged, timers)
}
func (n *recordingNotifier) Trigger(evt notify.TriggerEvent) {
	n.triggers = append(n.triggers, evt)
}

func (n *recordingNotifier) reset() {
	n.setsChanged = nil
	n.statesChanged = nil
	n.timersChanged = nil
	n.triggers = nil
}

// firedTriggers renders the captured triggers as "kind:discriminator"
// strings for compact assertions.
func (n *recordingNotifier) firedTriggers() []string {
	fired := []string{}
	for _, evt := range n.triggers {
		if evt.Trigger != "" {
			fired = append(fired, fmt.Sprintf("%s:%s", evt.Kind, evt.Trigger))
		} else {
			fired = append(fired, evt.Kind)
		}
	}
	return fired
}

func newTestService(t *testing.T) (*sets.Service, *recordingNotifier) {
	t.Helper()
	logger := log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})
	notifier := &recordingNotifier{}
	return sets.NewService(logger, newMemSettings(), notifier), notifier
}

// makeSet creates a set with the given member states, returning the set id
// and the state ids keyed by label.
func makeSet(t *testing.T, svc *sets.Service, label string, stateLabels ...string) (string, map[string]string) {
	t.Helper()

	setID, err := svc.SetID(label, "")
	require.NoError(t, err)

	stateIDs := map[string]string{}
	for _, stateLabel := range stateLabels {
		stateID, err := svc.StateID(stateLabel, "")
		require.NoError(t, err)
		ok, err := svc.AddState(setID, stateID)
		require.NoError(t, err)
		require.True(t, ok)
		stateIDs[stateLabel] = stateID
	}

	return setID, stateIDs
}

// assertAggregates checks the derived fields against the actual state map.
func assertAggregates(t *testing.T, svc *sets.Service, setID string) {
	t.Helper()

	full, err := svc.FullState()
	require.NoError(t, err)

	var states map[string]bool
	for _, view := range full.Sets {
		if view.ID == setID {
			states = view.States
		}
	}
	require.NotNil(t, states)

	active := 0
	for _, value := range states {
		if value {
			active++
		}
	}

	none, err := svc.None(setID)
	require.NoError(t, err)
	all, err := svc.All(setID)
	require.NoError(t, err)
	count, err := svc.ActiveCount(setID)
	require.NoError(t, err)

	assert.Equal(t, active == 0, none, "none")
	assert.Equal(t, active == len(states), all, "all")
	assert.Equal(t, active, count, "active")
}

func Test_NewSet_HasEmptyAggregates(t *testing.T) {
	svc, notifier := newTestService(t)

	// act
	setID, err := svc.SetID("Lights", "")

	// assert
	require.NoError(t, err)
	require.NotEmpty(t, setID)

	none, _ := svc.None(setID)
	all, _ := svc.All(setID)
	active, _ := svc.ActiveCount(setID)
	assert.True(t, none)
	assert.True(t, all)
	assert.Equal(t, 0, active)

	require.Len(t, notifier.setsChanged, 1)
	view := notifier.setsChanged[0][setID]
	require.NotNil(t, view)
	assert.Equal(t, "Lights", view.Label)
	assert.Empty(t, view.States)
}

func Test_SetState_ActivateScenario(t *testing.T) {
	// the end-to-end scenario: Lights with Kitchen and Hall
	svc, notifier := newTestService(t)
	setID, stateIDs := makeSet(t, svc, "Lights", "Kitchen", "Hall")
	notifier.reset()

	// act: activate Kitchen
	ok, err := svc.SetState(setID, stateIDs["Kitchen"], models.SetTo(true))

	// assert
	require.NoError(t, err)
	require.True(t, ok)

	active, _ := svc.ActiveCount(setID)
	none, _ := svc.None(setID)
	all, _ := svc.All(setID)
	assert.Equal(t, 1, active)
	assert.False(t, none)
	assert.False(t, all)
	assertAggregates(t, svc, setID)

	assert.Equal(t, []string{
		"state_set:always",
		"state_set:changed",
		"not_none_active",
		"none_active_changed",
		"change",
	}, notifier.firedTriggers())

	// act: activate all
	notifier.reset()
	ok, err = svc.SetAll(setID, true)
	require.NoError(t, err)
	require.True(t, ok)

	active, _ = svc.ActiveCount(setID)
	all, _ = svc.All(setID)
	assert.Equal(t, 2, active)
	assert.True(t, all)
	assertAggregates(t, svc, setID)

	// Kitchen was already on: state_set always only; Hall flips: always+changed
	assert.ElementsMatch(t, []string{
		"state_set:always",
		"state_set:always",
		"state_set:changed",
		"all_active",
		"all_active_changed",
		"change",
	}, notifier.firedTriggers())

	// act: delete fails while not empty
	ok, err = svc.DeleteSet(setID)
	require.NoError(t, err)
	assert.False(t, ok)

	// act: remove both states, then delete succeeds
	for _, stateID := range stateIDs {
		ok, err = svc.DeleteState(setID, stateID)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err = svc.DeleteSet(setID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.SetLabel(setID)
	assert.ErrorIs(t, err, sets.ErrNotFound)
}

func Test_SetState_ToggleTwiceReturnsToOriginal(t *testing.T) {
	svc, notifier := newTestService(t)
	setID, stateIDs := makeSet(t, svc, "Lights", "Kitchen")
	stateID := stateIDs["Kitchen"]
	notifier.reset()

	// act: toggle twice
	_, err := svc.SetState(setID, stateID, models.Toggle())
	require.NoError(t, err)
	value, err := svc.State(setID, stateID)
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.True(t, *value)

	_, err = svc.SetState(setID, stateID, models.Toggle())
	require.NoError(t, err)
	value, err = svc.State(setID, stateID)
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.False(t, *value)

	// each toggle is a change
	changes := 0
	for _, evt := range notifier.triggers {
		if evt.Kind == "change" {
			changes++
		}
	}
	assert.Equal(t, 2, changes)
	assertAggregates(t, svc, setID)
}

func Test_SetState_ToggleOfUnattachedStateAttachesActive(t *testing.T) {
	svc, _ := newTestService(t)
	setID, _ := makeSet(t, svc, "Lights")
	stateID, err := svc.StateID("Kitchen", "")
	require.NoError(t, err)

	// act
	ok, err := svc.SetState(setID, stateID, models.Toggle())

	// assert
	require.NoError(t, err)
	require.True(t, ok)
	value, err := svc.State(setID, stateID)
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.True(t, *value)
	assertAggregates(t, svc, setID)
}

func Test_SetState_UnknownSetFails(t *testing.T) {
	svc, notifier := newTestService(t)

	ok, err := svc.SetState("nope", "nope", models.SetTo(true))

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, notifier.triggers)
}

func Test_SetState_UnknownStateDefinitionIsRejected(t *testing.T) {
	svc, _ := newTestService(t)
	setID, _ := makeSet(t, svc, "Lights")

	// the id was never minted by the registry
	ok, err := svc.SetState(setID, "not-a-state", models.SetTo(true))

	require.NoError(t, err)
	assert.False(t, ok)

	full, err := svc.FullState()
	require.NoError(t, err)
	assert.Empty(t, full.Sets[0].States)
}

func Test_AddState_AlreadyAttachedIsNoOp(t *testing.T) {
	svc, notifier := newTestService(t)
	setID, stateIDs := makeSet(t, svc, "Lights", "Kitchen")
	notifier.reset()

	// act: attach again
	ok, err := svc.AddState(setID, stateIDs["Kitchen"])

	// assert: no events at all
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, notifier.triggers)
	assert.Empty(t, notifier.setsChanged)
}

func Test_AddState_AttachFiresChangeButNoStateTriggers(t *testing.T) {
	svc, notifier := newTestService(t)
	setID, _ := makeSet(t, svc, "Lights")
	stateID, err := svc.StateID("Kitchen", "")
	require.NoError(t, err)
	notifier.reset()

	// act
	ok, err := svc.AddState(setID, stateID)

	// assert
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"change"}, notifier.firedTriggers())
	require.Len(t, notifier.setsChanged, 1)
	assertAggregates(t, svc, setID)
}

func Test_ReferenceCounting_SharedStateLifecycle(t *testing.T) {
	svc, notifier := newTestService(t)

	setA, err := svc.SetID("Upstairs", "")
	require.NoError(t, err)
	setB, err := svc.SetID("Downstairs", "")
	require.NoError(t, err)

	stateID, err := svc.StateID("Motion", "")
	require.NoError(t, err)

	_, err = svc.AddState(setA, stateID)
	require.NoError(t, err)
	_, err = svc.AddState(setB, stateID)
	require.NoError(t, err)

	// still resolvable while referenced
	label, err := svc.StateLabel(stateID)
	require.NoError(t, err)
	assert.Equal(t, "Motion", label)

	// act: drop the first reference
	notifier.reset()
	ok, err := svc.DeleteState(setA, stateID)
	require.NoError(t, err)
	require.True(t, ok)

	// definition still alive
	_, err = svc.StateLabel(stateID)
	require.NoError(t, err)
	assert.Empty(t, notifier.statesChanged)

	// act: drop the last reference
	notifier.reset()
	ok, err = svc.DeleteState(setB, stateID)
	require.NoError(t, err)
	require.True(t, ok)

	// definition is garbage collected exactly now
	_, err = svc.StateLabel(stateID)
	assert.ErrorIs(t, err, sets.ErrNotFound)
	require.Len(t, notifier.statesChanged, 1)
	assert.Nil(t, notifier.statesChanged[0][stateID])

	// the label can be minted again, under a fresh id
	newID, err := svc.StateID("Motion", "")
	require.NoError(t, err)
	assert.NotEqual(t, stateID, newID)
}

func Test_DeleteState_OfNonMemberChangesNothing(t *testing.T) {
	svc, notifier := newTestService(t)
	setID, _ := makeSet(t, svc, "Lights")
	otherSet, stateIDs := makeSet(t, svc, "Other", "Motion")
	notifier.reset()

	// act: the state exists but is not a member of Lights
	ok, err := svc.DeleteState(setID, stateIDs["Motion"])

	// assert: reported ok, nothing fired, refcount untouched
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, notifier.triggers)
	assert.Empty(t, notifier.setsChanged)

	value, err := svc.State(otherSet, stateIDs["Motion"])
	require.NoError(t, err)
	require.NotNil(t, value)
}

func Test_SetExactlyOne(t *testing.T) {
	svc, notifier := newTestService(t)
	setID, stateIDs := makeSet(t, svc, "Scenes", "Day", "Night", "Away")
	_, err := svc.SetAll(setID, true)
	require.NoError(t, err)
	notifier.reset()

	// act
	ok, err := svc.SetExactlyOne(setID, stateIDs["Night"])

	// assert
	require.NoError(t, err)
	require.True(t, ok)

	value, _ := svc.State(setID, stateIDs["Night"])
	require.NotNil(t, value)
	assert.True(t, *value)
	for _, label := range []string{"Day", "Away"} {
		value, _ := svc.State(setID, stateIDs[label])
		require.NotNil(t, value)
		assert.False(t, *value, label)
	}

	none, _ := svc.None(setID)
	all, _ := svc.All(setID)
	active, _ := svc.ActiveCount(setID)
	assert.False(t, none)
	assert.False(t, all)
	assert.Equal(t, 1, active)
	assertAggregates(t, svc, setID)

	// Night stays on (always only), Day and Away flip off
	assert.ElementsMatch(t, []string{
		"state_set:always",
		"state_reset:always",
		"state_reset:changed",
		"state_reset:always",
		"state_reset:changed",
		"not_all_active",
		"all_active_changed",
		"change",
	}, notifier.firedTriggers())
}

func Test_SetExactlyOne_NonMemberFails(t *testing.T) {
	svc, notifier := newTestService(t)
	setID, _ := makeSet(t, svc, "Scenes", "Day")
	stateID, err := svc.StateID("Night", "")
	require.NoError(t, err)
	notifier.reset()

	// act: Night exists but is not a member
	ok, err := svc.SetExactlyOne(setID, stateID)

	// assert: rejected, no partial mutation
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, notifier.triggers)
	assert.Empty(t, notifier.setsChanged)
	assertAggregates(t, svc, setID)
}

func Test_SetAll_OnlyFlippedStatesFireChangedTriggers(t *testing.T) {
	svc, notifier := newTestService(t)
	setID, stateIDs := makeSet(t, svc, "Lights", "Kitchen", "Hall")
	_, err := svc.SetState(setID, stateIDs["Kitchen"], models.SetTo(true))
	require.NoError(t, err)
	notifier.reset()

	// act: everything off
	ok, err := svc.SetAll(setID, false)
	require.NoError(t, err)
	require.True(t, ok)

	// Kitchen was on: state_reset always+changed; Hall was already off: nothing
	assert.ElementsMatch(t, []string{
		"state_reset:always",
		"state_reset:changed",
		"none_active",
		"none_active_changed",
		"change",
	}, notifier.firedTriggers())
	assertAggregates(t, svc, setID)
}

func Test_SetAll_NoChangesFiresNothing(t *testing.T) {
	svc, notifier := newTestService(t)
	setID, _ := makeSet(t, svc, "Lights", "Kitchen", "Hall")
	notifier.reset()

	// act: everything is already off
	ok, err := svc.SetAll(setID, false)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Empty(t, notifier.triggers)
	assert.Empty(t, notifier.setsChanged)
}

func Test_DeleteSet_UnknownSetSucceeds(t *testing.T) {
	svc, _ := newTestService(t)

	ok, err := svc.DeleteSet("nope")

	require.NoError(t, err)
	assert.True(t, ok)
}

func Test_DeleteSet_EmitsDeletionMarkerAndFreesLabel(t *testing.T) {
	svc, notifier := newTestService(t)
	setID, _ := makeSet(t, svc, "Lights")
	notifier.reset()

	// act
	ok, err := svc.DeleteSet(setID)
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, notifier.setsChanged, 1)
	marker, present := notifier.setsChanged[0][setID]
	assert.True(t, present)
	assert.Nil(t, marker)

	// the label is free again and mints a fresh id
	newID, err := svc.SetID("Lights", "")
	require.NoError(t, err)
	assert.NotEqual(t, setID, newID)
}

func Test_CopyStates(t *testing.T) {
	svc, _ := newTestService(t)
	fromID, stateIDs := makeSet(t, svc, "Lights", "Kitchen", "Hall")
	_, err := svc.SetState(fromID, stateIDs["Kitchen"], models.SetTo(true))
	require.NoError(t, err)

	toID, err := svc.SetID("Copy of Lights", "")
	require.NoError(t, err)

	// act
	require.NoError(t, svc.CopyStates(fromID, toID))

	// assert: membership copied, values reset to inactive
	full, err := svc.FullState()
	require.NoError(t, err)
	for _, view := range full.Sets {
		if view.ID != toID {
			continue
		}
		assert.Len(t, view.States, 2)
		for stateID, value := range view.States {
			assert.False(t, value, stateID)
		}
	}

	// both sets now count a reference
	ok, err := svc.DeleteState(fromID, stateIDs["Kitchen"])
	require.NoError(t, err)
	require.True(t, ok)
	_, err = svc.StateLabel(stateIDs["Kitchen"])
	assert.NoError(t, err)
}

func Test_CopyStates_TargetMustBeEmpty(t *testing.T) {
	svc, notifier := newTestService(t)
	fromID, _ := makeSet(t, svc, "Lights", "Kitchen")
	toID, _ := makeSet(t, svc, "Other", "Motion")
	notifier.reset()

	// act
	require.NoError(t, svc.CopyStates(fromID, toID))

	// assert: nothing happened
	assert.Empty(t, notifier.setsChanged)
}

func Test_State_AutoAttachesMissingState(t *testing.T) {
	svc, notifier := newTestService(t)
	setID, _ := makeSet(t, svc, "Lights")
	stateID, err := svc.StateID("Kitchen", "")
	require.NoError(t, err)
	notifier.reset()

	// act
	value, err := svc.State(setID, stateID)

	// assert: reported inactive and attached as a side effect
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.False(t, *value)
	require.Len(t, notifier.setsChanged, 1)
	view := notifier.setsChanged[0][setID]
	require.NotNil(t, view)
	assert.Contains(t, view.States, stateID)
}

func Test_State_UnknownSetReturnsNil(t *testing.T) {
	svc, _ := newTestService(t)

	value, err := svc.State("nope", "nope")

	require.NoError(t, err)
	assert.Nil(t, value)
}

func Test_FullState_Snapshot(t *testing.T) {
	svc, _ := newTestService(t)
	setID, stateIDs := makeSet(t, svc, "Lights", "Kitchen")
	_, err := svc.SetState(setID, stateIDs["Kitchen"], models.ActivateFor(30))
	require.NoError(t, err)

	// act
	full, err := svc.FullState()

	// assert
	require.NoError(t, err)
	require.Len(t, full.Sets, 1)
	assert.Equal(t, "Lights", full.Sets[0].Label)
	assert.Equal(t, map[string]string{stateIDs["Kitchen"]: "Kitchen"}, full.States)
	assert.Equal(t, models.Timers{setID: {stateIDs["Kitchen"]: 30}}, full.Timers)
}

func Test_AutoComplete(t *testing.T) {
	svc, _ := newTestService(t)
	makeSet(t, svc, "Bedroom")
	makeSet(t, svc, "living room")
	setID, _ := makeSet(t, svc, "Lights", "Kitchen", "Hall", "kettle")

	t.Run("sets: case-insensitive prefix, sorted case-insensitively", func(t *testing.T) {
		results, err := svc.AutoCompleteSet("LI")
		require.NoError(t, err)

		names := []string{}
		for _, r := range results {
			names = append(names, r.Name)
		}
		assert.Equal(t, []string{"Lights", "living room"}, names)
	})

	t.Run("states: scoped to the set's members", func(t *testing.T) {
		results, err := svc.AutoCompleteState(setID, "k")
		require.NoError(t, err)

		names := []string{}
		for _, r := range results {
			names = append(names, r.Name)
		}
		assert.Equal(t, []string{"kettle", "Kitchen"}, names)
	})

	t.Run("unknown set: empty result", func(t *testing.T) {
		results, err := svc.AutoCompleteState("nope", "k")
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}
