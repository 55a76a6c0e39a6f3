package sets

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"

	"github.com/wheelibin/sets/internal/constants"
	"github.com/wheelibin/sets/internal/models"
	"github.com/wheelibin/sets/internal/notify"
)

var (
	// the label is empty (or whitespace only) after normalisation
	ErrInvalidLabel = errors.New("invalid label")
	// the requested set/state does not exist
	ErrNotFound = errors.New("not found")
	// the set still contains states and cannot be deleted
	ErrNotEmpty = errors.New("set is not empty")
)

type settingsAccess interface {
	Sets() (map[string]*models.Set, error)
	SaveSets(sets map[string]*models.Set) error
	States() (map[string]*models.StateDef, error)
	SaveStates(states map[string]*models.StateDef) error
	SetLabels() (map[string]string, error)
	SaveSetLabels(labels map[string]string) error
	StateLabels() (map[string]string, error)
	SaveStateLabels(labels map[string]string) error
	Timers() (models.Timers, error)
	SaveTimers(timers models.Timers) error
}

type changeNotifier interface {
	SetsChanged(changes map[string]*models.SetView)
	StatesChanged(changes map[string]*string)
	TimersChanged(timers models.Timers)
	Trigger(evt notify.TriggerEvent)
}

// Service is the update engine: every mutation of sets, state definitions
// and timers goes through here, keeping the derived aggregates and the
// catalog reference counts consistent and fanning out notifications for
// every committed transition.
type Service struct {
	logger   *log.Logger
	settings settingsAccess
	notifier changeNotifier

	// serialises the read-modify-write-persist sequence of every mutation;
	// notifications are dispatched after release because trigger observers
	// may re-enter the engine
	mu sync.Mutex
}

func NewService(logger *log.Logger, settings settingsAccess, notifier changeNotifier) *Service {
	return &Service{logger: logger, settings: settings, notifier: notifier}
}

// runLocked executes a mutation under the engine lock and flushes the
// notifications it queued once the lock is released.
func (s *Service) runLocked(fn func(p *pending) (bool, error)) (bool, error) {
	p := &pending{}

	s.mu.Lock()
	ok, err := fn(p)
	s.mu.Unlock()

	p.flush(s.notifier)
	return ok, err
}

func recomputeAggregates(set *models.Set) {
	active := lo.CountValues(lo.Values(set.States))[true]
	set.None = active == 0
	set.All = active == len(set.States)
	set.Active = active
}

func viewOf(setID string, set *models.Set) *models.SetView {
	states := map[string]bool{}
	for stateID, state := range set.States {
		states[stateID] = state
	}
	return &models.SetView{ID: setID, Label: set.Label, States: states}
}

// SetState applies a single-state transition to a set. It reports false
// (without mutating anything) when the set does not exist.
func (s *Service) SetState(setID, stateID string, change models.Change) (bool, error) {
	return s.runLocked(func(p *pending) (bool, error) {
		return s.updateSet(p, setID, stateID, change, false)
	})
}

// AddState attaches a state to a set without changing its value,
// materialising it as inactive when it was not a member yet.
func (s *Service) AddState(setID, stateID string) (bool, error) {
	return s.runLocked(func(p *pending) (bool, error) {
		return s.updateSet(p, setID, stateID, models.Attach(), false)
	})
}

// DeleteState removes a state from a set, releasing its catalog entry.
func (s *Service) DeleteState(setID, stateID string) (bool, error) {
	return s.runLocked(func(p *pending) (bool, error) {
		return s.updateSet(p, setID, stateID, models.Change{}, true)
	})
}

// updateSet is the core transition routine shared by every single-state
// mutation. The caller holds the engine lock.
func (s *Service) updateSet(p *pending, setID, stateID string, change models.Change, del bool) (bool, error) {
	sets, err := s.settings.Sets()
	if err != nil {
		return false, err
	}

	set, ok := sets[setID]
	if !ok {
		s.logger.Info("updateSet with invalid setId", "setId", setID)
		return false, nil
	}

	oldValue, present := set.States[stateID]

	// re-asserting an already attached state with no explicit value is a no-op
	if !del && change.Kind == models.ChangeAttach && present {
		return true, nil
	}

	oldNone := set.None
	oldAll := set.All

	// resolve the requested change against the current value
	var newValue bool
	numeric := false
	timeout := 0
	switch {
	case del:
		// state is removed, no new value
	case change.Kind == models.ChangeToggle:
		newValue = !(present && oldValue)
	case change.Kind == models.ChangeAttach:
		newValue = false
	case change.Kind == models.ChangeTimed && change.Timeout > 0:
		newValue = true
		numeric = true
		timeout = change.Timeout
	case change.Kind == models.ChangeTimed:
		// non-positive timeouts coerce to a plain deactivation
		newValue = false
	default:
		newValue = change.Value
	}

	s.logger.Debug("updateSet", "setId", setID, "stateId", stateID, "newState", newValue, "timeout", timeout, "delete", del)

	// whether the state map itself mutates (membership or boolean value)
	mapChanged := del && present || !del && (!present || newValue != oldValue)
	// whether the raw requested value differs from the old one; a numeric
	// request always differs, even from an already active state
	rawChanged := numeric || mapChanged

	if mapChanged {
		if del {
			delete(set.States, stateID)
			if err := s.releaseState(p, stateID); err != nil {
				return false, err
			}
		} else {
			if !present {
				retained, err := s.retainState(stateID)
				if err != nil {
					return false, err
				}
				if !retained {
					return false, nil
				}
			}
			set.States[stateID] = newValue
		}

		recomputeAggregates(set)

		p.setsChanged(map[string]*models.SetView{setID: viewOf(setID, set)})
		if err := s.settings.SaveSets(sets); err != nil {
			return false, err
		}
	}

	if rawChanged {
		if err := s.writeTimer(p, setID, stateID, numeric, timeout); err != nil {
			return false, err
		}
	}

	// trigger flows; entirely inactive-to-inactive transitions fire nothing
	oldActive := present && oldValue
	newActive := !del && newValue
	if oldActive || newActive {
		p.stateChange(setID, stateID, oldActive, newActive)
		p.aggregate(setID, constants.AggregateNone, oldNone, set.None)
		p.aggregate(setID, constants.AggregateAll, oldAll, set.All)
	}
	if rawChanged {
		p.change(setID)
	}

	return true, nil
}

// writeTimer records or clears the countdown entry for a single state.
func (s *Service) writeTimer(p *pending, setID, stateID string, numeric bool, timeout int) error {
	timers, err := s.settings.Timers()
	if err != nil {
		return err
	}

	setTimers := timers[setID]
	changed := false

	if numeric {
		if setTimers == nil {
			setTimers = map[string]int{}
			timers[setID] = setTimers
		}
		if setTimers[stateID] != timeout {
			setTimers[stateID] = timeout
			changed = true
		}
	} else if _, ok := setTimers[stateID]; ok {
		delete(setTimers, stateID)
		if len(setTimers) == 0 {
			delete(timers, setID)
		}
		changed = true
	}

	if changed {
		s.logger.Debug("timers updated", "setId", setID, "timers", setTimers)
		p.timersChanged(timers)
		return s.settings.SaveTimers(timers)
	}

	return nil
}

// DeleteSet removes an empty set. Deleting a set that still contains states
// fails without mutating anything; deleting an unknown set succeeds.
func (s *Service) DeleteSet(setID string) (bool, error) {
	return s.runLocked(func(p *pending) (bool, error) {
		sets, err := s.settings.Sets()
		if err != nil {
			return false, err
		}

		set, ok := sets[setID]
		if !ok {
			return true, nil
		}

		if len(set.States) > 0 {
			s.logger.Info("delete set failed: not empty", "setId", setID)
			return false, nil
		}

		delete(sets, setID)
		p.setsChanged(map[string]*models.SetView{setID: nil})
		if err := s.settings.SaveSets(sets); err != nil {
			return false, err
		}
		s.logger.Debug("deleted set", "setId", setID)

		setLabels, err := s.settings.SetLabels()
		if err != nil {
			return false, err
		}
		delete(setLabels, set.Label)
		if err := s.settings.SaveSetLabels(setLabels); err != nil {
			return false, err
		}

		return true, s.clearTimers(p, setID, false)
	})
}

// clearTimers drops every countdown for a set. The timers_changed event is
// suppressed for set deletion, matching the single deletion marker the
// observers already receive.
func (s *Service) clearTimers(p *pending, setID string, publish bool) error {
	timers, err := s.settings.Timers()
	if err != nil {
		return err
	}

	if _, ok := timers[setID]; !ok {
		return nil
	}

	delete(timers, setID)
	s.logger.Debug("timers deleted", "setId", setID)
	if publish {
		p.timersChanged(timers)
	}
	return s.settings.SaveTimers(timers)
}

// SetAll forces every state in a set to the given value in one batch,
// clearing any pending countdowns for the set.
func (s *Service) SetAll(setID string, value bool) (bool, error) {
	return s.runLocked(func(p *pending) (bool, error) {
		return s.setAll(p, setID, value)
	})
}

func (s *Service) setAll(p *pending, setID string, value bool) (bool, error) {
	sets, err := s.settings.Sets()
	if err != nil {
		return false, err
	}

	set, ok := sets[setID]
	if !ok {
		s.logger.Info("setAll with invalid setId", "setId", setID)
		return false, nil
	}

	s.logger.Debug("setAll", "setId", setID, "value", value)

	oldNone := set.None
	oldAll := set.All
	changed := false

	// force every state, remembering the old values for the flow triggers
	oldStates := map[string]bool{}
	for stateID, oldValue := range set.States {
		oldStates[stateID] = oldValue
		set.States[stateID] = value
		changed = changed || value != oldValue
	}

	set.None = !value
	set.All = value
	if value {
		set.Active = len(set.States)
	} else {
		set.Active = 0
	}

	if changed {
		p.setsChanged(map[string]*models.SetView{setID: viewOf(setID, set)})
		if err := s.settings.SaveSets(sets); err != nil {
			return false, err
		}
	}

	if err := s.clearTimers(p, setID, true); err != nil {
		return false, err
	}

	for _, stateID := range sortedKeys(oldStates) {
		p.stateChange(setID, stateID, oldStates[stateID], value)
	}

	p.aggregate(setID, constants.AggregateNone, oldNone, set.None)
	p.aggregate(setID, constants.AggregateAll, oldAll, set.All)
	if changed {
		p.change(setID)
	}

	return true, nil
}

// SetExactlyOne activates a single member state and deactivates every other
// state in the set. It fails when the state is not a member.
func (s *Service) SetExactlyOne(setID, stateID string) (bool, error) {
	return s.runLocked(func(p *pending) (bool, error) {
		sets, err := s.settings.Sets()
		if err != nil {
			return false, err
		}

		set, ok := sets[setID]
		if !ok {
			s.logger.Info("setExactlyOne with invalid setId", "setId", setID)
			return false, nil
		}
		if _, ok := set.States[stateID]; !ok {
			s.logger.Info("setExactlyOne with invalid stateId", "setId", setID, "stateId", stateID)
			return false, nil
		}

		s.logger.Debug("setExactlyOne", "setId", setID, "stateId", stateID)

		oldNone := set.None
		oldAll := set.All
		changed := false

		oldStates := map[string]bool{}
		for id, oldValue := range set.States {
			value := id == stateID
			oldStates[id] = oldValue
			set.States[id] = value
			changed = changed || value != oldValue
		}

		set.None = false
		set.All = len(set.States) == 1
		set.Active = 1

		if changed {
			p.setsChanged(map[string]*models.SetView{setID: viewOf(setID, set)})
			if err := s.settings.SaveSets(sets); err != nil {
				return false, err
			}
		}

		if err := s.clearTimers(p, setID, true); err != nil {
			return false, err
		}

		for _, id := range sortedKeys(oldStates) {
			p.stateChange(setID, id, oldStates[id], id == stateID)
		}

		p.aggregate(setID, constants.AggregateNone, oldNone, set.None)
		p.aggregate(setID, constants.AggregateAll, oldAll, set.All)
		if changed {
			p.change(setID)
		}

		return true, nil
	})
}

// CopyStates attaches every state of the source set to the target set. Both
// sets must exist and the target must not have any states yet.
func (s *Service) CopyStates(fromID, toID string) error {
	_, err := s.runLocked(func(p *pending) (bool, error) {
		sets, err := s.settings.Sets()
		if err != nil {
			return false, err
		}

		fromSet, fromOK := sets[fromID]
		toSet, toOK := sets[toID]
		if !fromOK || !toOK || len(toSet.States) > 0 {
			return false, nil
		}

		for _, stateID := range sortedKeys(fromSet.States) {
			if _, err := s.updateSet(p, toID, stateID, models.Attach(), false); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	return err
}

// State reads the current value of a state within a set, nil when the set
// is unknown. A state that exists in the catalog but is not yet a member of
// the set is attached as inactive as a side effect, so trigger matching and
// conditions can refer to states before anything has activated them.
func (s *Service) State(setID, stateID string) (*bool, error) {
	var result *bool
	_, err := s.runLocked(func(p *pending) (bool, error) {
		sets, err := s.settings.Sets()
		if err != nil {
			return false, err
		}

		set, ok := sets[setID]
		if !ok {
			return false, nil
		}

		if value, ok := set.States[stateID]; ok {
			result = &value
			return true, nil
		}

		// add the missing state
		attached, err := s.updateSet(p, setID, stateID, models.Attach(), false)
		if err != nil || !attached {
			return false, err
		}

		value := false
		result = &value
		return true, nil
	})
	return result, err
}

// None reports whether every state in the set is inactive.
func (s *Service) None(setID string) (bool, error) {
	set, err := s.getSet(setID)
	if err != nil {
		return false, err
	}
	return set.None, nil
}

// All reports whether every state in the set is active.
func (s *Service) All(setID string) (bool, error) {
	set, err := s.getSet(setID)
	if err != nil {
		return false, err
	}
	return set.All, nil
}

// ActiveCount reports the number of active states in the set.
func (s *Service) ActiveCount(setID string) (int, error) {
	set, err := s.getSet(setID)
	if err != nil {
		return 0, err
	}
	return set.Active, nil
}

// SetLabel returns the label of a set.
func (s *Service) SetLabel(setID string) (string, error) {
	set, err := s.getSet(setID)
	if err != nil {
		return "", err
	}
	return set.Label, nil
}

func (s *Service) getSet(setID string) (*models.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets, err := s.settings.Sets()
	if err != nil {
		return nil, err
	}

	set, ok := sets[setID]
	if !ok {
		return nil, ErrNotFound
	}
	return set, nil
}

// Timeout returns the pending countdown for a state, 0 when none is
// scheduled.
func (s *Service) Timeout(setID, stateID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timers, err := s.settings.Timers()
	if err != nil {
		return 0, err
	}
	return timers[setID][stateID], nil
}

// FullState snapshots everything the settings page needs.
func (s *Service) FullState() (*models.FullState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets, err := s.settings.Sets()
	if err != nil {
		return nil, err
	}
	states, err := s.settings.States()
	if err != nil {
		return nil, err
	}
	timers, err := s.settings.Timers()
	if err != nil {
		return nil, err
	}

	views := lo.MapToSlice(sets, func(setID string, set *models.Set) models.SetView {
		return *viewOf(setID, set)
	})
	sort.Slice(views, func(i, j int) bool { return views[i].Label < views[j].Label })

	labels := lo.MapValues(states, func(def *models.StateDef, _ string) string {
		return def.Label
	})

	return &models.FullState{States: labels, Sets: views, Timers: copyTimers(timers)}, nil
}

// AutoCompleteSet lists the sets whose label starts with the given prefix,
// case-insensitively, sorted case-insensitively by label.
func (s *Service) AutoCompleteSet(partial string) ([]models.AutoCompleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets, err := s.settings.Sets()
	if err != nil {
		return nil, err
	}

	partial = strings.ToLower(partial)
	results := []models.AutoCompleteResult{}
	for setID, set := range sets {
		if strings.HasPrefix(strings.ToLower(set.Label), partial) {
			results = append(results, models.AutoCompleteResult{ID: setID, Name: set.Label})
		}
	}

	sortAutoComplete(results)
	return results, nil
}

// AutoCompleteState lists the member states of a set whose label starts
// with the given prefix.
func (s *Service) AutoCompleteState(setID, partial string) ([]models.AutoCompleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets, err := s.settings.Sets()
	if err != nil {
		return nil, err
	}

	results := []models.AutoCompleteResult{}
	set, ok := sets[setID]
	if !ok {
		return results, nil
	}

	states, err := s.settings.States()
	if err != nil {
		return nil, err
	}

	partial = strings.ToLower(partial)
	for stateID := range set.States {
		def, ok := states[stateID]
		if !ok {
			continue
		}
		if strings.HasPrefix(strings.ToLower(def.Label), partial) {
			results = append(results, models.AutoCompleteResult{ID: stateID, Name: def.Label})
		}
	}

	sortAutoComplete(results)
	return results, nil
}

func sortAutoComplete(results []models.AutoCompleteResult) {
	sort.Slice(results, func(i, j int) bool {
		return strings.ToLower(results[i].Name) < strings.ToLower(results[j].Name)
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
