package sets

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/wheelibin/sets/internal/models"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// normaliseLabel collapses internal whitespace runs to a single space and
// trims the result. An empty result means the label is invalid.
func normaliseLabel(label string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(label, " "))
}

func newID() string {
	return uuid.NewString()
}

// SetID resolves a set label to its id, creating the set when it does not
// exist yet. A non-empty adoptID recreates a previously deleted set under
// that exact id, so automation cards keep working after a delete/recreate
// cycle.
func (s *Service) SetID(label, adoptID string) (string, error) {
	var setID string
	_, err := s.runLocked(func(p *pending) (bool, error) {
		label = normaliseLabel(label)
		if label == "" {
			return false, ErrInvalidLabel
		}

		setLabels, err := s.settings.SetLabels()
		if err != nil {
			return false, err
		}
		sets, err := s.settings.Sets()
		if err != nil {
			return false, err
		}

		setID = adoptID
		if setID == "" {
			if known, ok := setLabels[label]; ok {
				setID = known
			} else {
				setID = newID()
			}
		}

		if _, exists := sets[setID]; exists {
			return true, nil
		}
		if _, taken := setLabels[label]; taken {
			return true, nil
		}

		s.logger.Debug("new set", "setId", setID, "label", label)

		set := &models.Set{
			Label:  label,
			States: map[string]bool{},
			None:   true,
			All:    true,
			Active: 0,
		}
		sets[setID] = set

		p.setsChanged(map[string]*models.SetView{setID: viewOf(setID, set)})
		if err := s.settings.SaveSets(sets); err != nil {
			return false, err
		}

		setLabels[label] = setID
		return true, s.settings.SaveSetLabels(setLabels)
	})
	if err != nil {
		return "", err
	}
	return setID, nil
}

// StateID resolves a state label to its id, creating the definition (with a
// zero use count) when it does not exist yet. A non-empty adoptID recreates
// a previously deleted definition under that exact id.
func (s *Service) StateID(label, adoptID string) (string, error) {
	var stateID string
	_, err := s.runLocked(func(p *pending) (bool, error) {
		label = normaliseLabel(label)
		if label == "" {
			return false, ErrInvalidLabel
		}

		stateLabels, err := s.settings.StateLabels()
		if err != nil {
			return false, err
		}
		states, err := s.settings.States()
		if err != nil {
			return false, err
		}

		stateID = adoptID
		if stateID == "" {
			if known, ok := stateLabels[label]; ok {
				stateID = known
			} else {
				stateID = newID()
			}
		}

		if _, exists := states[stateID]; exists {
			return true, nil
		}
		if _, taken := stateLabels[label]; taken {
			return true, nil
		}

		s.logger.Debug("new state", "stateId", stateID, "label", label)

		stateLabels[label] = stateID
		if err := s.settings.SaveStateLabels(stateLabels); err != nil {
			return false, err
		}

		states[stateID] = &models.StateDef{Label: label, Use: 0}

		p.statesChanged(map[string]*string{stateID: &label})
		return true, s.settings.SaveStates(states)
	})
	if err != nil {
		return "", err
	}
	return stateID, nil
}

// FindSetID resolves a set label without creating anything.
func (s *Service) FindSetID(label string) (string, error) {
	label = normaliseLabel(label)
	if label == "" {
		return "", ErrInvalidLabel
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	setLabels, err := s.settings.SetLabels()
	if err != nil {
		return "", err
	}

	setID, ok := setLabels[label]
	if !ok {
		return "", ErrNotFound
	}
	return setID, nil
}

// FindStateID resolves a state label without creating anything.
func (s *Service) FindStateID(label string) (string, error) {
	label = normaliseLabel(label)
	if label == "" {
		return "", ErrInvalidLabel
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stateLabels, err := s.settings.StateLabels()
	if err != nil {
		return "", err
	}

	stateID, ok := stateLabels[label]
	if !ok {
		return "", ErrNotFound
	}
	return stateID, nil
}
