package sets

// There is no public delete for state definitions; a definition lives for
// as long as at least one set references it and is garbage-collected when
// its use count drops to zero.

// retainState counts one more set reference on a state definition. It
// reports false when the definition does not exist, which rejects attaching
// unknown state ids to a set.
func (s *Service) retainState(stateID string) (bool, error) {
	states, err := s.settings.States()
	if err != nil {
		return false, err
	}

	def, ok := states[stateID]
	if !ok {
		s.logger.Info("retain with invalid stateId", "stateId", stateID)
		return false, nil
	}

	def.Use++
	return true, s.settings.SaveStates(states)
}

// releaseState drops one set reference. When the last reference goes, the
// definition and its label mapping are deleted and observers are told the
// definition is gone. The caller must already have removed the state from
// the referencing set.
func (s *Service) releaseState(p *pending, stateID string) error {
	states, err := s.settings.States()
	if err != nil {
		return err
	}

	def, ok := states[stateID]
	if !ok {
		return nil
	}

	def.Use--
	if def.Use <= 0 {
		stateLabels, err := s.settings.StateLabels()
		if err != nil {
			return err
		}
		delete(stateLabels, def.Label)

		p.statesChanged(map[string]*string{stateID: nil})
		if err := s.settings.SaveStateLabels(stateLabels); err != nil {
			return err
		}

		delete(states, stateID)
		s.logger.Debug("state deleted, no longer in use", "stateId", stateID, "label", def.Label)
	}

	return s.settings.SaveStates(states)
}

// StateLabel returns the label of a state definition.
func (s *Service) StateLabel(stateID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states, err := s.settings.States()
	if err != nil {
		return "", err
	}

	def, ok := states[stateID]
	if !ok {
		return "", ErrNotFound
	}
	return def.Label, nil
}
