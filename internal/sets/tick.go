package sets

import (
	"context"
	"time"

	"github.com/wheelibin/sets/internal/constants"
	"github.com/wheelibin/sets/internal/models"
)

// SetDelayed schedules delayed activation of a state: after delay ticks the
// state flips to active. A non-positive delay activates immediately. The
// delay is only scheduled while the state is inactive; an already active
// state is left alone.
func (s *Service) SetDelayed(setID, stateID string, delay int) (bool, error) {
	if delay <= 0 {
		return s.SetState(setID, stateID, models.SetTo(true))
	}

	return s.runLocked(func(p *pending) (bool, error) {
		sets, err := s.settings.Sets()
		if err != nil {
			return false, err
		}

		set, ok := sets[setID]
		if !ok {
			s.logger.Info("setDelayed with invalid setId", "setId", setID)
			return false, nil
		}

		value, present := set.States[stateID]
		if !present {
			attached, err := s.updateSet(p, setID, stateID, models.Attach(), false)
			if err != nil || !attached {
				return false, err
			}
		}
		if value {
			return true, nil
		}

		timers, err := s.settings.Timers()
		if err != nil {
			return false, err
		}

		setTimers := timers[setID]
		if setTimers == nil {
			setTimers = map[string]int{}
			timers[setID] = setTimers
		}
		setTimers[stateID] = -delay
		s.logger.Debug("delay scheduled", "setId", setID, "stateId", stateID, "delay", delay)

		p.timersChanged(timers)
		return true, s.settings.SaveTimers(timers)
	})
}

// Tick advances every countdown one step towards zero. Entries reaching
// zero are removed and the corresponding state flips: countdowns that
// approached from above deactivate, delays that approached from below
// activate. Flips are applied in one batched pass per set.
func (s *Service) Tick() error {
	_, err := s.runLocked(func(p *pending) (bool, error) {
		timers, err := s.settings.Timers()
		if err != nil {
			return false, err
		}
		if len(timers) == 0 {
			return true, nil
		}

		// advance the countdowns, collecting the expired flips
		flips := map[string]map[string]bool{}
		for setID, setTimers := range timers {
			for stateID, timer := range setTimers {
				activating := timer < 0
				if activating {
					timer++
				} else {
					timer--
				}

				if timer == 0 {
					delete(setTimers, stateID)
					if flips[setID] == nil {
						flips[setID] = map[string]bool{}
					}
					// positive countdowns deactivate, delays activate
					flips[setID][stateID] = activating
				} else {
					setTimers[stateID] = timer
				}
			}
			if len(setTimers) == 0 {
				delete(timers, setID)
			}
		}

		// the decremented counters persist every tick
		p.timersChanged(timers)
		if err := s.settings.SaveTimers(timers); err != nil {
			return false, err
		}

		if len(flips) == 0 {
			return true, nil
		}

		sets, err := s.settings.Sets()
		if err != nil {
			return false, err
		}

		wasNone := map[string]bool{}
		wasAll := map[string]bool{}
		views := map[string]*models.SetView{}

		for _, setID := range sortedKeys(flips) {
			set, ok := sets[setID]
			if !ok {
				s.logger.Info("timer expired for unknown set", "setId", setID)
				delete(flips, setID)
				continue
			}

			wasNone[setID] = set.None
			wasAll[setID] = set.All

			for stateID, value := range flips[setID] {
				set.States[stateID] = value
			}
			recomputeAggregates(set)

			views[setID] = viewOf(setID, set)
		}

		if len(views) == 0 {
			return true, nil
		}

		p.setsChanged(views)
		if err := s.settings.SaveSets(sets); err != nil {
			return false, err
		}

		for _, setID := range sortedKeys(flips) {
			setFlips := flips[setID]
			for _, stateID := range sortedKeys(setFlips) {
				value := setFlips[stateID]
				p.stateChange(setID, stateID, !value, value)
			}
			p.aggregate(setID, constants.AggregateNone, wasNone[setID], sets[setID].None)
			p.aggregate(setID, constants.AggregateAll, wasAll[setID], sets[setID].All)
			p.change(setID)
		}

		return true, nil
	})
	return err
}

// Run drives the timer engine with a fixed-period tick until the context is
// cancelled. Ticks run on this goroutine only, so they never overlap.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	s.logger.Debug("Service.Run", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Service.Run: stop signal received")
			return

		case <-ticker.C:
			if err := s.Tick(); err != nil {
				s.logger.Error(err)
			}
		}
	}
}
