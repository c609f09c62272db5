package redemption

import (
	"math/big"

	"pointsledger/core/events"
)

// CreateEvent registers a new redemption event, deactivating the previously
// current event. ScheduledStart of zero means the event opens immediately;
// nil limits leave the corresponding bound unenforced.
func (e *Engine) CreateEvent(caller [20]byte, eventID uint64, scheduledStart int64, minPerAddress, maxPerAddress *big.Int) error {
	return e.run(func(queue func(*events.Event)) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		if _, ok, err := e.state.EventGet(eventID); err != nil {
			return err
		} else if ok {
			return ErrEventExists
		}
		if scheduledStart != 0 && scheduledStart <= e.now() {
			return ErrInvalidSchedule
		}
		if minPerAddress != nil && minPerAddress.Sign() < 0 {
			return ErrInvalidLimits
		}
		if maxPerAddress != nil && maxPerAddress.Sign() <= 0 {
			return ErrInvalidLimits
		}
		if minPerAddress != nil && maxPerAddress != nil && maxPerAddress.Cmp(minPerAddress) < 0 {
			return ErrInvalidLimits
		}

		if err := e.deactivateCurrent(queue); err != nil {
			return err
		}

		ev := &RedemptionEvent{
			ID:             eventID,
			Active:         true,
			ScheduledStart: scheduledStart,
			CreatedAt:      e.now(),
		}
		if minPerAddress != nil {
			ev.MinPerAddress = new(big.Int).Set(minPerAddress)
		}
		if maxPerAddress != nil {
			ev.MaxPerAddress = new(big.Int).Set(maxPerAddress)
		}
		if err := e.state.EventPut(ev); err != nil {
			return err
		}
		if err := e.state.SetCurrentEvent(eventID); err != nil {
			return err
		}
		queue(NewEventCreatedEvent(ev))
		return nil
	})
}

// ActivateEvent re-opens a previously deactivated event. Any other active
// event is deactivated first so the single-active invariant holds.
func (e *Engine) ActivateEvent(caller [20]byte, eventID uint64) error {
	return e.run(func(queue func(*events.Event)) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		ev, ok, err := e.state.EventGet(eventID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrEventNotFound
		}
		if ev.Active {
			return ErrEventAlreadyActive
		}
		if err := e.deactivateCurrent(queue); err != nil {
			return err
		}
		ev.Active = true
		if err := e.state.EventPut(ev); err != nil {
			return err
		}
		if err := e.state.SetCurrentEvent(eventID); err != nil {
			return err
		}
		queue(NewEventStatusEvent(ev))
		return nil
	})
}

// DeactivateEvent closes an active event, making it eligible for withdrawal.
func (e *Engine) DeactivateEvent(caller [20]byte, eventID uint64) error {
	return e.run(func(queue func(*events.Event)) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		ev, ok, err := e.state.EventGet(eventID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrEventNotFound
		}
		if !ev.Active {
			return ErrEventNotActive
		}
		ev.Active = false
		if err := e.state.EventPut(ev); err != nil {
			return err
		}
		queue(NewEventStatusEvent(ev))
		return nil
	})
}

// deactivateCurrent flips the current event inactive, if one exists and is
// still active, and queues the status notification.
func (e *Engine) deactivateCurrent(queue func(*events.Event)) error {
	currentID, ok, err := e.state.CurrentEvent()
	if err != nil || !ok {
		return err
	}
	current, ok, err := e.state.EventGet(currentID)
	if err != nil || !ok {
		return err
	}
	if !current.Active {
		return nil
	}
	current.Active = false
	if err := e.state.EventPut(current); err != nil {
		return err
	}
	queue(NewEventStatusEvent(current))
	return nil
}

// EventInfo returns a copy of the stored event.
func (e *Engine) EventInfo(eventID uint64) (*RedemptionEvent, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	unlock, err := e.lock()
	if err != nil {
		return nil, false, err
	}
	defer unlock()
	ev, ok, err := e.state.EventGet(eventID)
	if err != nil || !ok {
		return nil, false, err
	}
	return ev.Clone(), true, nil
}

// ListEvents returns copies of all registered events in insertion order.
func (e *Engine) ListEvents() ([]*RedemptionEvent, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	unlock, err := e.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	ids, err := e.state.EventIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*RedemptionEvent, 0, len(ids))
	for _, id := range ids {
		ev, ok, err := e.state.EventGet(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, ev.Clone())
	}
	return out, nil
}

// IsActive reports whether the event exists and is currently active.
func (e *Engine) IsActive(eventID uint64) (bool, error) {
	ev, ok, err := e.EventInfo(eventID)
	if err != nil || !ok {
		return false, err
	}
	return ev.Active, nil
}
