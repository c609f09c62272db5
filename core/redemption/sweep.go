package redemption

import (
	"fmt"
	"math/big"

	"pointsledger/core/bank"
	"pointsledger/core/events"
)

// WithdrawToken recovers the unclaimed balance of a single token after its
// event has been deactivated. The remainder is zeroed before the transfer.
func (e *Engine) WithdrawToken(caller [20]byte, eventID, tokenKey uint64) error {
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
			return ErrEventStillActive
		}
		token, ok, err := e.state.TokenGet(eventID, tokenKey)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTokenNotFound
		}
		if token.Remaining.Sign() == 0 {
			return ErrNothingToWithdraw
		}
		return e.sweepToken(token, caller, queue)
	})
}

// WithdrawEvent sweeps every token of a deactivated event in insertion order.
// Tokens with a zero remainder are skipped.
func (e *Engine) WithdrawEvent(caller [20]byte, eventID uint64) error {
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
			return ErrEventStillActive
		}
		keys, err := e.state.TokenKeys(eventID)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return ErrTokenNotFound
		}
		return e.sweepEvent(eventID, keys, caller, queue)
	})
}

// WithdrawRange sweeps every event in the inclusive id range. Events that do
// not exist or are still active are skipped silently so operators can sweep
// arbitrary ranges without pre-checking existence.
func (e *Engine) WithdrawRange(caller [20]byte, startID, endID uint64) error {
	return e.run(func(queue func(*events.Event)) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		if startID > endID {
			return ErrInvalidRange
		}
		for id := startID; ; id++ {
			ev, ok, err := e.state.EventGet(id)
			if err != nil {
				return err
			}
			if ok && !ev.Active {
				keys, err := e.state.TokenKeys(id)
				if err != nil {
					return err
				}
				if err := e.sweepEvent(id, keys, caller, queue); err != nil {
					return err
				}
			}
			if id == endID {
				return nil
			}
		}
	})
}

func (e *Engine) sweepEvent(eventID uint64, keys []uint64, recipient [20]byte, queue func(*events.Event)) error {
	for _, key := range keys {
		token, ok, err := e.state.TokenGet(eventID, key)
		if err != nil {
			return err
		}
		if !ok || token.Remaining.Sign() == 0 {
			continue
		}
		if err := e.sweepToken(token, recipient, queue); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) sweepToken(token *TokenInfo, recipient [20]byte, queue func(*events.Event)) error {
	swept := new(big.Int).Set(token.Remaining)
	token.Remaining = big.NewInt(0)
	if err := e.state.TokenPut(token); err != nil {
		return err
	}
	transferor, err := bank.TransferorFor(e.state, token.Asset)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := transferor.Transfer(Vault, recipient, swept); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	queue(NewWithdrawnEvent(token, swept, recipient))
	return nil
}
