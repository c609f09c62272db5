package redemption

import (
	"fmt"
	"math/big"

	"pointsledger/core/bank"
	"pointsledger/core/events"
)

// AddToken registers an escrowed asset under an active event. The backing
// balance is taken into custody atomically with registration: native assets
// must arrive with an attached value equal to totalAmount, token assets are
// pulled from the caller via an allowance granted to the module vault.
func (e *Engine) AddToken(caller [20]byte, eventID, tokenKey uint64, asset bank.Asset, totalAmount, rate, attachedValue *big.Int) error {
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
		if _, ok, err := e.state.TokenGet(eventID, tokenKey); err != nil {
			return err
		} else if ok {
			return ErrTokenExists
		}
		if totalAmount == nil || totalAmount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if rate != nil && rate.Sign() <= 0 {
			return ErrInvalidRate
		}
		normalized, err := asset.Normalize()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}

		transferor, err := bank.TransferorFor(e.state, normalized)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		switch normalized.Kind {
		case bank.AssetNative:
			if attachedValue == nil || attachedValue.Cmp(totalAmount) != 0 {
				return ErrEscrowMismatch
			}
			if err := transferor.Transfer(caller, Vault, totalAmount); err != nil {
				return fmt.Errorf("%w: %v", ErrTransferFailed, err)
			}
		case bank.AssetToken:
			if attachedValue != nil && attachedValue.Sign() != 0 {
				return ErrEscrowMismatch
			}
			if err := transferor.TransferFrom(Vault, caller, Vault, totalAmount); err != nil {
				return fmt.Errorf("%w: %v", ErrTransferFailed, err)
			}
		}

		token := &TokenInfo{
			EventID:   eventID,
			Key:       tokenKey,
			Asset:     normalized,
			Total:     new(big.Int).Set(totalAmount),
			Remaining: new(big.Int).Set(totalAmount),
			AddedAt:   e.now(),
		}
		if rate != nil {
			token.Rate = new(big.Int).Set(rate)
		}
		if err := e.state.TokenPut(token); err != nil {
			return err
		}
		queue(NewTokenAddedEvent(token))
		return nil
	})
}

// TokenInfoOf returns a copy of the stored token record.
func (e *Engine) TokenInfoOf(eventID, tokenKey uint64) (*TokenInfo, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	unlock, err := e.lock()
	if err != nil {
		return nil, false, err
	}
	defer unlock()
	token, ok, err := e.state.TokenGet(eventID, tokenKey)
	if err != nil || !ok {
		return nil, false, err
	}
	return token.Clone(), true, nil
}

// ListTokens returns all token records for the event in insertion order.
func (e *Engine) ListTokens(eventID uint64) ([]*TokenInfo, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	unlock, err := e.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	keys, err := e.state.TokenKeys(eventID)
	if err != nil {
		return nil, err
	}
	tokens := make([]*TokenInfo, 0, len(keys))
	for _, key := range keys {
		token, ok, err := e.state.TokenGet(eventID, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		tokens = append(tokens, token.Clone())
	}
	return tokens, nil
}

// UserTotal returns the cumulative amount redeemed by claimant in the event.
func (e *Engine) UserTotal(eventID uint64, claimant [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	unlock, err := e.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.state.UserTotal(eventID, claimant)
}
