package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"pointsledger/core/bank"
	"pointsledger/core/events"
	"pointsledger/core/redemption"
	"pointsledger/storage"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func TestAddressSlots(t *testing.T) {
	m := newManager(t)

	_, ok, err := m.Owner()
	require.NoError(t, err)
	require.False(t, ok)

	var owner [20]byte
	owner[0] = 0xaa
	require.NoError(t, m.SetOwner(owner))
	got, ok, err := m.Owner()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, owner, got)

	var signer [20]byte
	signer[0] = 0xbb
	require.NoError(t, m.SetGlobalSigner(signer))
	got, ok, err = m.GlobalSigner()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, signer, got)
}

func TestEventRoundTrip(t *testing.T) {
	m := newManager(t)

	_, ok, err := m.EventGet(1)
	require.NoError(t, err)
	require.False(t, ok)

	ev := &redemption.RedemptionEvent{
		ID:             1,
		Active:         true,
		ScheduledStart: 5_000,
		MinPerAddress:  big.NewInt(10),
		MaxPerAddress:  big.NewInt(500),
		CreatedAt:      4_000,
	}
	require.NoError(t, m.EventPut(ev))

	got, ok, err := m.EventGet(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ev.ID, got.ID)
	require.True(t, got.Active)
	require.Equal(t, ev.ScheduledStart, got.ScheduledStart)
	require.Zero(t, got.MinPerAddress.Cmp(ev.MinPerAddress))
	require.Zero(t, got.MaxPerAddress.Cmp(ev.MaxPerAddress))
	require.Equal(t, ev.CreatedAt, got.CreatedAt)

	// Unset limits survive as nil.
	bare := &redemption.RedemptionEvent{ID: 2, CreatedAt: 1}
	require.NoError(t, m.EventPut(bare))
	got, ok, err = m.EventGet(2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, got.MinPerAddress)
	require.Nil(t, got.MaxPerAddress)
	require.False(t, got.Active)

	// The index preserves insertion order and deduplicates rewrites.
	ev.Active = false
	require.NoError(t, m.EventPut(ev))
	ids, err := m.EventIDs()
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, ids)
}

func TestTokenRoundTripAndIndex(t *testing.T) {
	m := newManager(t)
	asset, err := bank.TokenAsset("GEM")
	require.NoError(t, err)

	first := &redemption.TokenInfo{
		EventID:   1,
		Key:       5,
		Asset:     asset,
		Total:     big.NewInt(1_000),
		Remaining: big.NewInt(1_000),
		Rate:      big.NewInt(2_000_000_000_000_000_000),
		AddedAt:   9,
	}
	require.NoError(t, m.TokenPut(first))
	second := &redemption.TokenInfo{
		EventID:   1,
		Key:       2,
		Asset:     bank.NativeAsset(),
		Total:     big.NewInt(50),
		Remaining: big.NewInt(50),
		AddedAt:   10,
	}
	require.NoError(t, m.TokenPut(second))

	got, ok, err := m.TokenGet(1, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, asset, got.Asset)
	require.Zero(t, got.Total.Cmp(first.Total))
	require.Zero(t, got.Rate.Cmp(first.Rate))

	// The index preserves insertion order and deduplicates rewrites.
	first.Remaining = big.NewInt(400)
	require.NoError(t, m.TokenPut(first))
	keys, err := m.TokenKeys(1)
	require.NoError(t, err)
	require.Equal(t, []uint64{5, 2}, keys)

	got, _, err = m.TokenGet(1, 5)
	require.NoError(t, err)
	require.Zero(t, got.Remaining.Cmp(big.NewInt(400)))
}

func TestFingerprintSet(t *testing.T) {
	m := newManager(t)
	var fp [32]byte
	fp[0] = 0x42

	used, err := m.FingerprintUsed(fp)
	require.NoError(t, err)
	require.False(t, used)

	require.NoError(t, m.MarkFingerprint(fp))
	used, err = m.FingerprintUsed(fp)
	require.NoError(t, err)
	require.True(t, used)
}

func TestUserTotals(t *testing.T) {
	m := newManager(t)
	var claimant [20]byte
	claimant[0] = 0x11

	total, err := m.UserTotal(1, claimant)
	require.NoError(t, err)
	require.Zero(t, total.Sign())

	require.NoError(t, m.SetUserTotal(1, claimant, big.NewInt(777)))
	total, err = m.UserTotal(1, claimant)
	require.NoError(t, err)
	require.Zero(t, total.Cmp(big.NewInt(777)))

	// Totals are scoped per event.
	total, err = m.UserTotal(2, claimant)
	require.NoError(t, err)
	require.Zero(t, total.Sign())
}

func TestAccountRoundTrip(t *testing.T) {
	m := newManager(t)
	var addr [20]byte
	addr[0] = 0x33

	acc, err := m.GetAccount(addr)
	require.NoError(t, err)
	require.Zero(t, acc.Native.Sign())

	acc.Native = big.NewInt(123)
	acc.Tokens["GEM"] = big.NewInt(456)
	acc.Allowances["GEM/0000000000000000000000000000000000000001"] = big.NewInt(7)
	require.NoError(t, m.PutAccount(addr, acc))

	got, err := m.GetAccount(addr)
	require.NoError(t, err)
	require.Zero(t, got.Native.Cmp(big.NewInt(123)))
	require.Zero(t, got.Tokens["GEM"].Cmp(big.NewInt(456)))
	require.Zero(t, got.Allowances["GEM/0000000000000000000000000000000000000001"].Cmp(big.NewInt(7)))
}

func TestOverlayCommitAndAbort(t *testing.T) {
	m := newManager(t)

	m.Begin()
	require.NoError(t, m.SetCurrentEvent(9))
	// Staged writes are visible inside the unit of work.
	id, ok, err := m.CurrentEvent()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(9), id)
	m.Abort()

	_, ok, err = m.CurrentEvent()
	require.NoError(t, err)
	require.False(t, ok)

	m.Begin()
	require.NoError(t, m.SetCurrentEvent(12))
	require.NoError(t, m.Commit())
	id, ok, err = m.CurrentEvent()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(12), id)
}

func TestNotificationLog(t *testing.T) {
	m := newManager(t)

	entries, err := m.LogEntries(0)
	require.NoError(t, err)
	require.Empty(t, entries)

	emitter := NewLogEmitter(m, nil)
	emitter.Emit(&events.Event{Type: "redemption.event.created", Attributes: map[string]string{"eventId": "1"}})
	emitter.Emit(&events.Event{Type: "redemption.claimed", Attributes: map[string]string{"eventId": "1", "amount": "5"}})
	emitter.Emit(&events.Event{Type: "redemption.withdrawn", Attributes: map[string]string{"eventId": "1"}})

	entries, err = m.LogEntries(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "redemption.event.created", entries[0].Type)
	require.Equal(t, "5", entries[1].Attributes["amount"])

	// A positive limit returns the newest entries, oldest first.
	entries, err = m.LogEntries(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "redemption.claimed", entries[0].Type)
	require.Equal(t, "redemption.withdrawn", entries[1].Type)
}
