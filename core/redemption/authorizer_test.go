package redemption

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestCanonicalMessageFormat(t *testing.T) {
	var claimant [20]byte
	claimant[19] = 0xab
	payload := ClaimPayload{
		EventID:  7,
		TokenKey: 3,
		Claimant: claimant,
		Amount:   big.NewInt(1500),
		Points:   big.NewInt(12),
	}
	want := "POINTSLEDGER_CLAIM_V1|event=7|token=3|claimant=00000000000000000000000000000000000000ab|amount=1500|points=12"
	if got := payload.CanonicalMessage(); got != want {
		t.Fatalf("canonical message = %q, want %q", got, want)
	}

	// Nil big integers render as zero.
	zeroed := ClaimPayload{EventID: 1, TokenKey: 1}
	wantZero := "POINTSLEDGER_CLAIM_V1|event=1|token=1|claimant=0000000000000000000000000000000000000000|amount=0|points=0"
	if got := zeroed.CanonicalMessage(); got != wantZero {
		t.Fatalf("zeroed message = %q, want %q", got, wantZero)
	}
}

func TestFingerprintDistinguishesFields(t *testing.T) {
	base := ClaimPayload{EventID: 1, TokenKey: 1, Amount: big.NewInt(10)}
	fields := []ClaimPayload{
		{EventID: 2, TokenKey: 1, Amount: big.NewInt(10)},
		{EventID: 1, TokenKey: 2, Amount: big.NewInt(10)},
		{EventID: 1, TokenKey: 1, Amount: big.NewInt(11)},
		{EventID: 1, TokenKey: 1, Amount: big.NewInt(10), Points: big.NewInt(1)},
	}
	baseFP := base.Fingerprint()
	for i, other := range fields {
		if otherFP := other.Fingerprint(); bytes.Equal(baseFP[:], otherFP[:]) {
			t.Fatalf("variant %d collided with base fingerprint", i)
		}
	}
	if again := base.Fingerprint(); !bytes.Equal(baseFP[:], again[:]) {
		t.Fatal("fingerprint is not deterministic")
	}
}

func TestRecoverSignerRoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var expected [20]byte
	copy(expected[:], ethcrypto.PubkeyToAddress(key.PublicKey).Bytes())

	payload := ClaimPayload{EventID: 42, TokenKey: 9, Amount: big.NewInt(77)}
	fp := payload.Fingerprint()
	sig, err := ethcrypto.Sign(accounts.TextHash(fp[:]), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	recovered, err := RecoverSigner(payload, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != expected {
		t.Fatalf("recovered %x, want %x", recovered, expected)
	}

	// Legacy 27/28 recovery ids normalize to the same signer.
	legacy := append([]byte(nil), sig...)
	legacy[64] += 27
	recovered, err = RecoverSigner(payload, legacy)
	if err != nil {
		t.Fatalf("recover legacy: %v", err)
	}
	if recovered != expected {
		t.Fatalf("legacy recovered %x, want %x", recovered, expected)
	}
}

func TestRecoverSignerRejectsMalformed(t *testing.T) {
	payload := ClaimPayload{EventID: 1, TokenKey: 1, Amount: big.NewInt(1)}
	if _, err := RecoverSigner(payload, nil); err != ErrMalformedSignature {
		t.Fatalf("nil signature: got %v, want ErrMalformedSignature", err)
	}
	if _, err := RecoverSigner(payload, make([]byte, 64)); err != ErrMalformedSignature {
		t.Fatalf("64 bytes: got %v, want ErrMalformedSignature", err)
	}
	if _, err := RecoverSigner(payload, make([]byte, 66)); err != ErrMalformedSignature {
		t.Fatalf("66 bytes: got %v, want ErrMalformedSignature", err)
	}
}

func TestAmountForPoints(t *testing.T) {
	token := &TokenInfo{Rate: new(big.Int).Mul(big.NewInt(3), RateDenominator)}
	if got := token.AmountForPoints(big.NewInt(7)); got.Cmp(big.NewInt(21)) != 0 {
		t.Fatalf("amount = %s, want 21", got)
	}

	// Fractional rates truncate toward zero.
	half := new(big.Int).Div(RateDenominator, big.NewInt(2))
	token = &TokenInfo{Rate: half}
	if got := token.AmountForPoints(big.NewInt(5)); got.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("amount = %s, want 2", got)
	}

	direct := &TokenInfo{}
	if direct.PointsMode() {
		t.Fatal("token without rate must not be in points mode")
	}
	if got := direct.AmountForPoints(big.NewInt(5)); got.Sign() != 0 {
		t.Fatalf("direct token amount = %s, want 0", got)
	}
}
