package redemption

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ClaimDomainV1 is the domain separator baked into every claim fingerprint.
const ClaimDomainV1 = "POINTSLEDGER_CLAIM_V1"

// signatureLength is the canonical 65-byte [R || S || V] encoding.
const signatureLength = 65

// ClaimPayload is the field tuple authorized by the global signer. Field
// order, widths and encoding are a wire contract shared with the off-chain
// signer; changing any of them breaks every outstanding signature.
type ClaimPayload struct {
	EventID  uint64
	TokenKey uint64
	Claimant [20]byte
	Amount   *big.Int
	Points   *big.Int
}

// CanonicalMessage renders the exact string hashed into the fingerprint.
func (p ClaimPayload) CanonicalMessage() string {
	amount := "0"
	if p.Amount != nil {
		amount = p.Amount.String()
	}
	points := "0"
	if p.Points != nil {
		points = p.Points.String()
	}
	builder := strings.Builder{}
	builder.WriteString(ClaimDomainV1)
	builder.WriteString("|event=")
	builder.WriteString(fmt.Sprintf("%d", p.EventID))
	builder.WriteString("|token=")
	builder.WriteString(fmt.Sprintf("%d", p.TokenKey))
	builder.WriteString("|claimant=")
	builder.WriteString(hex.EncodeToString(p.Claimant[:]))
	builder.WriteString("|amount=")
	builder.WriteString(amount)
	builder.WriteString("|points=")
	builder.WriteString(points)
	return builder.String()
}

// Fingerprint is the keccak256 digest of the canonical message. It uniquely
// identifies one authorized claim and is consumed forever on success.
func (p ClaimPayload) Fingerprint() [32]byte {
	var fp [32]byte
	copy(fp[:], ethcrypto.Keccak256([]byte(p.CanonicalMessage())))
	return fp
}

// RecoverSigner applies the EIP-191 personal-message prefix to the payload
// fingerprint and recovers the signing address. It decides authenticity only;
// the caller compares the result against the current global signer.
func RecoverSigner(p ClaimPayload, signature []byte) ([20]byte, error) {
	var signer [20]byte
	if len(signature) != signatureLength {
		return signer, ErrMalformedSignature
	}
	fp := p.Fingerprint()
	digest := accounts.TextHash(fp[:])
	sig := append([]byte(nil), signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pubKey, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return signer, ErrMalformedSignature
	}
	copy(signer[:], ethcrypto.PubkeyToAddress(*pubKey).Bytes())
	return signer, nil
}
