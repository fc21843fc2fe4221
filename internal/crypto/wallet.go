package crypto

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
)

// Wallet is an ed25519 Solana signing identity. It signs serialized
// transactions in place, filling the fee payer's signature slot.
type Wallet struct {
	priv ed25519.PrivateKey
	pub  string
}

// NewWallet wraps a 64-byte ed25519 keypair.
func NewWallet(priv ed25519.PrivateKey) (*Wallet, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: expected %d-byte keypair, got %d bytes", ed25519.PrivateKeySize, len(priv))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Wallet{
		priv: priv,
		pub:  base58.Encode(pub),
	}, nil
}

// PublicKey returns the base58-encoded public key.
func (w *Wallet) PublicKey() string {
	return w.pub
}

// SignTransaction signs a serialized Solana transaction. The wire format is a
// compact-u16 signature count, that many 64-byte signature slots, then the
// message. The fee payer occupies the first slot; the message bytes are what
// gets signed.
func (w *Wallet) SignTransaction(tx []byte) ([]byte, error) {
	sigCount, sigOffset, err := decodeCompactU16(tx)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse transaction: %w", err)
	}
	if sigCount == 0 {
		return nil, fmt.Errorf("crypto: transaction has no signature slots")
	}

	msgOffset := sigOffset + sigCount*ed25519.SignatureSize
	if msgOffset >= len(tx) {
		return nil, fmt.Errorf("crypto: transaction truncated: %d bytes, message starts at %d", len(tx), msgOffset)
	}

	signature := ed25519.Sign(w.priv, tx[msgOffset:])

	signed := make([]byte, len(tx))
	copy(signed, tx)
	copy(signed[sigOffset:], signature)
	return signed, nil
}

// decodeCompactU16 reads the Solana compact-u16 length prefix, returning the
// value and the number of bytes consumed.
func decodeCompactU16(b []byte) (int, int, error) {
	var value, shift uint
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("truncated compact-u16")
		}
		elem := uint(b[i])
		value |= (elem & 0x7f) << shift
		if elem&0x80 == 0 {
			return int(value), i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("compact-u16 too long")
}
