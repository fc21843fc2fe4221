package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
)

func testKeypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return pub, priv
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	_, priv := testKeypair(t)
	encoded := base58.Encode(priv)

	blob, err := EncryptKeypair(encoded, "hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := DecryptKeypair(blob, "hunter2")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, priv) {
		t.Fatal("decrypted keypair does not match original")
	}

	if _, err := DecryptKeypair(blob, "wrong"); err == nil {
		t.Fatal("expected error with wrong password")
	}
}

func TestLoadKeypairFromFile(t *testing.T) {
	_, priv := testKeypair(t)
	blob, err := EncryptKeypair(base58.Encode(priv), "pw")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	got, err := LoadKeypair(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(got, priv) {
		t.Fatal("loaded keypair does not match original")
	}
}

func TestLoadKeypairRejectsBadInput(t *testing.T) {
	if _, err := LoadKeypair(KeyConfig{}); err == nil {
		t.Fatal("expected error with no key source")
	}
	if _, err := LoadKeypair(KeyConfig{RawPrivateKey: "not-base58!!!"}); err == nil {
		t.Fatal("expected error for invalid base58")
	}
	if _, err := LoadKeypair(KeyConfig{RawPrivateKey: base58.Encode([]byte("short"))}); err == nil {
		t.Fatal("expected error for wrong key length")
	}
}

func TestWalletSignTransaction(t *testing.T) {
	pub, priv := testKeypair(t)
	w, err := NewWallet(priv)
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	if w.PublicKey() != base58.Encode(pub) {
		t.Fatalf("public key mismatch: %s", w.PublicKey())
	}

	message := []byte("serialized transaction message body")
	tx := make([]byte, 0, 1+ed25519.SignatureSize+len(message))
	tx = append(tx, 0x01) // one signature slot
	tx = append(tx, make([]byte, ed25519.SignatureSize)...)
	tx = append(tx, message...)

	signed, err := w.SignTransaction(tx)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig := signed[1 : 1+ed25519.SignatureSize]
	if !ed25519.Verify(pub, message, sig) {
		t.Fatal("signature does not verify against message")
	}
	if !bytes.Equal(signed[1+ed25519.SignatureSize:], message) {
		t.Fatal("message bytes were modified")
	}
}

func TestWalletSignTransactionRejectsMalformed(t *testing.T) {
	_, priv := testKeypair(t)
	w, err := NewWallet(priv)
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}

	for _, tc := range []struct {
		name string
		tx   []byte
	}{
		{"empty", nil},
		{"zero signature slots", []byte{0x00, 0xaa}},
		{"truncated", append([]byte{0x01}, make([]byte, 10)...)},
	} {
		if _, err := w.SignTransaction(tc.tx); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
