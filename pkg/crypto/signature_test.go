package crypto

import "testing"

func TestSignVerify(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	hash := Hash([]byte("message"))
	sig, err := key.Sign(hash[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if !VerifySignature(hash[:], sig, key.PublicKey()) {
		t.Error("valid signature should verify")
	}

	other := Hash([]byte("other message"))
	if VerifySignature(other[:], sig, key.PublicKey()) {
		t.Error("signature should not verify against a different hash")
	}

	wrongKey, _ := GenerateKey()
	if VerifySignature(hash[:], sig, wrongKey.PublicKey()) {
		t.Error("signature should not verify against a different key")
	}
}

func TestSign_RejectsBadHashLength(t *testing.T) {
	key, _ := GenerateKey()
	if _, err := key.Sign([]byte("short")); err == nil {
		t.Error("signing a non-32-byte hash should fail")
	}
}

func TestPrivateKeyFromBytes(t *testing.T) {
	key, _ := GenerateKey()
	if _, err := PrivateKeyFromBytes(make([]byte, 16)); err == nil {
		t.Error("short key bytes should fail")
	}
	_ = key
}

func TestVerifySignature_MalformedInputs(t *testing.T) {
	hash := Hash([]byte("x"))
	if VerifySignature(hash[:], []byte("junk"), []byte("junk")) {
		t.Error("malformed signature and key should not verify")
	}
}
