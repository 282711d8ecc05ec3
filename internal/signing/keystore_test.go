package signing_test

import (
	"testing"

	"github.com/milelog/milelog/internal/signing"
)

func TestLoadOrCreate_roundTrip(t *testing.T) {
	dir := t.TempDir()

	ks := signing.NewKeystore(dir)
	if err := ks.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}

	reloaded := signing.NewKeystore(dir)
	if err := reloaded.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}
	if !ks.PublicKey().Equal(reloaded.PublicKey()) {
		t.Error("reloaded keystore has a different key pair")
	}
}

func TestSign_verifies(t *testing.T) {
	ks := signing.NewKeystore(t.TempDir())
	if err := ks.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}

	data := []byte("report payload")
	sig := ks.Sign(data)
	if !ks.VerifySignature(data, sig) {
		t.Error("signature did not verify")
	}
	if ks.VerifySignature([]byte("altered payload"), sig) {
		t.Error("signature verified against altered data")
	}
	if ks.VerifySignature(data, "not-base64!") {
		t.Error("malformed signature verified")
	}
}
