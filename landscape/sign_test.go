package landscape

import "testing"

func TestNewArtifactSignerUnsetEnvVar(t *testing.T) {
	t.Setenv("LANDSCAPE_SIGNING_KEY_TEST_UNSET", "")
	_, ok := NewArtifactSigner("LANDSCAPE_SIGNING_KEY_TEST_UNSET")
	if ok {
		t.Fatal("expected ok=false when the signing key env var is unset")
	}
}

func TestArtifactSignerSignAndVerify(t *testing.T) {
	t.Setenv("LANDSCAPE_SIGNING_KEY_TEST", "correct-horse-battery-staple")
	signer, ok := NewArtifactSigner("LANDSCAPE_SIGNING_KEY_TEST")
	if !ok {
		t.Fatal("expected ok=true when the signing key env var is set")
	}
	artifact := Artifact{ArtifactID: "art_1", ContentHash: "abc123"}
	sig := signer.Sign(artifact)
	if len(sig) == 0 {
		t.Fatal("expected a non-empty signature")
	}
	if !signer.VerifySignature(artifact, sig) {
		t.Fatal("expected VerifySignature to accept its own signature")
	}
}

func TestArtifactSignerRejectsTamperedHash(t *testing.T) {
	t.Setenv("LANDSCAPE_SIGNING_KEY_TEST", "correct-horse-battery-staple")
	signer, ok := NewArtifactSigner("LANDSCAPE_SIGNING_KEY_TEST")
	if !ok {
		t.Fatal("expected ok=true when the signing key env var is set")
	}
	sig := signer.Sign(Artifact{ContentHash: "abc123"})
	if signer.VerifySignature(Artifact{ContentHash: "tampered"}, sig) {
		t.Fatal("expected VerifySignature to reject a signature for a different content hash")
	}
}

func TestArtifactSignerDifferentKeysDisagree(t *testing.T) {
	t.Setenv("LANDSCAPE_SIGNING_KEY_TEST_A", "key-a")
	t.Setenv("LANDSCAPE_SIGNING_KEY_TEST_B", "key-b")
	a, _ := NewArtifactSigner("LANDSCAPE_SIGNING_KEY_TEST_A")
	b, _ := NewArtifactSigner("LANDSCAPE_SIGNING_KEY_TEST_B")
	artifact := Artifact{ContentHash: "abc123"}
	if b.VerifySignature(artifact, a.Sign(artifact)) {
		t.Fatal("expected signatures from different keys to disagree")
	}
}
