package guard

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateToken(t *testing.T) {
	ws := t.TempDir()

	tok, err := LoadOrCreateToken(ws)
	if err != nil {
		t.Fatalf("LoadOrCreateToken: %v", err)
	}
	if len(tok) != 64 { // 256 bits as hex
		t.Fatalf("token length %d, want 64", len(tok))
	}

	info, err := os.Stat(filepath.Join(ws, TokenFileName))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode %o, want 600", perm)
	}

	again, err := LoadOrCreateToken(ws)
	if err != nil {
		t.Fatal(err)
	}
	if again != tok {
		t.Error("second load generated a different token")
	}
}

func TestRotateToken(t *testing.T) {
	ws := t.TempDir()
	old, err := LoadOrCreateToken(ws)
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := RotateToken(ws)
	if err != nil {
		t.Fatalf("RotateToken: %v", err)
	}
	if fresh == old {
		t.Fatal("rotation returned the same token")
	}
	loaded, _ := LoadOrCreateToken(ws)
	if loaded != fresh {
		t.Fatal("rotated token not persisted")
	}
}

func TestVerifyToken(t *testing.T) {
	const tok = "4cc1d9f3a07e5b68214fd0c9e8b3a7512f6d0e4c8a9b1735d2e6f80c4a5b9d17"

	if !VerifyToken(tok, tok) {
		t.Fatal("exact token rejected")
	}

	// Any 1-byte deviation must fail.
	flipped := []byte(tok)
	flipped[0] ^= 1
	if VerifyToken(string(flipped), tok) {
		t.Fatal("1-byte deviation accepted")
	}
	if VerifyToken(tok[:len(tok)-1], tok) {
		t.Fatal("truncated token accepted")
	}
	if VerifyToken("", tok) {
		t.Fatal("empty token accepted")
	}
	if VerifyToken(tok, "") {
		t.Fatal("empty expected token accepted")
	}
}
