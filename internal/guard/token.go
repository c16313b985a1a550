package guard

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TokenFileName is the gateway bearer token file, relative to the
// workspace root.
const TokenFileName = ".gateway-token"

// LoadOrCreateToken returns the gateway bearer token, generating a
// random 256-bit one on first run. The file is owner-only.
func LoadOrCreateToken(workspace string) (string, error) {
	path := filepath.Join(workspace, TokenFileName)
	if data, err := os.ReadFile(path); err == nil {
		if tok := strings.TrimSpace(string(data)); tok != "" {
			return tok, nil
		}
	}

	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	tok := hex.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(tok+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write gateway token: %w", err)
	}
	return tok, nil
}

// RotateToken replaces the gateway token with a fresh one and returns
// it. Connected clients keep working until they reconnect.
func RotateToken(workspace string) (string, error) {
	path := filepath.Join(workspace, TokenFileName)
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	tok := hex.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(tok+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("rotate gateway token: %w", err)
	}
	return tok, nil
}

// VerifyToken compares a presented token with the expected one in
// constant time. Both sides are hashed first so length is not a signal.
func VerifyToken(presented, expected string) bool {
	if expected == "" {
		return false
	}
	a := sha256.Sum256([]byte(presented))
	b := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
