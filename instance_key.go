package main

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// instanceKey identifies one org/client pair so two subscribers for the same
// connected app never run side by side, while different ones may.
func instanceKey(loginURL, clientID string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(loginURL)) + "\n" + strings.TrimSpace(clientID)))
	return hex.EncodeToString(sum[:8])
}
