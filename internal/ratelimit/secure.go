package ratelimit

import "crypto/subtle"

// SecureEqual compares two secrets in time that depends only on their
// lengths, never on where they first differ.
func SecureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
