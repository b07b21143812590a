// Package interfaces holds the small public contracts shared across the
// streamsocket module that don't belong to any one package: currently the
// credentials consumed by socket.Client. The rate limiter contract lives in
// package ratelimit.
package interfaces

// Credentials supplies whatever an API-specific authQuery builder needs to
// sign or stamp an authentication handshake. The socket package never
// inspects these fields itself; it only calls HasCredentials to decide if
// authenticated subscriptions/queries are even possible
// (SPEC_FULL.md §4.5 step 2).
type Credentials struct {
	APIKey    string
	APISecret string
	// Extra carries exchange-specific material (passphrases, account ids)
	// that doesn't fit the two common fields above.
	Extra map[string]string
}

// HasCredentials reports whether c is non-nil and minimally populated.
func (c *Credentials) HasCredentials() bool {
	return c != nil && c.APIKey != ""
}
