// Package ratelimit defines the opaque rate limiter contract consumed by
// the socket package's outbound sends, plus a default token-bucket
// implementation over golang.org/x/time/rate.
package ratelimit
