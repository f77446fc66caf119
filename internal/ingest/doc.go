// Package ingest converts vendor data into punch.RawTransaction values.
//
// Subpackages host the long-running adapters (poll, push, socket). This
// package holds the conversions they share, so every adapter produces
// byte-identical transactions (and therefore identical dedup keys) for the
// same physical punch.
package ingest
