// Package dnswire implements the slice of RFC 1035 that shroudns actually
// needs to act as a blocking forwarder: reading a client query's
// transaction ID, flags, and question name, and synthesizing a
// header-plus-question error response (NXDOMAIN for blocked names,
// SERVFAIL for upstream failures). It does not encode or decode answer,
// authority, or additional records — this proxy never originates an
// answer of its own, so there is nothing here to build one with.
package dnswire

import "errors"

// ErrDNSError is the sentinel wrapped by every wire-format violation
// detected while parsing, via fmt.Errorf("context: %w", ErrDNSError).
var ErrDNSError = errors.New("dns wire error")
