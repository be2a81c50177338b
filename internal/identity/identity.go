// Package identity derives a stable caller fingerprint from the
// client-supplied user ID and the network peer. The fingerprint keys
// the penalty store and the rate limiter.
package identity

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	userIDHeader       = "X-User-ID"
	forwardedForHeader = "X-Forwarded-For"

	// anonymousUser stands in for callers that sent no user ID, so the
	// fingerprint collapses to the peer address alone.
	anonymousUser = "anonymous"
)

// CallerIdentity names the requester as seen at the edge.
type CallerIdentity struct {
	UserID   string // empty when the client sent no X-User-ID
	PeerAddr string
}

// FromRequest extracts the caller identity. The peer address is the
// leftmost entry of X-Forwarded-For when present (the original client
// in a proxy chain), otherwise the direct connection address.
func FromRequest(r *http.Request) CallerIdentity {
	id := CallerIdentity{
		UserID: strings.TrimSpace(r.Header.Get(userIDHeader)),
	}

	if fwd := r.Header.Get(forwardedForHeader); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		id.PeerAddr = strings.TrimSpace(first)
		return id
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	id.PeerAddr = host
	return id
}

// Fingerprint hashes the identity into an opaque key. Equality is the
// only contract; callers must not parse it. The hash is stable for the
// process lifetime and across processes.
func (id CallerIdentity) Fingerprint() string {
	user := id.UserID
	if user == "" {
		user = anonymousUser
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(user+"|"+id.PeerAddr))
}
