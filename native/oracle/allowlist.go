package oracle

import "sync"

// Allowlist is the set of signer addresses permitted to post revenue
// attestations. It is safe for concurrent use; the indexer refreshes it on
// every OracleUpdated event.
type Allowlist struct {
	mu      sync.RWMutex
	signers map[[20]byte]struct{}
}

// NewAllowlist builds an allowlist seeded with the given signers.
func NewAllowlist(seed ...[20]byte) *Allowlist {
	list := &Allowlist{signers: make(map[[20]byte]struct{}, len(seed))}
	for _, signer := range seed {
		list.signers[signer] = struct{}{}
	}
	return list
}

// Add registers a signer.
func (l *Allowlist) Add(signer [20]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signers[signer] = struct{}{}
}

// Remove deregisters a signer.
func (l *Allowlist) Remove(signer [20]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.signers, signer)
}

// Contains reports whether the signer is allowlisted.
func (l *Allowlist) Contains(signer [20]byte) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.signers[signer]
	return ok
}

// Set replaces membership for a signer according to the allowed flag. It maps
// directly onto the ledger's OracleUpdated(signer, allowed) event.
func (l *Allowlist) Set(signer [20]byte, allowed bool) {
	if allowed {
		l.Add(signer)
		return
	}
	l.Remove(signer)
}

// Snapshot returns the current signer set.
func (l *Allowlist) Snapshot() [][20]byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([][20]byte, 0, len(l.signers))
	for signer := range l.signers {
		out = append(out, signer)
	}
	return out
}
