package secureframe

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// proxyEntry is what an opaque proxy_id resolves to: the frame it stands
// in for, plus the version counter every orchestrator-approved mutation
// bumps (spec §4.14).
type proxyEntry struct {
	frameID      string
	version      int
	createdAt    time.Time
	lastAccessed time.Time
}

// ProxyTable maps hex-encoded UUID proxy_ids to frames. Workers hold
// proxy_ids, never frame_ids directly (spec §4.14); revoking one is
// permanent.
type ProxyTable struct {
	mu      sync.Mutex
	proxies map[string]*proxyEntry
	revoked map[string]struct{}
}

// NewProxyTable builds an empty proxy table.
func NewProxyTable() *ProxyTable {
	return &ProxyTable{
		proxies: make(map[string]*proxyEntry),
		revoked: make(map[string]struct{}),
	}
}

// Issue mints a fresh proxy_id bound to frameID at version 0.
func (t *ProxyTable) Issue(frameID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var id string
	for {
		id = uuid.NewString()
		if _, taken := t.proxies[id]; taken {
			continue
		}
		if _, wasRevoked := t.revoked[id]; wasRevoked {
			continue
		}
		break
	}
	now := time.Now().UTC()
	t.proxies[id] = &proxyEntry{frameID: frameID, createdAt: now, lastAccessed: now}
	return id
}

// Resolve returns the frame_id and current version a proxy_id stands for,
// recording the access. A revoked or unknown proxy_id fails.
func (t *ProxyTable) Resolve(proxyID string) (frameID string, version int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, revoked := t.revoked[proxyID]; revoked {
		return "", 0, fmt.Errorf("secureframe: proxy_id %s has been revoked", proxyID)
	}
	e, ok := t.proxies[proxyID]
	if !ok {
		return "", 0, fmt.Errorf("secureframe: unknown proxy_id %s", proxyID)
	}
	e.lastAccessed = time.Now().UTC()
	return e.frameID, e.version, nil
}

// BumpVersion increments proxyID's version counter, called once per
// orchestrator-approved mutation of the frame it stands for, and returns
// the new version.
func (t *ProxyTable) BumpVersion(proxyID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, revoked := t.revoked[proxyID]; revoked {
		return 0, fmt.Errorf("secureframe: proxy_id %s has been revoked", proxyID)
	}
	e, ok := t.proxies[proxyID]
	if !ok {
		return 0, fmt.Errorf("secureframe: unknown proxy_id %s", proxyID)
	}
	e.version++
	return e.version, nil
}

// Revoke invalidates proxyID permanently; Resolve and BumpVersion fail for
// it from this point on, and Issue will never mint it again.
func (t *ProxyTable) Revoke(proxyID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.proxies[proxyID]; !ok {
		if _, revoked := t.revoked[proxyID]; revoked {
			return fmt.Errorf("secureframe: proxy_id %s already revoked", proxyID)
		}
		return fmt.Errorf("secureframe: unknown proxy_id %s", proxyID)
	}
	delete(t.proxies, proxyID)
	t.revoked[proxyID] = struct{}{}
	return nil
}
