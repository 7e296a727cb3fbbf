package kmssigner

import (
	"fmt"
	"strings"
	"sync"
)

// Constructor builds a Signer from a full key-reference URI, scheme
// included.
type Constructor func(uri string) (Signer, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Constructor)
)

// RegisterScheme makes a backend available to Open under the given URI
// scheme. Backends call it from init, so importing a backend package
// is enough to enable its scheme.
func RegisterScheme(scheme string, ctor Constructor) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if ctor == nil {
		panic("kmssigner: RegisterScheme with nil constructor")
	}
	if _, dup := backends[scheme]; dup {
		panic(fmt.Sprintf("kmssigner: scheme %q registered twice", scheme))
	}
	backends[scheme] = ctor
}

// Open constructs a Signer for a key-reference URI such as
// gcpkms://projects/p/locations/l/keyRings/r/cryptoKeys/k/cryptoKeyVersions/1.
// Unrecognized schemes fail here with UnsupportedSchemeError, before
// any remote call is made.
func Open(uri string) (Signer, error) {
	scheme, _, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, &UnsupportedSchemeError{Scheme: uri}
	}
	backendsMu.RLock()
	ctor := backends[scheme]
	backendsMu.RUnlock()
	if ctor == nil {
		return nil, &UnsupportedSchemeError{Scheme: scheme}
	}
	return ctor(uri)
}
