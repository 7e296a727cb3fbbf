package kmssigner

import "fmt"

// The error types below are the complete failure surface of the
// adapter. Messages carry key references and algorithm names only;
// digest and signature bytes never appear in them.

// KeyFormatError reports a remote public key that cannot be decoded.
type KeyFormatError struct {
	KeyReference string
	Err          error
}

func (e *KeyFormatError) Error() string {
	return fmt.Sprintf("unparseable public key for %s: %v", e.KeyReference, e.Err)
}

func (e *KeyFormatError) Unwrap() error { return e.Err }

// UnsupportedKeyError reports a key whose size or curve cannot be
// mapped to any supported signing algorithm.
type UnsupportedKeyError struct {
	KeyReference string
	// Detail names the offending key shape, e.g. "RSA-1024" or "P-224".
	Detail string
}

func (e *UnsupportedKeyError) Error() string {
	return fmt.Sprintf("unsupported key %s for %s", e.Detail, e.KeyReference)
}

// UnsupportedAlgorithmError reports a (key family, digest) combination
// with no entry in the signing-algorithm table, or a requested
// algorithm the remote key cannot produce.
type UnsupportedAlgorithmError struct {
	Family KeyFamily
	Detail string
}

func (e *UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("no %s signing algorithm for %s", e.Family, e.Detail)
}

// RemoteServiceError reports a failed call to the remote key service.
type RemoteServiceError struct {
	KeyReference string
	// Call names the remote operation, e.g. "GetPublicKey" or "Sign".
	Call string
	// Transient marks failures that may succeed on retry (throttling,
	// network blips, 5xx-equivalents). Permanent failures are never
	// retried.
	Transient bool
	// Exhausted marks a transient failure that outlived the retry
	// budget.
	Exhausted bool
	Err       error
}

func (e *RemoteServiceError) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
		if e.Exhausted {
			class = "transient, retries exhausted"
		}
	}
	return fmt.Sprintf("%s failed for %s (%s): %v", e.Call, e.KeyReference, class, e.Err)
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

// InvalidSignatureEncodingError reports malformed signature bytes from
// the service. Never retried: the same request would exercise the same
// bug.
type InvalidSignatureEncodingError struct {
	KeyReference string
	Algorithm    Algorithm
	Detail       string
}

func (e *InvalidSignatureEncodingError) Error() string {
	return fmt.Sprintf("malformed %s signature from %s: %s", e.Algorithm, e.KeyReference, e.Detail)
}

// CancelledError reports an operation aborted by the caller's context,
// either mid-call or during a backoff wait.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("signing operation cancelled: %v", e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// UnsupportedSchemeError reports a key-reference URI whose scheme has
// no registered backend. Raised by Open, before any remote call.
type UnsupportedSchemeError struct {
	Scheme string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("no signer backend registered for scheme %q", e.Scheme)
}
