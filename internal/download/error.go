package download

import "fmt"

// Kind enumerates the error categories the core recognizes. Retryability is
// a property of the kind, not of the call site that produced it.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransportRetryable
	KindTransportFatal
	KindHTTPClientError
	KindRateLimited
	KindHashMismatch
	KindSdpCorrupt
	KindPoolCorrupt
	KindIoWrite
	KindIoRename
	KindParseError
	KindDependencyNotFound
	KindNoMirrors
	KindDiskFull
)

func (k Kind) String() string {
	switch k {
	case KindTransportRetryable:
		return "transport_retryable"
	case KindTransportFatal:
		return "transport_fatal"
	case KindHTTPClientError:
		return "http_client_error"
	case KindRateLimited:
		return "rate_limited"
	case KindHashMismatch:
		return "hash_mismatch"
	case KindSdpCorrupt:
		return "sdp_corrupt"
	case KindPoolCorrupt:
		return "pool_corrupt"
	case KindIoWrite:
		return "io_write"
	case KindIoRename:
		return "io_rename"
	case KindParseError:
		return "parse_error"
	case KindDependencyNotFound:
		return "dependency_not_found"
	case KindNoMirrors:
		return "no_mirrors"
	case KindDiskFull:
		return "disk_full"
	default:
		return "unknown"
	}
}

// Retryable reports whether the retry queue (transfer engine step 6) should
// absorb an error of this kind rather than failing the record outright.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransportRetryable, KindRateLimited:
		return true
	default:
		return false
	}
}

// Error is a tagged error carrying its kind alongside the wrapped cause, so
// callers can branch on Kind() while errors.Is/errors.As still see through
// to the original stdlib error.
type Error struct {
	Kind       Kind
	StatusCode int // populated for KindHTTPClientError
	RetryAfter int // seconds, populated for KindRateLimited when known
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func WrapHTTPStatus(status int, err error) *Error {
	return &Error{Kind: KindHTTPClientError, StatusCode: status, Err: err}
}

func WrapRateLimited(retryAfter int, err error) *Error {
	return &Error{Kind: KindRateLimited, RetryAfter: retryAfter, Err: err}
}
