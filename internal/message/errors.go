package message

import "fmt"

// Kind enumerates the stable error taxonomy of §7: every failure the
// handler can produce is one of these, never an ad-hoc error string, so
// the worker pool can dispatch on Kind for logging/metrics without string
// matching.
type Kind int

const (
	ASNDecodeError Kind = iota + 1
	UnknownSNMPVersion
	USMParamDecodeError
	USMParamEncodeError
	InvalidV3Flags
	InvalidSecurityLevel
	AuthenticationError
	AuthenticationFailure
	NotInTimeWindowError
	DecryptionFailure
	CipherDESUnpadError
)

func (k Kind) String() string {
	switch k {
	case ASNDecodeError:
		return "ASNDecodeError"
	case UnknownSNMPVersion:
		return "UnknownSNMPVersion"
	case USMParamDecodeError:
		return "USMParamDecodeError"
	case USMParamEncodeError:
		return "USMParamEncodeError"
	case InvalidV3Flags:
		return "InvalidV3Flags"
	case InvalidSecurityLevel:
		return "InvalidSecurityLevel"
	case AuthenticationError:
		return "AuthenticationError"
	case AuthenticationFailure:
		return "AuthenticationFailure"
	case NotInTimeWindowError:
		return "NotInTimeWindowError"
	case DecryptionFailure:
		return "DecryptionFailure"
	case CipherDESUnpadError:
		return "CipherDESUnpadError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error pairs a stable Kind with a human-readable cause, so callers can
// branch on Kind while logs still carry the underlying detail.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func errf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, reporting ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return 0, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
