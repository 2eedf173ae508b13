package stream

import "errors"

// Sentinel error kinds per spec §7. Wrap with fmt.Errorf("...: %w", kind)
// and test with errors.Is, never by comparing strings.
var (
	// ErrConfig is a fatal startup error: missing token, every endpoint
	// candidate unreachable, or an invalid config shape.
	ErrConfig = errors.New("config error")
	// ErrAuth is a fatal runtime error: upstream returned 401/403.
	ErrAuth = errors.New("auth error")
	// ErrTransientTransport covers socket errors, non-2xx (other than
	// auth), and read timeouts — retried under the backoff policy.
	ErrTransientTransport = errors.New("transient transport error")
	// ErrParse marks a malformed SSE frame; logged and skipped.
	ErrParse = errors.New("parse error")
)

// IsAuthError reports whether err (or something it wraps) is ErrAuth.
func IsAuthError(err error) bool { return errors.Is(err, ErrAuth) }

// IsConfigError reports whether err (or something it wraps) is ErrConfig.
func IsConfigError(err error) bool { return errors.Is(err, ErrConfig) }

// IsTransientTransportError reports whether err is ErrTransientTransport.
func IsTransientTransportError(err error) bool { return errors.Is(err, ErrTransientTransport) }

// IsParseError reports whether err is ErrParse.
func IsParseError(err error) bool { return errors.Is(err, ErrParse) }
