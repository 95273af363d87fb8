package mcprpc

// ctxKey is an unexported type so values stored under it cannot collide with
// keys defined by other packages.
type ctxKey int

const (
	// SessionKey is the context key under which the active session is
	// attached during dispatch, so handlers can recover session-scoped state
	// without threading an extra parameter through every call.
	SessionKey ctxKey = iota
	// LoggerKey is a context key for a request/session-scoped structured
	// logger; no code in this module attaches a value under it.
	LoggerKey
)
