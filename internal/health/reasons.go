package health

import "strings"

// Stable reason codes carried in health evidence so the backend does not have
// to parse raw error strings.
const (
	ReasonUnknown             = "UNKNOWN_ERROR"
	ReasonInvalidKey          = "INVALID_API_KEY"
	ReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	ReasonMinNotional         = "MIN_NOTIONAL"
	ReasonRateLimit           = "RATE_LIMIT"
	ReasonWebsocketTimeout    = "WEBSOCKET_TIMEOUT"
	ReasonPositionMismatch    = "POSITION_MISMATCH"
	ReasonDBTimeout           = "DB_TIMEOUT"
)

var reasonPatterns = []struct {
	pattern string
	code    string
}{
	{"invalid api", ReasonInvalidKey},
	{"invalid key", ReasonInvalidKey},
	{"api-key", ReasonInvalidKey},
	{"insufficient balance", ReasonInsufficientBalance},
	{"insufficient funds", ReasonInsufficientBalance},
	{"min notional", ReasonMinNotional},
	{"min_notional", ReasonMinNotional},
	{"rate limit", ReasonRateLimit},
	{"ratelimit", ReasonRateLimit},
	{"too many requests", ReasonRateLimit},
	{"timeout", ReasonWebsocketTimeout},
	{"websocket", ReasonWebsocketTimeout},
	{"position mismatch", ReasonPositionMismatch},
	{"db timeout", ReasonDBTimeout},
	{"db_timeout", ReasonDBTimeout},
}

// MapErrorToReason maps a raw error to a stable reason code.
func MapErrorToReason(err error) string {
	if err == nil {
		return ReasonUnknown
	}
	text := strings.ToLower(err.Error())
	for _, p := range reasonPatterns {
		if strings.Contains(text, p.pattern) {
			return p.code
		}
	}
	return ReasonUnknown
}

// NormalizeReasonCode uppercases a caller-supplied code, falling back to
// UNKNOWN_ERROR for blanks.
func NormalizeReasonCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ReasonUnknown
	}
	return code
}
