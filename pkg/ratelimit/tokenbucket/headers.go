package tokenbucket

import (
	"net/http"
	"strconv"
	"time"

	"github.com/botflow/botflow/pkg/common/errors"
)

// ResetFormat selects how a window-reset header value is interpreted.
type ResetFormat int

const (
	// ResetRFC3339 parses the reset value as an RFC 3339 timestamp.
	ResetRFC3339 ResetFormat = iota

	// ResetUnixSeconds parses the reset value as seconds since the Unix epoch.
	ResetUnixSeconds

	// ResetUnixMilliseconds parses the reset value as milliseconds since the Unix epoch.
	ResetUnixMilliseconds

	// ResetUnixNanoseconds parses the reset value as nanoseconds since the Unix epoch.
	ResetUnixNanoseconds
)

// String returns the config-file name of the format.
func (f ResetFormat) String() string {
	switch f {
	case ResetRFC3339:
		return "rfc3339"
	case ResetUnixSeconds:
		return "unix"
	case ResetUnixMilliseconds:
		return "unix_ms"
	case ResetUnixNanoseconds:
		return "unix_ns"
	default:
		return "unknown"
	}
}

// HeaderMapping names the response headers that carry rate-limit state.
// An empty name means the corresponding bucket field is not reconciled.
type HeaderMapping struct {
	// Limit is the header carrying the window capacity.
	Limit string

	// Remaining is the header carrying the remaining token count.
	Remaining string

	// Reset is the header carrying the end of the current window.
	Reset string

	// Format is how the Reset value is encoded.
	Format ResetFormat
}

// DefaultHeaderMapping matches the Ratelimit-* headers used by the Twitch
// Helix API, with unix-second reset timestamps.
func DefaultHeaderMapping() HeaderMapping {
	return HeaderMapping{
		Limit:     "Ratelimit-Limit",
		Remaining: "Ratelimit-Remaining",
		Reset:     "Ratelimit-Reset",
		Format:    ResetUnixSeconds,
	}
}

// ParseHeaders reconciles bucket state from rate-limit response headers.
// Each mapped header that is present and parseable is fed through the
// corresponding conditional setter, so out-of-range or stale values are
// dropped silently. Absent and unparseable values are per-field no-ops.
// An unknown reset format returns a validation error.
func (b *bucket) ParseHeaders(h http.Header, m HeaderMapping) error {
	if m.Format < ResetRFC3339 || m.Format > ResetUnixNanoseconds {
		return errors.NewValidationError("tokenbucket", "format", m.Format, "unknown reset format").
			WithHint("use one of the ResetFormat constants")
	}

	if m.Limit != "" {
		if v := h.Get(m.Limit); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				b.UpdateLimit(n)
			}
		}
	}

	if m.Remaining != "" {
		if v := h.Get(m.Remaining); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				b.UpdateRemaining(n)
			}
		}
	}

	if m.Reset != "" {
		if v := h.Get(m.Reset); v != "" {
			if at, err := parseReset(v, m.Format); err == nil {
				b.UpdateNextReset(at)
			}
		}
	}

	return nil
}

// parseReset decodes a reset header value according to format.
func parseReset(value string, format ResetFormat) (time.Time, error) {
	switch format {
	case ResetRFC3339:
		return time.Parse(time.RFC3339, value)
	case ResetUnixSeconds:
		sec, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(sec, 0), nil
	case ResetUnixMilliseconds:
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms), nil
	default:
		ns, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ns), nil
	}
}
