package distributed

import (
	"os"
	"time"

	"github.com/google/uuid"
)

// generateInstanceID builds an identity for this process in the shared
// instance set.
func generateInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "bot"
	}
	return hostname + "-" + uuid.NewString()
}

// redisKeys derives the key names used for one shared bucket.
func redisKeys(prefix string) map[string]string {
	return map[string]string{
		"state":     prefix + ":state",
		"stats":     prefix + ":stats",
		"instances": prefix + ":instances",
	}
}

// timeToFloat converts a time to unix seconds for Redis storage.
func timeToFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// floatToTime converts unix seconds back to a time.
func floatToTime(f float64) time.Time {
	return time.Unix(0, int64(f*1e9))
}
