package utils

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FormatDuration formats a millisecond count as "1h23m45s", "5m30s", "45s".
func FormatDuration(ms int64) string {
	seconds := ms / 1000
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, secs)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, secs)
	}
	return fmt.Sprintf("%ds", secs)
}

func FormatDurationFromTime(d time.Duration) string {
	return FormatDuration(d.Milliseconds())
}

// Sleep pauses for ms milliseconds, or returns early with ctx.Err() if
// ctx is canceled first. Used so CacheFirst's blocking wait respects the
// per-request deadline.
func Sleep(ctx context.Context, ms int64) error {
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GenerateJitter returns a value in [-maxJitterMs/2, +maxJitterMs/2).
func GenerateJitter(maxJitterMs int64) int64 {
	return int64(rand.Float64()*float64(maxJitterMs)) - (maxJitterMs / 2)
}

func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func MaxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func Clamp(value, min, max int64) int64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func ClampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// GetHomeDir returns the user's home directory, or "" if it cannot be
// determined.
func GetHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

func EnsureParentDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsNetworkError reports whether err looks like a transient transport
// failure (as opposed to an application-level rejection).
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "broken pipe")
}

func NowMs() int64 {
	return time.Now().UnixMilli()
}

// CoalesceString returns the first non-empty string.
func CoalesceString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func ContainsAny(s string, substrs ...string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// MaskEmail masks an email's local part for logging, e.g. "j***@example.com".
func MaskEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***"
	}
	local := parts[0]
	if len(local) <= 1 {
		return local + "***@" + parts[1]
	}
	return string(local[0]) + "***@" + parts[1]
}

func init() {
	rand.Seed(time.Now().UnixNano())
}
