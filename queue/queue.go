package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/legaultmarc/ocypod"
)

// MaxNameLength bounds queue names; longer names are rejected.
const MaxNameLength = 128

// Settings is a queue's configuration. New jobs snapshot these values
// at enqueue time.
type Settings struct {
	// Timeout is the maximum total runtime of a claimed job before
	// the monitor treats it as dead.
	Timeout ocypod.Duration `json:"timeout" yaml:"timeout"`

	// HeartbeatTimeout is how long a running job may go without a
	// heartbeat before the monitor treats its worker as dead. Zero
	// disables heartbeat checking; Timeout alone then applies.
	HeartbeatTimeout ocypod.Duration `json:"heartbeat_timeout" yaml:"heartbeat_timeout"`

	// ExpiresAfter is how long after a job ends it is kept before the
	// monitor reaps it. Zero keeps ended jobs forever.
	ExpiresAfter ocypod.Duration `json:"expires_after" yaml:"expires_after"`

	// Retries is the number of times a job may be re-queued after a
	// timeout or an explicit failure.
	Retries int `json:"retries" yaml:"retries"`

	// RetryDelays delays each retry attempt. Empty means immediate;
	// a single entry applies to every attempt; otherwise the list is
	// indexed per attempt.
	RetryDelays []ocypod.Duration `json:"retry_delays,omitempty" yaml:"retry_delays"`
}

// DefaultSettings returns the settings applied when a queue is created
// with an empty body.
func DefaultSettings() Settings {
	return Settings{
		Timeout:          ocypod.Duration(30 * time.Minute),
		HeartbeatTimeout: ocypod.Duration(time.Hour),
		ExpiresAfter:     ocypod.Duration(5 * time.Minute),
	}
}

// Validate checks the settings. All failures wrap
// ocypod.ErrInvalidSettings.
func (s Settings) Validate() error {
	if s.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ocypod.ErrInvalidSettings)
	}
	if s.HeartbeatTimeout < 0 {
		return fmt.Errorf("%w: heartbeat_timeout must not be negative", ocypod.ErrInvalidSettings)
	}
	if s.ExpiresAfter < 0 {
		return fmt.Errorf("%w: expires_after must not be negative", ocypod.ErrInvalidSettings)
	}
	if s.Retries < 0 {
		return fmt.Errorf("%w: retries must not be negative", ocypod.ErrInvalidSettings)
	}
	for i, d := range s.RetryDelays {
		if d < 0 {
			return fmt.Errorf("%w: retry_delays[%d] must not be negative", ocypod.ErrInvalidSettings, i)
		}
	}
	if n := len(s.RetryDelays); n > 1 && n < s.Retries {
		return fmt.Errorf("%w: retry_delays must be empty, a single delay, or one delay per retry", ocypod.ErrInvalidSettings)
	}
	return nil
}

// ValidName reports whether name is usable as a queue name. Names are
// key components in the storage layout, so the delimiter and
// whitespace are rejected.
func ValidName(name string) bool {
	if name == "" || len(name) > MaxNameLength {
		return false
	}
	if strings.ContainsAny(name, ": \t\n") {
		return false
	}
	return true
}
