package queue_test

import (
	"errors"
	"testing"
	"time"

	"github.com/legaultmarc/ocypod"
	"github.com/legaultmarc/ocypod/queue"
)

func validSettings() queue.Settings {
	return queue.Settings{
		Timeout:          ocypod.Duration(10 * time.Minute),
		HeartbeatTimeout: ocypod.Duration(30 * time.Second),
		ExpiresAfter:     ocypod.Duration(time.Hour),
		Retries:          3,
	}
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*queue.Settings)
		wantOK bool
	}{
		{"defaults are valid", func(s *queue.Settings) { *s = queue.DefaultSettings() }, true},
		{"valid with per-attempt delays", func(s *queue.Settings) {
			s.RetryDelays = []ocypod.Duration{
				ocypod.Duration(time.Second),
				ocypod.Duration(10 * time.Second),
				ocypod.Duration(time.Minute),
			}
		}, true},
		{"valid with single delay", func(s *queue.Settings) {
			s.RetryDelays = []ocypod.Duration{ocypod.Duration(time.Second)}
		}, true},
		{"zero timeout", func(s *queue.Settings) { s.Timeout = 0 }, false},
		{"negative timeout", func(s *queue.Settings) { s.Timeout = ocypod.Duration(-time.Second) }, false},
		{"zero heartbeat timeout disables checking", func(s *queue.Settings) { s.HeartbeatTimeout = 0 }, true},
		{"negative heartbeat timeout", func(s *queue.Settings) { s.HeartbeatTimeout = ocypod.Duration(-time.Second) }, false},
		{"negative expiry", func(s *queue.Settings) { s.ExpiresAfter = ocypod.Duration(-time.Second) }, false},
		{"zero expiry keeps jobs forever", func(s *queue.Settings) { s.ExpiresAfter = 0 }, true},
		{"negative retries", func(s *queue.Settings) { s.Retries = -1 }, false},
		{"negative delay entry", func(s *queue.Settings) {
			s.RetryDelays = []ocypod.Duration{ocypod.Duration(-time.Second)}
		}, false},
		{"too few delays for retry count", func(s *queue.Settings) {
			s.RetryDelays = []ocypod.Duration{
				ocypod.Duration(time.Second),
				ocypod.Duration(time.Second),
			}
			s.Retries = 5
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantOK && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.wantOK {
				if err == nil {
					t.Fatal("Validate() = nil, want error")
				}
				if !errors.Is(err, ocypod.ErrInvalidSettings) {
					t.Errorf("Validate() error %v is not ErrInvalidSettings", err)
				}
			}
		})
	}
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"build", true},
		{"build-x86_64", true},
		{"a", true},
		{"", false},
		{"with space", false},
		{"with:colon", false},
		{string(make([]byte, queue.MaxNameLength+1)), false},
	}
	for _, tt := range tests {
		if got := queue.ValidName(tt.name); got != tt.want {
			t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
