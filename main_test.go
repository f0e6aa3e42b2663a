package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateTrackFlags(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		step     float64
		wantErr  bool
	}{
		{"defaults", time.Second, 0.02, false},
		{"full leg per tick", 10 * time.Millisecond, 1, false},
		{"zero interval", 0, 0.02, true},
		{"negative interval", -time.Second, 0.02, true},
		{"zero step", time.Second, 0, true},
		{"step above one", time.Second, 1.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTrackFlags(tt.interval, tt.step)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
