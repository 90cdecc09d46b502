package models

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func legsWith(statuses ...LegStatus) []CrossChainLeg {
	legs := make([]CrossChainLeg, len(statuses))
	for i, s := range statuses {
		legs[i] = CrossChainLeg{LegIndex: i, Status: s}
	}
	return legs
}

func TestDeriveJobStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []LegStatus
		want     JobStatus
	}{
		{"all completed", []LegStatus{LegStatusCompleted, LegStatusCompleted}, JobStatusCompleted},
		{"all pending keeps current", []LegStatus{LegStatusPending, LegStatusPending}, JobStatusConfirmed},
		{"one executing", []LegStatus{LegStatusExecuting, LegStatusPending}, JobStatusExecuting},
		{"one submitted", []LegStatus{LegStatusSubmitted, LegStatusPending}, JobStatusExecuting},
		{"completed then pending", []LegStatus{LegStatusCompleted, LegStatusPending}, JobStatusExecuting},
		{"failed only", []LegStatus{LegStatusFailed, LegStatusPending}, JobStatusFailed},
		{"mixed outcome", []LegStatus{LegStatusCompleted, LegStatusFailed}, JobStatusPartiallyFailed},
		{"failed after progress", []LegStatus{LegStatusCompleted, LegStatusCompleted, LegStatusFailed}, JobStatusPartiallyFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveJobStatus(JobStatusConfirmed, legsWith(tt.statuses...))
			assert.Equal(t, tt.want, got)
		})
	}
}

// Property over random leg combinations: completed iff every leg
// completed, partially_failed iff legs contain both a completed and a
// failed leg.
func TestDeriveJobStatusProperty(t *testing.T) {
	all := []LegStatus{LegStatusPending, LegStatusExecuting, LegStatusSubmitted, LegStatusCompleted, LegStatusFailed}
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 500; trial++ {
		n := 1 + rng.Intn(5)
		legs := make([]CrossChainLeg, n)
		var completed, failed int
		for i := range legs {
			legs[i].Status = all[rng.Intn(len(all))]
			switch legs[i].Status {
			case LegStatusCompleted:
				completed++
			case LegStatusFailed:
				failed++
			}
		}

		got := DeriveJobStatus(JobStatusConfirmed, legs)
		assert.Equal(t, completed == n, got == JobStatusCompleted, "legs %v", legs)
		assert.Equal(t, completed > 0 && failed > 0, got == JobStatusPartiallyFailed, "legs %v", legs)
		if failed > 0 && completed == 0 {
			assert.Equal(t, JobStatusFailed, got, "legs %v", legs)
		}
	}
}

func TestDeriveCurrentLeg(t *testing.T) {
	assert.Equal(t, 0, DeriveCurrentLeg(legsWith(LegStatusPending, LegStatusPending)))
	assert.Equal(t, 1, DeriveCurrentLeg(legsWith(LegStatusCompleted, LegStatusExecuting)))
	assert.Equal(t, 2, DeriveCurrentLeg(legsWith(LegStatusCompleted, LegStatusCompleted)))
	// Failed legs do not advance the pointer.
	assert.Equal(t, 1, DeriveCurrentLeg(legsWith(LegStatusCompleted, LegStatusFailed, LegStatusPending)))
}

func TestJobStatusCancellable(t *testing.T) {
	assert.True(t, JobStatusPending.Cancellable())
	assert.True(t, JobStatusQuoted.Cancellable())
	assert.True(t, JobStatusConfirmed.Cancellable())
	assert.False(t, JobStatusExecuting.Cancellable())
	assert.False(t, JobStatusCompleted.Cancellable())
	assert.False(t, JobStatusCancelled.Cancellable())
}
