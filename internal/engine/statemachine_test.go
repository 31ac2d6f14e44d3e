package engine

import (
	"errors"
	"testing"

	"github.com/mtelegin/herald/internal/campaign"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to campaign.Status
		ok       bool
	}{
		{campaign.StatusDraft, campaign.StatusScheduled, true},
		{campaign.StatusDraft, campaign.StatusQueued, true},
		{campaign.StatusDraft, campaign.StatusRunning, false},
		{campaign.StatusScheduled, campaign.StatusQueued, true},
		{campaign.StatusScheduled, campaign.StatusDraft, true},
		{campaign.StatusScheduled, campaign.StatusRunning, false},
		{campaign.StatusQueued, campaign.StatusRunning, true},
		{campaign.StatusQueued, campaign.StatusPaused, false},
		{campaign.StatusRunning, campaign.StatusPaused, true},
		{campaign.StatusRunning, campaign.StatusCompleted, true},
		{campaign.StatusRunning, campaign.StatusError, true},
		{campaign.StatusRunning, campaign.StatusCancelled, true},
		{campaign.StatusRunning, campaign.StatusScheduled, false},
		{campaign.StatusPaused, campaign.StatusRunning, true},
		{campaign.StatusPaused, campaign.StatusCancelled, true},
		{campaign.StatusPaused, campaign.StatusCompleted, false},
		{campaign.StatusError, campaign.StatusRunning, true},
		{campaign.StatusError, campaign.StatusCancelled, true},
		{campaign.StatusCompleted, campaign.StatusScheduled, true},
		{campaign.StatusCompleted, campaign.StatusRunning, false},
		{campaign.StatusCancelled, campaign.StatusRunning, false},
		{campaign.StatusCancelled, campaign.StatusScheduled, false},
		{campaign.StatusCancelled, campaign.StatusQueued, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestCheckTransitionError(t *testing.T) {
	err := checkTransition(campaign.StatusCancelled, campaign.StatusRunning)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("error = %v, want InvalidTransitionError", err)
	}
	if ite.From != campaign.StatusCancelled || ite.To != campaign.StatusRunning {
		t.Errorf("error carries %s -> %s", ite.From, ite.To)
	}
}
