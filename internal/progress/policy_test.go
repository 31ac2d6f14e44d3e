package progress

import (
	"testing"
	"time"

	"github.com/mtelegin/herald/internal/campaign"
)

func failure(profile string, i int) campaign.OutcomeEvent {
	return campaign.OutcomeEvent{
		ProfileID: profile,
		ContactID: "c" + string(rune('0'+i)),
		Result:    campaign.ResultFailed,
		At:        time.Date(2025, 6, 16, 10, 0, i, 0, time.UTC),
	}
}

func success(profile string, i int) campaign.OutcomeEvent {
	ev := failure(profile, i)
	ev.Result = campaign.ResultSuccess
	return ev
}

func TestConsecutiveErrorsPausesOnce(t *testing.T) {
	p := NewPolicy(campaign.OptionsConfig{StopOnConsecutiveErrors: 3})

	if d := p.Observe(failure("p1", 1)); d != nil {
		t.Fatal("should not trip after 1 failure")
	}
	if d := p.Observe(failure("p1", 2)); d != nil {
		t.Fatal("should not trip after 2 failures")
	}

	d := p.Observe(failure("p1", 3))
	if d == nil {
		t.Fatal("should trip after 3 consecutive failures")
	}
	if d.Reason != ReasonConsecutiveErrors {
		t.Errorf("expected reason %q, got %q", ReasonConsecutiveErrors, d.Reason)
	}
	if d.ProfileID != "p1" {
		t.Errorf("expected profile p1, got %q", d.ProfileID)
	}

	// Further failures while tripped must not fire again
	if d := p.Observe(failure("p1", 4)); d != nil {
		t.Error("tripped policy fired twice")
	}
}

func TestSuccessResetsStreak(t *testing.T) {
	p := NewPolicy(campaign.OptionsConfig{StopOnConsecutiveErrors: 3})

	p.Observe(failure("p1", 1))
	p.Observe(failure("p1", 2))
	p.Observe(success("p1", 3))
	if d := p.Observe(failure("p1", 4)); d != nil {
		t.Error("streak should have been reset by the success")
	}
	p.Observe(failure("p1", 5))
	if d := p.Observe(failure("p1", 6)); d == nil {
		t.Error("fresh streak of 3 should trip")
	}
}

func TestStreaksArePerProfile(t *testing.T) {
	p := NewPolicy(campaign.OptionsConfig{StopOnConsecutiveErrors: 3})

	p.Observe(failure("p1", 1))
	p.Observe(failure("p2", 2))
	p.Observe(failure("p1", 3))
	if d := p.Observe(failure("p2", 4)); d != nil {
		t.Error("interleaved failures across profiles must not trip")
	}
}

func TestFailureThreshold(t *testing.T) {
	p := NewPolicy(campaign.OptionsConfig{StopOnErrorThreshold: 4})

	p.Observe(failure("p1", 1))
	p.Observe(success("p1", 2))
	p.Observe(failure("p2", 3))
	p.Observe(failure("p1", 4))

	d := p.Observe(failure("p2", 5))
	if d == nil {
		t.Fatal("cumulative threshold should trip")
	}
	if d.Reason != ReasonFailureThreshold {
		t.Errorf("expected reason %q, got %q", ReasonFailureThreshold, d.Reason)
	}
}

func TestDisabledThresholds(t *testing.T) {
	p := NewPolicy(campaign.OptionsConfig{})

	for i := 0; i < 50; i++ {
		if d := p.Observe(failure("p1", i)); d != nil {
			t.Fatal("zero thresholds must never trip")
		}
	}
}
