package service

import (
	"time"

	"wordware-roast-be/internal/entity"
)

// Tier selects the prompt and the status columns a run works with. It is
// picked once per request so the rest of the flow is tier-agnostic.
type Tier struct {
	Name             string
	PromptID         string
	StartedField     string
	CompletedField   string
	StartedTimeField string

	started   func(u *entity.User) bool
	completed func(u *entity.User) bool
}

func NewFreeTier(promptID string) Tier {
	return Tier{
		Name:             "free",
		PromptID:         promptID,
		StartedField:     "wordware_started",
		CompletedField:   "wordware_completed",
		StartedTimeField: "wordware_started_time",
		started:          func(u *entity.User) bool { return u.WordwareStarted },
		completed:        func(u *entity.User) bool { return u.WordwareCompleted },
	}
}

func NewPaidTier(promptID string) Tier {
	return Tier{
		Name:             "paid",
		PromptID:         promptID,
		StartedField:     "paid_wordware_started",
		CompletedField:   "paid_wordware_completed",
		StartedTimeField: "paid_wordware_started_time",
		started:          func(u *entity.User) bool { return u.PaidWordwareStarted },
		completed:        func(u *entity.User) bool { return u.PaidWordwareCompleted },
	}
}

func (t Tier) Started(u *entity.User) bool   { return t.started(u) }
func (t Tier) Completed(u *entity.User) bool { return t.completed(u) }

// InProgress is the dedup guard: a run must not start when the tier already
// completed, or when it started and the account is younger than grace.
func (t Tier) InProgress(u *entity.User, now time.Time, grace time.Duration) bool {
	if t.Completed(u) {
		return true
	}
	return t.Started(u) && now.Sub(u.CreatedAt) < grace
}

func (t Tier) startFields(now time.Time) map[string]interface{} {
	return map[string]interface{}{
		t.StartedField:     true,
		t.StartedTimeField: now,
	}
}

func (t Tier) completeFields(analysis map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		t.StartedField:   true,
		t.CompletedField: true,
		"analysis":       analysis,
	}
}

func (t Tier) resetFields() map[string]interface{} {
	return map[string]interface{}{
		t.StartedField:   false,
		t.CompletedField: false,
	}
}
