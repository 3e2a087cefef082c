// internal/service/ads/domain/interaction_test.go
package domain

import (
	"errors"
	"testing"
)

func TestInteractionValidate(t *testing.T) {
	t.Parallel()

	base := func() InteractionEvent {
		return InteractionEvent{
			UserID:   "u1",
			ItemID:   "ad-7",
			ItemType: ItemTypeAd,
			Type:     InteractionClick,
		}
	}

	t.Run("valid event passes", func(t *testing.T) {
		e := base()
		if err := e.Validate(); err != nil {
			t.Fatalf("unexpected validation error: %v", err)
		}
	})

	t.Run("missing interaction type", func(t *testing.T) {
		e := base()
		e.Type = ""
		err := e.Validate()
		if err == nil {
			t.Fatalf("expected validation error")
		}
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "interaction_type" {
			t.Fatalf("expected field-level error on interaction_type, got %v", err)
		}
	})

	t.Run("unknown interaction type", func(t *testing.T) {
		e := base()
		e.Type = "teleport"
		if err := e.Validate(); err == nil {
			t.Fatalf("unknown type must be rejected")
		}
	})

	t.Run("missing item id", func(t *testing.T) {
		e := base()
		e.ItemID = ""
		if err := e.Validate(); err == nil {
			t.Fatalf("expected validation error")
		}
	})

	t.Run("negative numerics are floored", func(t *testing.T) {
		e := base()
		e.Duration = -3.5
		e.Position = -2
		if err := e.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if e.Duration != 0 || e.Position != 0 {
			t.Fatalf("negative duration/position should floor to 0, got %v/%d", e.Duration, e.Position)
		}
	})
}

func TestRewardMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		interaction InteractionType
		reward      float64
	}{
		{InteractionView, 0.1},
		{InteractionClick, 1.0},
		{InteractionLike, 0.8},
		{InteractionShare, 1.5},
		{InteractionComment, 1.2},
		{InteractionConversion, 5.0},
		{InteractionSkip, -0.1},
		{InteractionType("unknown"), 0},
	}
	for _, c := range cases {
		if got := RewardFor(c.interaction); got != c.reward {
			t.Fatalf("reward for %s: expected %v, got %v", c.interaction, c.reward, got)
		}
	}
}

func TestIsEngagement(t *testing.T) {
	t.Parallel()

	if !InteractionClick.IsEngagement() || !InteractionConversion.IsEngagement() {
		t.Fatalf("click and conversion drive feature updates")
	}
	if InteractionView.IsEngagement() || InteractionSkip.IsEngagement() {
		t.Fatalf("view and skip must not drive feature updates")
	}
}
