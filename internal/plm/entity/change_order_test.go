package entity

import "testing"

func TestCanTransitionChangeOrder(t *testing.T) {
	statuses := []string{
		ChangeOrderStatusDraft,
		ChangeOrderStatusSubmitted,
		ChangeOrderStatusInReview,
		ChangeOrderStatusApproved,
		ChangeOrderStatusRejected,
		ChangeOrderStatusImplemented,
	}

	allowed := map[string]map[string]bool{
		ChangeOrderStatusDraft: {
			ChangeOrderStatusSubmitted: true,
			ChangeOrderStatusRejected:  true,
		},
		ChangeOrderStatusSubmitted: {
			ChangeOrderStatusInReview: true,
			ChangeOrderStatusRejected: true,
		},
		ChangeOrderStatusInReview: {
			ChangeOrderStatusApproved:  true,
			ChangeOrderStatusRejected:  true,
			ChangeOrderStatusSubmitted: true,
		},
		ChangeOrderStatusApproved: {
			ChangeOrderStatusImplemented: true,
		},
		ChangeOrderStatusRejected: {
			ChangeOrderStatusSubmitted: true,
		},
		ChangeOrderStatusImplemented: {},
	}

	// Exhaustive check over every from/to pair
	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[from][to]
			if got := CanTransitionChangeOrder(from, to); got != want {
				t.Errorf("CanTransitionChangeOrder(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCanTransitionChangeOrderUnknownStatus(t *testing.T) {
	if CanTransitionChangeOrder("bogus", ChangeOrderStatusSubmitted) {
		t.Error("unknown from-status should not transition anywhere")
	}
	if CanTransitionChangeOrder(ChangeOrderStatusDraft, "bogus") {
		t.Error("unknown to-status should never be allowed")
	}
}

func TestCanTransitionPartStatus(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{PartStatusDraft, PartStatusActive, true},
		{PartStatusDraft, PartStatusObsolete, true},
		{PartStatusActive, PartStatusObsolete, true},
		{PartStatusActive, PartStatusDraft, false},
		{PartStatusObsolete, PartStatusActive, false},
		{PartStatusObsolete, PartStatusDraft, false},
	}
	for _, c := range cases {
		if got := CanTransitionPartStatus(c.from, c.to); got != c.want {
			t.Errorf("CanTransitionPartStatus(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsValidChangeOrderType(t *testing.T) {
	if !IsValidChangeOrderType(ChangeOrderTypeECR) || !IsValidChangeOrderType(ChangeOrderTypeECN) {
		t.Error("ECR and ECN are the only valid types")
	}
	if IsValidChangeOrderType("ecr") || IsValidChangeOrderType("") {
		t.Error("type check is case sensitive and rejects empty")
	}
}
