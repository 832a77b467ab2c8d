package model

import "testing"

func TestItemStatus_Valid(t *testing.T) {
	t.Parallel()

	for _, s := range []ItemStatus{ItemPending, ItemInProgress, ItemCompleted, ItemCancelled} {
		if !s.Valid() {
			t.Fatalf("%q should be valid", s)
		}
	}
	for _, s := range []ItemStatus{"", "done", "PENDING"} {
		if s.Valid() {
			t.Fatalf("%q should be invalid", s)
		}
	}
}
