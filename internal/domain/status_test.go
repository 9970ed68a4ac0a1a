package domain

import (
	"encoding/json"
	"testing"
)

func TestTransitionRelation(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{Available(), ClaimedTaken()},
		{ClaimedTaken(), ClaimedOngoing()},
		{ClaimedTaken(), Available()},
		{ClaimedTaken(), Completed()},
		{ClaimedOngoing(), ClaimedTaken()},
		{ClaimedOngoing(), Available()},
		{ClaimedOngoing(), Completed()},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from.State(), tc.to.State())
		}
	}
	forbidden := []struct{ from, to Status }{
		{Available(), ClaimedOngoing()},
		{Available(), Completed()},
		{Completed(), Available()},
		{Completed(), ClaimedTaken()},
		{Completed(), ClaimedOngoing()},
		{Available(), Available()},
		{ClaimedTaken(), ClaimedTaken()},
	}
	for _, tc := range forbidden {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be forbidden", tc.from.State(), tc.to.State())
		}
	}
}

func TestStatusStateNames(t *testing.T) {
	cases := map[string]Status{
		"available": Available(),
		"taken":     ClaimedTaken(),
		"ongoing":   ClaimedOngoing(),
		"completed": Completed(),
	}
	for name, st := range cases {
		if st.State() != name {
			t.Errorf("State() = %s, want %s", st.State(), name)
		}
		parsed, err := StatusFromState(name)
		if err != nil {
			t.Errorf("StatusFromState(%s): %v", name, err)
		}
		if parsed != st {
			t.Errorf("StatusFromState(%s) = %+v, want %+v", name, parsed, st)
		}
		if !st.Valid() {
			t.Errorf("%s reported invalid", name)
		}
	}
	if _, err := StatusFromState("claimed"); err == nil {
		t.Error("kind name is not a flat state")
	}
}

func TestStatusValid(t *testing.T) {
	bad := []Status{
		{},
		{Kind: StatusAvailable, Phase: PhaseTaken},
		{Kind: StatusCompleted, Phase: PhaseOngoing},
		{Kind: StatusClaimed},
		{Kind: "archived"},
	}
	for _, st := range bad {
		if st.Valid() {
			t.Errorf("%+v reported valid", st)
		}
	}
}

func TestStatusJSONRoundTrip(t *testing.T) {
	b, err := json.Marshal(ClaimedOngoing())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"ongoing"` {
		t.Fatalf("marshal = %s", b)
	}
	var st Status
	if err := json.Unmarshal([]byte(`"taken"`), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st != ClaimedTaken() {
		t.Fatalf("unmarshal = %+v", st)
	}
	if err := json.Unmarshal([]byte(`"paused"`), &st); err == nil {
		t.Fatal("unknown state accepted")
	}
}

func TestCardTransitionRelation(t *testing.T) {
	allowed := [][2]string{
		{"open", "in_review"},
		{"open", "done"},
		{"open", "archived"},
		{"in_review", "open"},
		{"in_review", "done"},
		{"in_review", "archived"},
		{"done", "archived"},
	}
	for _, tc := range allowed {
		if !CanTransitionCard(tc[0], tc[1]) {
			t.Errorf("%s -> %s should be allowed", tc[0], tc[1])
		}
	}
	forbidden := [][2]string{
		{"done", "open"},
		{"done", "in_review"},
		{"archived", "open"},
		{"archived", "done"},
		{"open", "open"},
	}
	for _, tc := range forbidden {
		if CanTransitionCard(tc[0], tc[1]) {
			t.Errorf("%s -> %s should be forbidden", tc[0], tc[1])
		}
	}
}
