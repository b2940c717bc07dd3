package chess

import (
	"testing"
	"time"
)

func TestParseTimeControl(t *testing.T) {
	tc, err := ParseTimeControl("40/60+0.6")
	if err != nil {
		t.Fatalf("ParseTimeControl: %v", err)
	}
	if tc.MovesPerTC != 40 || tc.TimePerTC != 60*time.Second || tc.Increment != 600*time.Millisecond {
		t.Fatalf("unexpected fields: %+v", tc)
	}
	if got := tc.String(); got != "40/60+0.6" {
		t.Fatalf("String() = %q", got)
	}

	tc, err = ParseTimeControl("300")
	if err != nil {
		t.Fatalf("ParseTimeControl: %v", err)
	}
	if tc.TimePerTC != 300*time.Second || tc.Increment != 0 || tc.MovesPerTC != 0 {
		t.Fatalf("unexpected fields: %+v", tc)
	}
	if got := tc.String(); got != "300" {
		t.Fatalf("String() = %q", got)
	}

	tc, err = ParseTimeControl("inf")
	if err != nil {
		t.Fatalf("ParseTimeControl: %v", err)
	}
	if !tc.Infinite || !tc.Valid() || tc.String() != "inf" {
		t.Fatalf("infinite control mishandled: %+v", tc)
	}
}

func TestParseTimeControlRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "abc", "0", "-5", "x/60", "0/60", "60+-1"} {
		if _, err := ParseTimeControl(s); err == nil {
			t.Fatalf("ParseTimeControl(%q) accepted", s)
		}
	}
}

func TestTimeControlValid(t *testing.T) {
	var nilTC *TimeControl
	if nilTC.Valid() {
		t.Fatalf("nil control reported valid")
	}
	if (&TimeControl{}).Valid() {
		t.Fatalf("zero control reported valid")
	}
	if !FixedTimeControl(time.Second).Valid() {
		t.Fatalf("per-move control reported invalid")
	}
}

func TestFixedTimeControlExpiry(t *testing.T) {
	tc := FixedTimeControl(5 * time.Second)
	tc.Reset()
	if tc.TimeLeft() != 5*time.Second {
		t.Fatalf("TimeLeft after reset = %v", tc.TimeLeft())
	}
	tc.Update(6 * time.Second)
	if !tc.Expired() {
		t.Fatalf("overlong move not flagged")
	}
	// The budget refreshes on every move.
	tc.Update(time.Second)
	if tc.Expired() || tc.TimeLeft() != 4*time.Second {
		t.Fatalf("budget did not refresh: left=%v expired=%v", tc.TimeLeft(), tc.Expired())
	}
	if got := tc.String(); got != "5/move" {
		t.Fatalf("String() = %q", got)
	}
}

func TestSessionTimeControlRollover(t *testing.T) {
	tc, err := ParseTimeControl("2/10+1")
	if err != nil {
		t.Fatalf("ParseTimeControl: %v", err)
	}
	tc.Reset()
	if tc.TimeLeft() != 10*time.Second || tc.MovesLeft() != 2 {
		t.Fatalf("reset state: left=%v moves=%d", tc.TimeLeft(), tc.MovesLeft())
	}
	tc.Update(3 * time.Second)
	if tc.TimeLeft() != 8*time.Second || tc.MovesLeft() != 1 {
		t.Fatalf("after move 1: left=%v moves=%d", tc.TimeLeft(), tc.MovesLeft())
	}
	tc.Update(2 * time.Second)
	if tc.TimeLeft() != 17*time.Second || tc.MovesLeft() != 2 {
		t.Fatalf("after rollover: left=%v moves=%d", tc.TimeLeft(), tc.MovesLeft())
	}
	if tc.Expired() {
		t.Fatalf("healthy clock reported expired")
	}
}

func TestInfiniteTimeControlNeverExpires(t *testing.T) {
	tc, err := ParseTimeControl("infinite")
	if err != nil {
		t.Fatalf("ParseTimeControl: %v", err)
	}
	tc.Reset()
	tc.Update(time.Hour)
	if tc.Expired() {
		t.Fatalf("infinite clock expired")
	}
}
