package backoff

import (
	"testing"
	"time"
)

func TestControllerDoublesTowardCeiling(t *testing.T) {
	c := NewController("account", time.Second, 16*time.Second)

	if got := c.Interval(); got != time.Second {
		t.Fatalf("fresh controller interval mismatch. got=%v want=%v", got, time.Second)
	}
	if c.Limited() {
		t.Fatal("fresh controller must not be limited")
	}

	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		16 * time.Second, // capped
	}
	for i, w := range want {
		got := c.OnRateLimited()
		if got != w {
			t.Fatalf("step %d interval mismatch. got=%v want=%v", i, got, w)
		}
		if c.Interval() != w {
			t.Fatalf("step %d Interval() mismatch. got=%v want=%v", i, c.Interval(), w)
		}
	}
	if !c.Limited() {
		t.Fatal("controller must report limited while backed off")
	}
}

func TestControllerResetsOnSuccess(t *testing.T) {
	c := NewController("trades", 500*time.Millisecond, 8*time.Second)

	c.OnRateLimited()
	c.OnRateLimited()
	if got := c.OnSuccess(); got != 500*time.Millisecond {
		t.Fatalf("OnSuccess interval mismatch. got=%v", got)
	}
	if c.Limited() {
		t.Fatal("controller still limited after success")
	}

	// The doubling sequence restarts from scratch after a reset.
	if got := c.OnRateLimited(); got != time.Second {
		t.Fatalf("post-reset backoff mismatch. got=%v want=%v", got, time.Second)
	}
}

func TestThrottleWindow(t *testing.T) {
	th := NewThrottle(50 * time.Millisecond)

	if !th.Allow() {
		t.Fatal("first attempt must be allowed")
	}
	if th.Allow() {
		t.Fatal("second attempt inside window must be denied")
	}

	time.Sleep(60 * time.Millisecond)
	if !th.Allow() {
		t.Fatal("attempt after window must be allowed")
	}

	th.Reset()
	if !th.Allow() {
		t.Fatal("attempt after reset must be allowed")
	}
}
