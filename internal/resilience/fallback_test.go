package resilience

import (
	"errors"
	"testing"
	"time"
)

func newStringGroup(maxFailures int) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestExecuteWithResult_PrimarySuccess(t *testing.T) {
	result, err := ExecuteWithResult(newStringGroup(3), func(v string) (string, error) {
		return "from-" + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "from-primary" {
		t.Fatalf("result = %q, want from-primary", result)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	result, err := ExecuteWithResult(newStringGroup(3), func(v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return "from-" + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "from-secondary" {
		t.Fatalf("result = %q, want from-secondary", result)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	_, err := ExecuteWithResult(newStringGroup(3), func(string) (int, error) {
		return 0, errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestExecuteWithResult_SkipsOpenCircuit(t *testing.T) {
	fg := newStringGroup(2)
	for range 2 {
		_, _ = ExecuteWithResult(fg, func(v string) (string, error) {
			if v == "primary" {
				return "", errTest
			}
			return v, nil
		})
	}

	states := fg.States()
	if states["primary"] != StateOpen || states["secondary"] != StateClosed {
		t.Fatalf("states = %v, want primary open, secondary closed", states)
	}

	var called []string
	_, err := ExecuteWithResult(fg, func(v string) (string, error) {
		called = append(called, v)
		return v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "secondary" {
		t.Fatalf("called = %v, want [secondary]", called)
	}
}

func TestExecuteWhere(t *testing.T) {
	fg := newStringGroup(1)

	t.Run("ineligible entries are skipped without tripping breakers", func(t *testing.T) {
		result, err := ExecuteWhere(fg,
			func(v string) bool { return v == "secondary" },
			func(v string) (string, error) { return v, nil })
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != "secondary" {
			t.Fatalf("result = %q, want secondary", result)
		}
		if fg.States()["primary"] != StateClosed {
			t.Fatal("primary breaker must stay closed when skipped")
		}
	})

	t.Run("no eligible entry", func(t *testing.T) {
		_, err := ExecuteWhere(fg,
			func(string) bool { return false },
			func(v string) (string, error) { return v, nil })
		if !errors.Is(err, ErrAllFailed) {
			t.Fatalf("err = %v, want ErrAllFailed", err)
		}
	})
}
