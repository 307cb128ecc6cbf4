package bus

import (
	"errors"
	"testing"
)

func TestEmit_IgnoresListenerErrors(t *testing.T) {
	n := New()
	calls := 0
	n.On("ping", nil, func(args ...any) (any, error) {
		calls++
		return nil, errors.New("boom")
	})
	n.On("ping", nil, func(args ...any) (any, error) {
		calls++
		return nil, nil
	})
	n.Emit("ping")
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestSettle_ContinuesPastFailures(t *testing.T) {
	n := New()
	var order []int
	n.On("x", nil, func(args ...any) (any, error) {
		order = append(order, 1)
		return nil, errors.New("first fails")
	})
	n.On("x", nil, func(args ...any) (any, error) {
		order = append(order, 2)
		return nil, nil
	})
	n.Settle("x")
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v, want [1 2]", order)
	}
}

func TestSeries_AbortsOnFirstFailure(t *testing.T) {
	n := New()
	wantErr := errors.New("veto")
	var secondCalled bool
	n.On("x", nil, func(args ...any) (any, error) {
		return nil, wantErr
	})
	n.On("x", nil, func(args ...any) (any, error) {
		secondCalled = true
		return nil, nil
	})
	err := n.Series("x")
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if secondCalled {
		t.Errorf("second listener ran after first failed in series")
	}
}

func TestResolve_FirstTruthyWins(t *testing.T) {
	n := New()
	n.On("x", nil, func(args ...any) (any, error) {
		return nil, nil
	})
	n.On("x", nil, func(args ...any) (any, error) {
		return "winner", nil
	})
	n.On("x", nil, func(args ...any) (any, error) {
		t.Error("third listener should not run after resolve")
		return "loser", nil
	})
	v, err := n.Resolve("x")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v != "winner" {
		t.Fatalf("v = %v, want winner", v)
	}
}

func TestResolve_NoneTruthyRejects(t *testing.T) {
	n := New()
	n.On("x", nil, func(args ...any) (any, error) { return nil, nil })
	if _, err := n.Resolve("x"); err == nil {
		t.Fatal("expected error when no listener produces a value")
	}
}

func TestOne_AutoDeregisters(t *testing.T) {
	n := New()
	calls := 0
	n.One("x", nil, func(args ...any) (any, error) {
		calls++
		return nil, nil
	})
	n.Emit("x")
	n.Emit("x")
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestOff_RemovesByReceiver(t *testing.T) {
	n := New()
	type receiverA struct{}
	type receiverB struct{}
	a, b := &receiverA{}, &receiverB{}
	var aCalled, bCalled bool
	n.On("x", a, func(args ...any) (any, error) { aCalled = true; return nil, nil })
	n.On("x", b, func(args ...any) (any, error) { bCalled = true; return nil, nil })
	n.Off("x", a)
	n.Emit("x")
	if aCalled {
		t.Error("listener bound to a fired after Off(x, a)")
	}
	if !bCalled {
		t.Error("listener bound to b did not fire")
	}
}

func TestOn_WhitespaceAliasesRegisterBothNames(t *testing.T) {
	n := New()
	calls := map[string]int{}
	n.On("beforeUpdate update", nil, func(args ...any) (any, error) {
		calls["x"]++
		return nil, nil
	})
	n.Emit("beforeUpdate")
	n.Emit("update")
	if calls["x"] != 2 {
		t.Fatalf("calls = %d, want 2", calls["x"])
	}
}
