package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimbusdata/syncengine/internal/coordinator"
	"github.com/nimbusdata/syncengine/internal/model"
	"github.com/nimbusdata/syncengine/internal/source"
)

type stubHooks struct {
	mu             sync.Mutex
	transformCalls int
	updateResult   any
	updateErr      error
}

func (h *stubHooks) DoTransform(ctx context.Context, t model.Transform) ([]model.Transform, error) {
	h.mu.Lock()
	h.transformCalls++
	h.mu.Unlock()
	return []model.Transform{t}, nil
}

func (h *stubHooks) DoUpdate(ctx context.Context, t model.Transform) (any, error) {
	return t, nil
}
func (h *stubHooks) DoQuery(ctx context.Context, q any) (any, error) { return nil, nil }
func (h *stubHooks) DoFetch(ctx context.Context, q any) (any, error) { return nil, nil }

func (h *stubHooks) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transformCalls
}

type recordingTarget struct {
	mu           sync.Mutex
	transforms   []model.Transform
	updateResult any
	updateErr    error
}

func (r *recordingTarget) Transform(ctx context.Context, t model.Transform) ([]model.Transform, error) {
	r.mu.Lock()
	r.transforms = append(r.transforms, t)
	r.mu.Unlock()
	return []model.Transform{t}, nil
}

func (r *recordingTarget) Update(ctx context.Context, t model.Transform) (any, error) {
	return r.updateResult, r.updateErr
}

func (r *recordingTarget) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transforms)
}

func TestSyncStrategy_BlockingForwardsBeforeReturn(t *testing.T) {
	hooks := &stubHooks{}
	src := source.New("store", hooks, 0, 0)
	target := &recordingTarget{}

	coord := coordinator.New()
	coord.AddNode("store-node", src)
	coord.AddNode("backup-node", target)

	strat := NewSyncStrategy(SyncConfig{SourceNode: "store-node", TargetNode: "backup-node", Blocking: true})
	if err := strat.Activate(coord); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	tr := model.NewTransform(model.AddRecord(model.Record{Type: "planet", ID: "pluto"}))
	if _, err := src.Transform(context.Background(), tr); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	if target.count() != 1 {
		t.Fatalf("backup received %d transforms, want 1 (blocking sync must complete inline)", target.count())
	}
}

func TestSyncStrategy_NonBlockingEventuallyForwards(t *testing.T) {
	hooks := &stubHooks{}
	src := source.New("store", hooks, 0, 0)
	target := &recordingTarget{}

	coord := coordinator.New()
	coord.AddNode("store-node", src)
	coord.AddNode("backup-node", target)

	strat := NewSyncStrategy(SyncConfig{SourceNode: "store-node", TargetNode: "backup-node", Blocking: false})
	if err := strat.Activate(coord); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	tr := model.NewTransform(model.AddRecord(model.Record{Type: "planet", ID: "pluto"}))
	if _, err := src.Transform(context.Background(), tr); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if target.count() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("non-blocking sync never reached backup")
}

func TestSyncStrategy_Deactivate_StopsForwarding(t *testing.T) {
	hooks := &stubHooks{}
	src := source.New("store", hooks, 0, 0)
	target := &recordingTarget{}

	coord := coordinator.New()
	coord.AddNode("store-node", src)
	coord.AddNode("backup-node", target)

	strat := NewSyncStrategy(SyncConfig{SourceNode: "store-node", TargetNode: "backup-node", Blocking: true})
	if err := strat.Activate(coord); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	strat.Deactivate()

	tr := model.NewTransform(model.AddRecord(model.Record{Type: "planet", ID: "pluto"}))
	if _, err := src.Transform(context.Background(), tr); err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if target.count() != 0 {
		t.Fatalf("backup received a transform after Deactivate")
	}
}

func TestRequestStrategy_BlockingSyncsResultsBack(t *testing.T) {
	hooks := &stubHooks{}
	src := source.New("store", hooks, 0, 0)

	resultTransform := model.NewTransform(model.AddRecord(model.Record{Type: "planet", ID: "pluto", Attributes: map[string]any{"name": "Pluto"}}))
	target := &recordingTarget{updateResult: []model.Transform{resultTransform}}

	coord := coordinator.New()
	coord.AddNode("store-node", src)
	coord.AddNode("upstream-node", target)

	strat := NewRequestStrategy(RequestConfig{
		SourceNode: "store-node", TargetNode: "upstream-node",
		SourceEvent: EventBeforeUpdate, TargetRequest: RequestUpdate,
		Blocking: true, SyncResults: true,
	})
	if err := strat.Activate(coord); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	original := model.NewTransform(model.AddRecord(model.Record{Type: "planet", ID: "pluto"}))
	if _, err := src.Update(context.Background(), original); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if hooks.calls() != 1 {
		t.Fatalf("DoTransform called %d times, want 1 (syncResults forwards the upstream result back)", hooks.calls())
	}
}

func TestRequestStrategy_BlockingPropagatesTargetError(t *testing.T) {
	hooks := &stubHooks{}
	src := source.New("store", hooks, 0, 0)
	wantErr := errors.New("upstream rejected")
	target := &recordingTarget{updateErr: wantErr}

	coord := coordinator.New()
	coord.AddNode("store-node", src)
	coord.AddNode("upstream-node", target)

	strat := NewRequestStrategy(RequestConfig{
		SourceNode: "store-node", TargetNode: "upstream-node",
		SourceEvent: EventBeforeUpdate, TargetRequest: RequestUpdate,
		Blocking: true,
	})
	if err := strat.Activate(coord); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	tr := model.NewTransform(model.AddRecord(model.Record{Type: "planet", ID: "pluto"}))
	_, err := src.Update(context.Background(), tr)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Update err = %v, want %v (series veto propagates)", err, wantErr)
	}
}
