package place

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spnflow/spnflow/internal/ident"
)

func tok(id int64) ident.Token {
	return ident.Token{ID: id}
}

func TestProcess_HappyPath(t *testing.T) {
	p := New("Approve", 5, Deterministic{}, AlwaysTrue{})

	out, err := p.Process(context.Background(), tok(1000000))
	require.NoError(t, err)
	assert.True(t, out.Routed)
	assert.Equal(t, "Approve", out.Annotation.PlaceID)
	assert.Equal(t, "deterministic", out.Annotation.Distribution)
	assert.Equal(t, 5, out.Annotation.Capacity)
	assert.Equal(t, 0, p.Marking(), "marking released after processing")
}

func TestProcess_CapacityExceeded(t *testing.T) {
	p := New("Hold", 1, Deterministic{D: 50 * time.Millisecond}, AlwaysTrue{})

	started := make(chan struct{})
	done := make(chan struct{})
	var observer EnterObserver = func(ident.Token, int, int) { close(started) }
	p.onEnter = observer

	go func() {
		defer close(done)
		_, err := p.Process(context.Background(), tok(1000000))
		assert.NoError(t, err)
	}()

	<-started
	// Second admission while the first token is held must be rejected
	// synchronously without touching the marking.
	_, err := p.Process(context.Background(), tok(1000001))
	require.Error(t, err)
	assert.True(t, IsCapacityExceeded(err))
	assert.Equal(t, 1, p.Marking(), "marking must never exceed capacity 1")

	<-done
	assert.Equal(t, 0, p.Marking())
}

func TestProcess_ValidationFailure_RollsBackMarking(t *testing.T) {
	p := New("Check", 3, Deterministic{}, AlwaysTrue{})

	_, err := p.Process(context.Background(), tok(-1))
	require.Error(t, err)
	assert.True(t, IsValidationFailure(err))
	assert.Equal(t, 0, p.Marking())
}

func TestProcess_DeadlineExceeded(t *testing.T) {
	p := New("Check", 3, Deterministic{}, AlwaysTrue{})

	expired := ident.Token{ID: 1000000, Deadline: time.Now().Add(-time.Second)}
	_, err := p.Process(context.Background(), expired)
	require.Error(t, err)
	assert.True(t, IsValidationFailure(err))
	assert.Equal(t, 0, p.Marking())
}

func TestProcess_PanicRollsBackMarking(t *testing.T) {
	p := New("Boom", 2, Deterministic{}, AlwaysTrue{},
		WithResolver(func(ident.Token) (any, error) { panic("service fault") }))

	out, err := p.Process(context.Background(), tok(1000000))
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorContains(t, err, "fault during processing")
	assert.Equal(t, 0, p.Marking(), "marking restored to pre-call value")

	// Place remains usable after the fault.
	p.resolve = nil
	_, err = p.Process(context.Background(), tok(1000001))
	assert.NoError(t, err)
}

func TestProcess_ContextCancelledDuringHold(t *testing.T) {
	p := New("Slow", 1, Deterministic{D: time.Minute}, AlwaysTrue{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Process(ctx, tok(1000000))
		errCh <- err
	}()

	// Give the goroutine time to enter the hold, then cancel.
	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, p.Marking())
}

func TestProcess_GuardErrorIsNoMatchNotFault(t *testing.T) {
	p := New("Guarded", 1, Deterministic{}, Custom{Label: "broken"})

	out, err := p.Process(context.Background(), tok(1000000))
	require.NoError(t, err, "guard errors surface through the outcome, not as faults")
	assert.False(t, out.Routed)
	assert.Error(t, out.GuardErr)
	assert.Equal(t, 0, p.Marking())
}

func TestProcess_ConcurrentAdmissions_RespectCapacity(t *testing.T) {
	const capacity = 3
	p := New("Contended", capacity, Deterministic{D: 20 * time.Millisecond}, AlwaysTrue{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, rejected := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Process(context.Background(), tok(int64(1000000+i)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted++
			} else if IsCapacityExceeded(err) {
				rejected++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, admitted+rejected)
	assert.GreaterOrEqual(t, admitted, capacity, "at least one full batch admitted")
	assert.Equal(t, 0, p.Marking())
}

func TestProcessMerged_EvaluatesRealGuard(t *testing.T) {
	// The merged pair must go through the configured guard; a join's
	// outgoing guard is never hard-coded to true.
	p := New("PostJoin", 2, Deterministic{}, AlwaysFalse{})

	cont := ident.Token{ID: 1000001, Attributes: map[string]any{"a": 1}}
	sib := ident.Token{ID: 1000002, Attributes: map[string]any{"b": 2}}

	out, err := p.ProcessMerged(context.Background(), cont, sib)
	require.NoError(t, err)
	assert.False(t, out.Routed, "always-false guard must gate the merged pair")
	assert.Equal(t, int64(1000001), out.Token.ID)
	assert.Equal(t, 1, out.Token.Attributes["a"])
	assert.Equal(t, 2, out.Token.Attributes["b"])
}

func TestMergeTokens_ContinuationWins(t *testing.T) {
	cont := ident.Token{ID: 1000001, Attributes: map[string]any{"k": "cont"}}
	sib := ident.Token{ID: 1000002, Attributes: map[string]any{"k": "sib", "extra": true}}

	merged := MergeTokens(cont, sib)
	assert.Equal(t, int64(1000001), merged.ID)
	assert.Equal(t, "cont", merged.Attributes["k"])
	assert.Equal(t, true, merged.Attributes["extra"])
}

func TestMergeTokens_KeepsEarliestDeadline(t *testing.T) {
	early := time.Now().Add(time.Minute)
	late := time.Now().Add(time.Hour)
	cont := ident.Token{ID: 1000001, Deadline: late}
	sib := ident.Token{ID: 1000002, Deadline: early}

	merged := MergeTokens(cont, sib)
	assert.Equal(t, early, merged.Deadline)
}

func TestProcess_ResolverValueCarried(t *testing.T) {
	p := New("Score", 1, Deterministic{}, AlwaysTrue{},
		WithResolver(func(tok ident.Token) (any, error) { return "approved", nil }))

	out, err := p.Process(context.Background(), tok(1000000))
	require.NoError(t, err)
	assert.Equal(t, "approved", out.Value)
}
