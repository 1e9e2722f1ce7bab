package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ChainPilot/internal/toolrpc"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

type scriptedSource struct {
	mu     sync.Mutex
	states []string
	errs   []error
	calls  int
}

func (s *scriptedSource) TransactionStatus(ctx context.Context, _ string) (toolrpc.TransactionStatusPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if err := ctx.Err(); err != nil {
		return toolrpc.TransactionStatusPayload{}, err
	}
	if i < len(s.errs) && s.errs[i] != nil {
		return toolrpc.TransactionStatusPayload{}, s.errs[i]
	}
	state := toolrpc.TxStatePending
	if i < len(s.states) {
		state = s.states[i]
	} else if len(s.states) > 0 {
		state = s.states[len(s.states)-1]
	}
	return toolrpc.TransactionStatusPayload{State: state, BlockNumber: uint64(i)}, nil
}

func fastTracker(src StatusSource, timeout time.Duration) *Tracker {
	return New(src, WithPollInterval(5*time.Millisecond), WithTimeout(timeout))
}

func TestTrackConfirmed(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &scriptedSource{states: []string{"pending", "pending", "confirmed"}}
	h := fastTracker(src, time.Second).Track(context.Background(), "0xabc")

	assert.Equal(t, StateConfirmed, h.State)
	assert.Equal(t, "0xabc", h.TransactionID)
	assert.EqualValues(t, 2, h.BlockNumber)
	assert.Equal(t, 3, h.Polls)
}

func TestTrackFailed(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &scriptedSource{states: []string{"failed"}}
	h := fastTracker(src, time.Second).Track(context.Background(), "0xdef")
	assert.Equal(t, StateFailed, h.State)
	assert.Equal(t, 1, h.Polls)
}

func TestTrackTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &scriptedSource{states: []string{"pending"}}
	started := time.Now()
	h := fastTracker(src, 40*time.Millisecond).Track(context.Background(), "0x123")

	assert.Equal(t, StateTimedOut, h.State)
	assert.Equal(t, "0x123", h.TransactionID)
	assert.GreaterOrEqual(t, time.Since(started), 40*time.Millisecond)
	// 固定间隔轮询，不会忙等。
	assert.Less(t, h.Polls, 20)
}

func TestTrackCancelledSettlesTimedOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	src := &scriptedSource{states: []string{"pending"}}
	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()

	h := fastTracker(src, time.Minute).Track(ctx, "0x456")
	assert.Equal(t, StateTimedOut, h.State)
}

func TestTrackToleratesPollErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	notFound := toolrpc.Rejected(toolrpc.ToolTransactionStatus, toolrpc.ErrCodeNotFound, "unknown tx")
	src := &scriptedSource{
		errs:   []error{notFound, errors.New("flaky")},
		states: []string{"", "", "confirmed"},
	}
	h := fastTracker(src, time.Second).Track(context.Background(), "0x789")
	assert.Equal(t, StateConfirmed, h.State)
	assert.Error(t, h.LastError)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	for _, terminal := range []State{StateConfirmed, StateFailed, StateTimedOut} {
		h := Handle{State: StatePending}
		assert.True(t, h.advance(terminal))
		for _, next := range []State{StatePending, StateConfirmed, StateFailed, StateTimedOut} {
			assert.False(t, h.advance(next))
			assert.Equal(t, terminal, h.State)
		}
	}
	assert.False(t, StatePending.Terminal())
}
