package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ChainPilot/internal/errors"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Minute)

	for _, task := range []*Task{
		{ID: "t1", Input: "balance of alice", Status: StatusPending, MaxRetries: 3},
		{ID: "t2", Input: "send 1 eth to zed", Status: StatusPending, MaxRetries: 3},
		{ID: "t3", Input: "send 1 eth to bob", Status: StatusPending, MaxRetries: 3},
	} {
		require.NoError(t, store.Create(ctx, task))
	}

	require.NoError(t, store.MarkFailed(ctx, "t2", "UNRESOLVED_ADDRESS", "I couldn't resolve zed", nil, true))
	require.NoError(t, store.MarkSucceeded(ctx, "t3", &Outcome{Summary: "Transferred 1 ETH", TxID: "0xabc"}))

	store.mu.Lock()
	store.tasks["t1"].UpdatedAt = base.Unix()
	store.tasks["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t3", all[0].ID)

	asc, err := store.List(ctx, BuildListOptions(WithSortOrder(SortByUpdatedAsc)))
	require.NoError(t, err)
	assert.Equal(t, "t1", asc[0].ID)

	failed, err := store.List(ctx, BuildListOptions(WithStatuses(StatusFailed)))
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "t2", failed[0].ID)
	assert.Equal(t, "UNRESOLVED_ADDRESS", failed[0].ErrorCode)

	withTx, err := store.List(ctx, BuildListOptions(WithTransaction(true)))
	require.NoError(t, err)
	require.Len(t, withTx, 1)
	assert.Equal(t, "t3", withTx[0].ID)

	recent, err := store.List(ctx, BuildListOptions(WithUpdatedSince(base.Add(15*time.Second))))
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	matched, err := store.List(ctx, BuildListOptions(WithQuery("ZED")))
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "t2", matched[0].ID)

	page, err := store.List(ctx, BuildListOptions(WithLimit(1), WithOffset(1)))
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "t2", page[0].ID)

	empty, err := store.List(ctx, BuildListOptions(WithOffset(10)))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, &Task{ID: id, Input: "cmd " + id, Status: StatusPending, MaxRetries: 3}))
	}
	require.NoError(t, store.MarkFailed(ctx, "b", CodeTaskProcessing, "boom", nil, true))
	require.NoError(t, store.MarkSucceeded(ctx, "c", &Outcome{Summary: "ok", TxID: "0x1"}))

	stats, err := store.Stats(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, TaskStats{
		Total:           3,
		Pending:         1,
		Succeeded:       1,
		Failed:          1,
		Submitted:       1,
		OldestUpdatedAt: stats.OldestUpdatedAt,
		NewestUpdatedAt: stats.NewestUpdatedAt,
	}, stats)
	assert.NotZero(t, stats.NewestUpdatedAt)

	failedOnly, err := store.Stats(ctx, BuildListOptions(WithStatuses(StatusFailed)))
	require.NoError(t, err)
	assert.Equal(t, 1, failedOnly.Total)
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Task{ID: "x", Input: "send 1 eth", Status: StatusPending, MaxRetries: 2}))

	assert.True(t, IsTaskError(store.Create(ctx, &Task{ID: "x"}), CodeTaskConflict))

	claimed, err := store.Claim(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	_, err = store.Claim(ctx, "x")
	assert.True(t, IsTaskError(err, CodeTaskConflict))

	// 非终态失败回到 pending，可以再次领取。
	require.NoError(t, store.MarkFailed(ctx, "x", xerrors.CodeTimeout, "timeout", nil, false))
	got, err := store.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	_, err = store.Claim(ctx, "x")
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, "x", xerrors.CodeTimeout, "timeout", nil, false))

	_, err = store.Claim(ctx, "x")
	assert.True(t, IsTaskError(err, CodeTaskExhausted))

	require.NoError(t, store.MarkSucceeded(ctx, "x", &Outcome{Summary: "done"}))
	_, err = store.Claim(ctx, "x")
	assert.True(t, IsTaskError(err, CodeTaskCompleted))

	_, err = store.Get(ctx, "missing")
	assert.True(t, IsTaskError(err, CodeTaskNotFound))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Task{ID: "x", Input: "hi", Status: StatusPending, MaxRetries: 1}))
	require.NoError(t, store.MarkSucceeded(ctx, "x", &Outcome{Summary: "hello"}))

	got, err := store.Get(ctx, "x")
	require.NoError(t, err)
	got.Result.Summary = "mutated"

	again, err := store.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Result.Summary)
}

func TestParseStatuses(t *testing.T) {
	assert.Equal(t, []Status{StatusFailed, StatusPending}, ParseStatuses("failed, PENDING,bogus"))
	assert.Nil(t, ParseStatuses(""))
}
