package mcp

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingTable_RegisterDuplicate(t *testing.T) {
	table := newPendingTable()

	_, err := table.register(1, 42, "tools/call", time.Now().Add(time.Second))
	require.NoError(t, err)

	_, err = table.register(1, 42, "tools/call", time.Now().Add(time.Second))
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestPendingTable_ResolveUnknownIsNoop(t *testing.T) {
	table := newPendingTable()

	assert.False(t, table.resolve(99, nil, nil))
	assert.Equal(t, 0, table.size())
}

func TestPendingTable_FirstResolutionWins(t *testing.T) {
	table := newPendingTable()

	call, err := table.register(1, 1, "tools/call", time.Now().Add(time.Second))
	require.NoError(t, err)

	assert.True(t, table.resolve(1, json.RawMessage(`"first"`), nil))
	assert.False(t, table.resolve(1, json.RawMessage(`"second"`), nil))

	res := <-call.done
	assert.Equal(t, json.RawMessage(`"first"`), res.result)

	select {
	case <-call.done:
		t.Fatal("second delivery must not happen")
	default:
	}
}

func TestPendingTable_Expire(t *testing.T) {
	table := newPendingTable()
	now := time.Now()

	due, err := table.register(1, 1, "tools/call", now.Add(-time.Millisecond))
	require.NoError(t, err)
	notDue, err := table.register(1, 2, "tools/call", now.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, table.expire(now))

	res := <-due.done
	assert.ErrorIs(t, res.err, ErrTimeout)

	select {
	case <-notDue.done:
		t.Fatal("future deadline must not expire")
	default:
	}
	assert.Equal(t, 1, table.size())
}

func TestPendingTable_ExpireResolveRace(t *testing.T) {
	table := newPendingTable()

	for i := int64(1); i <= 100; i++ {
		_, err := table.register(1, i, "tools/call", time.Now())
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		table.expire(time.Now().Add(time.Second))
	}()
	go func() {
		defer wg.Done()
		for i := int64(1); i <= 100; i++ {
			table.resolve(i, json.RawMessage(`"ok"`), nil)
		}
	}()
	wg.Wait()

	// Exactly one delivery per call regardless of who won.
	assert.Equal(t, 0, table.size())
}

func TestPendingTable_FlushEpochScoped(t *testing.T) {
	table := newPendingTable()

	oldCall, err := table.register(1, 1, "tools/call", time.Now().Add(time.Hour))
	require.NoError(t, err)
	newCall, err := table.register(2, 2, "tools/call", time.Now().Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, table.flush(1, ErrDisconnected))

	res := <-oldCall.done
	assert.ErrorIs(t, res.err, ErrDisconnected)

	select {
	case <-newCall.done:
		t.Fatal("current epoch call must survive a flush of the old epoch")
	default:
	}
	assert.Equal(t, 1, table.size())
}

func TestPendingTable_AbandonedWaitIgnoresLateResponse(t *testing.T) {
	table := newPendingTable()

	_, err := table.register(1, 7, "tools/call", time.Now().Add(time.Hour))
	require.NoError(t, err)

	table.remove(7)
	assert.False(t, table.resolve(7, json.RawMessage(`"late"`), nil))
}
