package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey_Deterministic(t *testing.T) {
	a := GenerateKey("finalize", "c1", "e1")
	assert.Equal(t, a, GenerateKey("finalize", "c1", "e1"))
	assert.NotEqual(t, a, GenerateKey("finalize", "c1", "e2"))
	assert.Len(t, a, 64)
}

func TestProcess_ReplaysFinishedResult(t *testing.T) {
	inbox := NewInbox(NewMemoryStore(), DefaultInboxConfig(), nil)
	ctx := context.Background()
	calls := 0
	fn := func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"ok":true}`), nil
	}

	first, err := inbox.Process(ctx, "k", "finalize", nil, fn)
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	second, err := inbox.Process(ctx, "k", "finalize", nil, fn)
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.JSONEq(t, `{"ok":true}`, string(second.Result))
	assert.Equal(t, 1, calls)
}

func TestProcess_RecoverableErrorAllowsRetry(t *testing.T) {
	inbox := NewInbox(NewMemoryStore(), DefaultInboxConfig(), nil)
	ctx := context.Background()
	boom := errors.New("draft pending")

	_, err := inbox.Process(ctx, "k", "h", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	res, err := inbox.Process(ctx, "k", "h", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`1`), nil
	})
	require.NoError(t, err)
	assert.True(t, res.WasRecovered)
}

func TestProcess_TerminalErrorSticks(t *testing.T) {
	inbox := NewInbox(NewMemoryStore(), DefaultInboxConfig(), nil)
	ctx := context.Background()

	_, err := inbox.Process(ctx, "k", "h", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, Terminal(errors.New("invalid payload"))
	})
	require.Error(t, err)
	assert.True(t, IsTerminal(err))

	_, err = inbox.Process(ctx, "k", "h", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		t.Fatal("must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrPreviouslyFailed)
}

func TestProcess_InProgressAndStaleRecovery(t *testing.T) {
	store := NewMemoryStore()
	inbox := NewInbox(store, DefaultInboxConfig(), nil)
	ctx := context.Background()
	require.NoError(t, store.Start(ctx, "k", "h", nil, time.Now().Add(time.Hour)))

	_, err := inbox.Process(ctx, "k", "h", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrMessageInProgress)

	inbox.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	res, err := inbox.Process(ctx, "k", "h", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"done"`), nil
	})
	require.NoError(t, err)
	assert.True(t, res.WasRecovered)
}

func TestTerminal_Nil(t *testing.T) {
	assert.NoError(t, Terminal(nil))
	assert.False(t, IsTerminal(errors.New("x")))
}
