// ABOUTME: Tests for the scheduler heartbeat trigger
// ABOUTME: Covers secret checks, ledger reporting and an end-to-end run against httptest

package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tms-core/internal/enhanced"
	"github.com/2389/tms-core/internal/store"
)

type fakeHeartbeater struct {
	calls atomic.Int32
	state enhanced.ConnectionState
	err   error
}

func (f *fakeHeartbeater) Heartbeat(context.Context) (enhanced.ConnectionState, error) {
	f.calls.Add(1)
	return f.state, f.err
}

type fakeLedger struct {
	last *time.Time
	err  error
}

func (f *fakeLedger) LastSuccess(context.Context) (*time.Time, error) {
	return f.last, f.err
}

func TestInvoke_WrongSecretNeverCallsHeartbeat(t *testing.T) {
	hb := &fakeHeartbeater{state: enhanced.Connected()}
	trig := New("abc123-this-is-the-costly-one", hb, &fakeLedger{}, nil)

	for _, provided := range []string{"wrong", "", "abc123-this-is-the-costly-on"} {
		res, err := trig.Invoke(context.Background(), provided)
		assert.ErrorIs(t, err, ErrUnauthorized, "secret %q", provided)
		assert.Nil(t, res)
	}
	assert.Equal(t, int32(0), hb.calls.Load())
}

func TestInvoke_MatchingSecret(t *testing.T) {
	at := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	hb := &fakeHeartbeater{state: enhanced.Connected()}
	trig := New("s3cret", hb, &fakeLedger{last: &at}, nil)

	res, err := trig.Invoke(context.Background(), "s3cret")
	require.NoError(t, err)
	assert.True(t, res.Connected)
	require.NotNil(t, res.LastSuccessfulHeartbeatAt)
	assert.True(t, at.Equal(*res.LastSuccessfulHeartbeatAt))
	assert.Equal(t, int32(1), hb.calls.Load())
}

func TestInvoke_NoSecretConfiguredAcceptsAnyCaller(t *testing.T) {
	hb := &fakeHeartbeater{state: enhanced.Connected()}
	trig := New("", hb, &fakeLedger{}, nil)
	assert.False(t, trig.RequiresSecret())

	_, err := trig.Invoke(context.Background(), "")
	require.NoError(t, err)
	_, err = trig.Invoke(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hb.calls.Load())
}

func TestInvoke_DisconnectedStillReportsLastSuccess(t *testing.T) {
	at := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	hb := &fakeHeartbeater{state: enhanced.Disconnected(enhanced.ReasonUnreachable)}
	trig := New("", hb, &fakeLedger{last: &at}, nil)

	res, err := trig.Invoke(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, res.Connected)
	require.NotNil(t, res.LastSuccessfulHeartbeatAt)
	assert.True(t, at.Equal(*res.LastSuccessfulHeartbeatAt))
}

func TestInvoke_PersistenceErrorsPropagate(t *testing.T) {
	t.Run("heartbeat", func(t *testing.T) {
		hb := &fakeHeartbeater{err: enhanced.ErrPersistence}
		_, err := New("", hb, &fakeLedger{}, nil).Invoke(context.Background(), "")
		assert.ErrorIs(t, err, enhanced.ErrPersistence)
	})

	t.Run("ledger", func(t *testing.T) {
		hb := &fakeHeartbeater{state: enhanced.Connected()}
		_, err := New("", hb, &fakeLedger{err: enhanced.ErrPersistence}, nil).Invoke(context.Background(), "")
		assert.ErrorIs(t, err, enhanced.ErrPersistence)
	})
}

func TestResult_JSON(t *testing.T) {
	raw, err := json.Marshal(Result{Connected: false})
	require.NoError(t, err)
	assert.JSONEq(t, `{"connected":false,"lastSuccessfulHeartbeatAt":null}`, string(raw))
}

func TestInvoke_EndToEnd(t *testing.T) {
	var calls atomic.Int32
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":   true,
			"data": map[string]any{"sessionToken": "tok-" + string(rune('0'+n))},
		})
	}))
	t.Cleanup(remote.Close)

	kv := store.NewMockStore()
	ledger := enhanced.NewLedger(kv)
	tokens := enhanced.NewTokenStore(kv)
	client := enhanced.NewClient(enhanced.ClientConfig{BaseURL: remote.URL}, enhanced.NewIdentity(kv, ""), tokens, ledger, nil)
	trig := New("cron", client, ledger, nil)
	ctx := context.Background()

	first, err := trig.Invoke(ctx, "cron")
	require.NoError(t, err)
	assert.True(t, first.Connected)
	require.NotNil(t, first.LastSuccessfulHeartbeatAt)

	// The remote fails: still disconnected, but the last success is reported.
	second, err := trig.Invoke(ctx, "cron")
	require.NoError(t, err)
	assert.False(t, second.Connected)
	require.NotNil(t, second.LastSuccessfulHeartbeatAt)
	assert.True(t, first.LastSuccessfulHeartbeatAt.Equal(*second.LastSuccessfulHeartbeatAt))

	pair, err := tokens.Read(ctx)
	require.NoError(t, err)
	require.NotNil(t, pair.Current)
	assert.Equal(t, "tok-1", *pair.Current)
	assert.Nil(t, pair.Previous)

	_, err = trig.Invoke(ctx, "nope")
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, int32(2), calls.Load())
}
