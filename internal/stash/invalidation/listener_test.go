package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"

	"github.com/example/stashlite/internal/stash/cache"
	"github.com/example/stashlite/internal/stash/domain"
)

type recordingInvalidator struct {
	mu      sync.Mutex
	ids     []uuid.UUID
	version int64
	err     error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, id uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	if r.err != nil {
		return 0, r.err
	}
	r.version++
	return r.version, nil
}

func newTestListener(t *testing.T, inv domain.CapacityInvalidator) *Listener {
	t.Helper()
	l, err := NewListener(&nats.Conn{}, inv, nil, Config{})
	require.NoError(t, err)
	return l
}

func TestProcess(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("advances the version", func(t *testing.T) {
		inv := &recordingInvalidator{version: 1}
		l := newTestListener(t, inv)
		payload, err := json.Marshal(Request{StashpointID: id})
		require.NoError(t, err)

		reply := l.process(ctx, payload, "")
		require.Equal(t, Reply{Version: 2}, reply)
		require.Equal(t, []uuid.UUID{id}, inv.ids)
	})

	t.Run("malformed payloads are rejected", func(t *testing.T) {
		inv := &recordingInvalidator{}
		l := newTestListener(t, inv)
		for _, payload := range []string{`not json`, `{}`, `{"stashpoint_id":"00000000-0000-0000-0000-000000000000"}`} {
			reply := l.process(ctx, []byte(payload), "")
			require.NotEmpty(t, reply.Error, payload)
			require.Zero(t, reply.Version)
		}
		require.Empty(t, inv.ids)
	})

	t.Run("store failure is reported", func(t *testing.T) {
		inv := &recordingInvalidator{err: domain.ErrUpstreamUnavailable}
		l := newTestListener(t, inv)
		payload, err := json.Marshal(Request{StashpointID: id})
		require.NoError(t, err)

		reply := l.process(ctx, payload, "")
		require.Contains(t, reply.Error, domain.ErrUpstreamUnavailable.Error())
	})
}

func TestNewListenerRequiresDependencies(t *testing.T) {
	_, err := NewListener(nil, &recordingInvalidator{}, nil, Config{})
	require.Error(t, err)
	_, err = NewListener(&nats.Conn{}, nil, nil, Config{})
	require.Error(t, err)
}

func TestRequestReplyOverNATS(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := natscontainer.Run(ctx, "nats:2.10")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})
	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	cached, err := cache.NewCachedEvaluator(zeroEvaluator{}, cache.NewMemoryStore(), nil, cache.Config{})
	require.NoError(t, err)
	listener, err := NewListener(nc, cached, nil, Config{Subject: "test.capacity.changed"})
	require.NoError(t, err)
	require.NoError(t, listener.Start())
	t.Cleanup(func() { _ = listener.Stop() })
	require.NoError(t, nc.Flush())

	client := NewClient(nc, "test.capacity.changed")
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	id := uuid.New()

	v, err := client.Invalidate(reqCtx, id)
	require.NoError(t, err)
	require.Equal(t, int64(2), v)
	v, err = client.Invalidate(reqCtx, id)
	require.NoError(t, err)
	require.Equal(t, int64(3), v)
}

func TestClientWithoutListenerFails(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := natscontainer.Run(ctx, "nats:2.10")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})
	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = NewClient(nc, "nobody.listens").Invalidate(reqCtx, uuid.New())
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	require.True(t, errors.Is(err, nats.ErrNoResponders) || errors.Is(err, context.DeadlineExceeded))
}

type zeroEvaluator struct{}

func (zeroEvaluator) BookedBags(context.Context, uuid.UUID, domain.Window) (int, error) {
	return 0, nil
}
