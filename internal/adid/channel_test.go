package adid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianly1003/adid/internal/binder"
	"github.com/brianly1003/adid/internal/domain"
	"github.com/brianly1003/adid/internal/testutil"
)

var testIntent = binder.Intent{Action: DefaultServiceAction, Package: DefaultServicePackage}

func newTestChannel(timeout time.Duration) (*ServiceChannel, *testutil.FakePlatform, *testutil.FakeAdService) {
	service := testutil.NewFakeAdService(InterfaceToken, "id", false)
	platform := testutil.NewFakePlatform(service, DefaultProviderPackage)
	return NewServiceChannel(platform, testIntent, timeout), platform, service
}

func TestServiceChannel_ConnectAndClose(t *testing.T) {
	for _, mode := range []testutil.ConnectMode{testutil.ConnectAsync, testutil.ConnectSync} {
		ch, platform, service := newTestChannel(time.Second)
		platform.SetMode(mode)

		conn, err := ch.Connect(context.Background())
		require.NoError(t, err)
		assert.Same(t, service, conn.Service)
		assert.Equal(t, testutil.FakeComponent, conn.Name)
		assert.Equal(t, 1, platform.ActiveCount())

		require.NoError(t, ch.Disconnect(conn))
		require.NoError(t, conn.Close())

		assert.Equal(t, 1, platform.BindCount())
		assert.Equal(t, 1, platform.UnbindCount())
		assert.Equal(t, 0, platform.ActiveCount())
	}
}

func TestServiceChannel_BindRefused(t *testing.T) {
	ch, platform, _ := newTestChannel(time.Second)
	platform.SetBindError(binder.ErrServiceNotFound)

	start := time.Now()
	conn, err := ch.Connect(context.Background())
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.ErrorIs(t, err, domain.ErrBindUnavailable)
	assert.ErrorIs(t, err, binder.ErrServiceNotFound)

	var bindErr *domain.BindError
	require.True(t, errors.As(err, &bindErr))
	assert.Equal(t, DefaultServicePackage, bindErr.Package)
	assert.Equal(t, 0, platform.UnbindCount())
}

func TestServiceChannel_CancelledWhileWaiting(t *testing.T) {
	ch, platform, _ := newTestChannel(0)
	platform.SetMode(testutil.ConnectNever)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := ch.Connect(ctx)
	assert.ErrorIs(t, err, domain.ErrFetchCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, domain.IsSoftFailure(err))

	// the pending binding is still released
	assert.Equal(t, 1, platform.BindCount())
	assert.Equal(t, 1, platform.UnbindCount())
}

func TestServiceChannel_Timeout(t *testing.T) {
	ch, platform, _ := newTestChannel(20 * time.Millisecond)
	platform.SetMode(testutil.ConnectNever)

	_, err := ch.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrBindTimeout)
	assert.ErrorIs(t, err, domain.ErrRemoteCallFailed)
	assert.NotErrorIs(t, err, domain.ErrFetchCancelled)
	assert.Equal(t, 1, platform.UnbindCount())
}

func TestServiceChannel_BindingDied(t *testing.T) {
	ch, platform, _ := newTestChannel(time.Second)
	platform.SetMode(testutil.ConnectDies)

	_, err := ch.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrBindUnavailable)
	assert.ErrorIs(t, err, errBindingDied)
	assert.Equal(t, 1, platform.UnbindCount())
	assert.Equal(t, 0, platform.ActiveCount())
}

func TestServiceConnection_DropsDuplicateConnect(t *testing.T) {
	conn := &serviceConnection{slot: NewHandoffSlot[bindResult]()}
	first := testutil.NewFakeAdService(InterfaceToken, "first", false)
	second := testutil.NewFakeAdService(InterfaceToken, "second", false)

	conn.OnServiceConnected(testutil.FakeComponent, first)
	conn.OnServiceConnected(testutil.FakeComponent, second)
	conn.OnServiceDisconnected(testutil.FakeComponent)

	res, err := conn.slot.Take(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, res.service)
}
