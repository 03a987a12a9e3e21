package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianly1003/adid/internal/binder"
	"github.com/brianly1003/adid/internal/binder/parcel"
	"github.com/brianly1003/adid/internal/rpc"
	"github.com/brianly1003/adid/internal/rpc/transport"
	"github.com/brianly1003/adid/internal/testutil"
)

const (
	testAction = "com.example.START"
	testToken  = "com.example.ITest"
)

var testComponent = binder.ComponentName{Package: "com.example.host", Class: "com.example.host.Service"}

type recordingConn struct {
	mu           sync.Mutex
	connected    []binder.Binder
	disconnected int
	died         int
	events       chan string
}

func newRecordingConn() *recordingConn {
	return &recordingConn{events: make(chan string, 8)}
}

func (c *recordingConn) OnServiceConnected(_ binder.ComponentName, service binder.Binder) {
	c.mu.Lock()
	c.connected = append(c.connected, service)
	c.mu.Unlock()
	c.events <- "connected"
}

func (c *recordingConn) OnServiceDisconnected(binder.ComponentName) {
	c.mu.Lock()
	c.disconnected++
	c.mu.Unlock()
	c.events <- "disconnected"
}

func (c *recordingConn) OnBindingDied(binder.ComponentName) {
	c.mu.Lock()
	c.died++
	c.mu.Unlock()
	c.events <- "died"
}

func (c *recordingConn) next(t *testing.T) string {
	t.Helper()
	select {
	case ev := <-c.events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no callback delivered")
		return ""
	}
}

func (c *recordingConn) service(t *testing.T) binder.Binder {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.connected)
	return c.connected[len(c.connected)-1]
}

func binderServer(t *testing.T, stub binder.Binder, gate <-chan struct{}) (*rpc.Server, string) {
	t.Helper()

	server := rpc.NewServer(stub)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gate != nil {
			<-gate
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = server.ServeTransport(r.Context(), transport.NewWebSocketTransport(conn))
	}))
	t.Cleanup(func() {
		_ = server.Stop()
		ts.Close()
	})
	return server, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func fetchString(t *testing.T, b binder.Binder) string {
	t.Helper()

	data := parcel.Obtain()
	defer data.Recycle()
	reply := parcel.Obtain()
	defer reply.Recycle()

	data.WriteInterfaceToken(testToken)
	require.NoError(t, b.Transact(context.Background(), binder.FirstCallTransaction, data, reply, 0))
	require.NoError(t, reply.ReadException())
	s, err := reply.ReadString16()
	require.NoError(t, err)
	return s
}

func TestPlatform_PackageInfo(t *testing.T) {
	p := New()
	p.InstallPackage("com.android.vending", "42.0")

	info, err := p.PackageInfo("com.android.vending")
	require.NoError(t, err)
	assert.Equal(t, "42.0", info.VersionName)

	_, err = p.PackageInfo("com.example.missing")
	assert.ErrorIs(t, err, binder.ErrPackageNotFound)

	// registering a service installs its package
	p.RegisterLocalService(testAction, testComponent, testutil.NewFakeAdService(testToken, "x", false))
	_, err = p.PackageInfo(testComponent.Package)
	assert.NoError(t, err)
}

func TestPlatform_BindResolution(t *testing.T) {
	p := New()
	p.RegisterLocalService(testAction, testComponent, testutil.NewFakeAdService(testToken, "x", false))
	p.InstallPackage("com.example.other", "")

	tests := []struct {
		name    string
		intent  binder.Intent
		wantErr error
	}{
		{name: "exact", intent: binder.Intent{Action: testAction, Package: testComponent.Package}},
		{name: "any package", intent: binder.Intent{Action: testAction}},
		{name: "unknown action", intent: binder.Intent{Action: "com.example.NOPE"}, wantErr: binder.ErrServiceNotFound},
		{name: "package not installed", intent: binder.Intent{Action: testAction, Package: "com.example.missing"}, wantErr: binder.ErrPackageNotFound},
		{name: "wrong package", intent: binder.Intent{Action: testAction, Package: "com.example.other"}, wantErr: binder.ErrServiceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newRecordingConn()
			err := p.BindService(tt.intent, conn, binder.BindAutoCreate)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, p.UnbindService(conn), binder.ErrServiceNotRegistered)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "connected", conn.next(t))
			require.NoError(t, p.UnbindService(conn))
		})
	}
	assert.Equal(t, 0, p.BindingCount())
}

func TestPlatform_LocalService(t *testing.T) {
	p := New()
	service := testutil.NewFakeAdService(testToken, "local-id", false)
	p.RegisterLocalService(testAction, testComponent, service)

	conn := newRecordingConn()
	require.NoError(t, p.BindService(binder.Intent{Action: testAction}, conn, binder.BindAutoCreate))
	assert.Equal(t, "connected", conn.next(t))
	assert.Equal(t, "local-id", fetchString(t, conn.service(t)))

	assert.Error(t, p.BindService(binder.Intent{Action: testAction}, conn, 0), "double bind of one connection")

	require.NoError(t, p.UnbindService(conn))
	assert.ErrorIs(t, p.UnbindService(conn), binder.ErrServiceNotRegistered)
}

func TestPlatform_RemoteService(t *testing.T) {
	service := testutil.NewFakeAdService(testToken, "remote-id", false)
	_, url := binderServer(t, service, nil)

	p := New()
	p.RegisterRemoteService(testAction, testComponent, url)

	conn := newRecordingConn()
	require.NoError(t, p.BindService(binder.Intent{Action: testAction}, conn, binder.BindAutoCreate))
	assert.Equal(t, "connected", conn.next(t))
	assert.Equal(t, "remote-id", fetchString(t, conn.service(t)))

	require.NoError(t, p.UnbindService(conn))

	// closing the proxy on unbind must not report a disconnect
	select {
	case ev := <-conn.events:
		t.Fatalf("unexpected callback after unbind: %s", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPlatform_RemoteDisconnect(t *testing.T) {
	service := testutil.NewFakeAdService(testToken, "remote-id", false)
	server, url := binderServer(t, service, nil)

	p := New()
	p.RegisterRemoteService(testAction, testComponent, url)

	conn := newRecordingConn()
	require.NoError(t, p.BindService(binder.Intent{Action: testAction}, conn, binder.BindAutoCreate))
	assert.Equal(t, "connected", conn.next(t))
	// a round trip guarantees the host registered the connection
	assert.Equal(t, "remote-id", fetchString(t, conn.service(t)))

	require.NoError(t, server.Stop())
	assert.Equal(t, "disconnected", conn.next(t))

	require.NoError(t, p.UnbindService(conn))
}

func TestPlatform_DialFailureKillsBinding(t *testing.T) {
	p := New(WithHandshakeTimeout(200 * time.Millisecond))
	p.RegisterRemoteService(testAction, testComponent, "ws://127.0.0.1:1/binder")

	conn := newRecordingConn()
	require.NoError(t, p.BindService(binder.Intent{Action: testAction}, conn, binder.BindAutoCreate))
	assert.Equal(t, "died", conn.next(t))
	require.NoError(t, p.UnbindService(conn))
}

func TestPlatform_LateCallbackAfterUnbindIsDropped(t *testing.T) {
	gate := make(chan struct{})
	service := testutil.NewFakeAdService(testToken, "late", false)
	_, url := binderServer(t, service, gate)

	p := New()
	p.RegisterRemoteService(testAction, testComponent, url)

	conn := newRecordingConn()
	require.NoError(t, p.BindService(binder.Intent{Action: testAction}, conn, binder.BindAutoCreate))

	// unbind while the handshake is still pending, then let it finish
	require.NoError(t, p.UnbindService(conn))
	close(gate)

	select {
	case ev := <-conn.events:
		t.Fatalf("callback delivered after unbind: %s", ev)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, 0, p.BindingCount())
}
