//go:build linux

package transport

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/YuanQin2000/datax/internal/http1"
	"github.com/YuanQin2000/datax/internal/octet"
	"github.com/YuanQin2000/datax/internal/status"
)

// exchange is a minimal GET built straight on the protocol engine.
type exchange struct {
	cfg    *Configure
	writer *http1.RequestWriter
	parser *http1.ResponseParser
	body   bytes.Buffer
	done   chan error
}

func newExchange(cfg *Configure, host, path string) *exchange {
	h := http1.NewHeaderField(http1.RequestConfig)
	h.Set(http1.FieldHost, http1.String(host))
	x := &exchange{
		cfg:    cfg,
		writer: http1.NewRequestWriter(http1.RequestLine{Method: http1.MethodGet, Target: path, Version: http1.HTTP11}, h),
		done:   make(chan error, 1),
	}
	x.parser = http1.NewResponseParser(http1.ResponseOptions{
		Method: http1.MethodGet,
		Decode: true,
		OnData: func(p []byte) { x.body.Write(p) },
	})
	return x
}

func (x *exchange) Serialize(out *octet.Buffer) error     { return x.writer.Serialize(out) }
func (x *exchange) OnResponse(data []byte) (int, error) { return x.parser.Parse(data) }
func (x *exchange) OnPeerClosed() bool                   { return x.parser.HandlePeerClosed() }
func (x *exchange) OnTerminated(err error)               { x.parser.Close(); x.done <- err }
func (x *exchange) HasResponse() bool                    { return true }
func (x *exchange) IsPipeline() bool                     { return true }
func (x *exchange) Configure() *Configure                { return x.cfg }

func (x *exchange) KeepAlive() bool {
	return x.parser.Header().KeepAlive(x.parser.Status().Version)
}

func (x *exchange) OnReset() error {
	x.parser.Reset()
	x.body.Reset()
	return x.writer.Reset()
}

func (x *exchange) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-x.done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("request did not finish")
		return nil
	}
}

func serverAddr(t *testing.T, srv *httptest.Server) netip.AddrPort {
	t.Helper()
	addr, err := netip.ParseAddrPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	return addr
}

func newTestRunner(t *testing.T, idle time.Duration) *Runner {
	t.Helper()
	r, err := NewRunner(RunnerConfig{IdleTimeout: idle}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func echoPath() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "path=%s", r.URL.Path)
	})
}

func TestRunner_PipelinedGetsOverOneConnection(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := httptest.NewServer(echoPath())
	defer srv.Close()

	r := newTestRunner(t, 0)
	defer r.Close()

	cfg := NewDialerConfig().Configure(serverAddr(t, srv), false, srv.Listener.Addr().String(), nil)
	var xs []*exchange
	for i := 0; i < 5; i++ {
		x := newExchange(cfg, srv.Listener.Addr().String(), fmt.Sprintf("/item/%d", i))
		xs = append(xs, x)
		require.NoError(t, r.PushRequest(x))
	}
	for i, x := range xs {
		require.NoError(t, x.wait(t))
		assert.Equal(t, 200, x.parser.Status().Code)
		assert.Equal(t, fmt.Sprintf("path=/item/%d", i), x.body.String())
	}

	var count int
	require.NoError(t, r.Looper().RunSync(func() { count = r.ConnectionCount() }))
	assert.Equal(t, 1, count)
}

func TestRunner_ConnectRefused(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := netip.MustParseAddrPort(ln.Addr().String())
	require.NoError(t, ln.Close())

	r := newTestRunner(t, 0)
	defer r.Close()

	x := newExchange(NewDialerConfig().Configure(addr, false, addr.String(), nil), addr.String(), "/")
	require.NoError(t, r.PushRequest(x))
	assert.Equal(t, status.ConnectFailed, status.Of(x.wait(t)))
}

func TestRunner_ServerCloseRequeuesOnFreshConnection(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		fmt.Fprint(w, r.URL.Path)
	}))
	defer srv.Close()

	r := newTestRunner(t, 0)
	defer r.Close()

	host := srv.Listener.Addr().String()
	cfg := NewDialerConfig().Configure(serverAddr(t, srv), false, host, nil)
	a, b, c := newExchange(cfg, host, "/a"), newExchange(cfg, host, "/b"), newExchange(cfg, host, "/c")
	for _, x := range []*exchange{a, b, c} {
		require.NoError(t, r.PushRequest(x))
	}
	for _, x := range []*exchange{a, b, c} {
		require.NoError(t, x.wait(t))
	}
	assert.Equal(t, "/a", a.body.String())
	assert.Equal(t, "/b", b.body.String())
	assert.Equal(t, "/c", c.body.String())
}

func TestRunner_TLS(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := httptest.NewTLSServer(echoPath())
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	dc := NewDialerConfig()
	dc.TLSConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}

	r := newTestRunner(t, 0)
	defer r.Close()

	host := srv.Listener.Addr().String()
	cfg := dc.Configure(serverAddr(t, srv), true, host, nil)
	require.Equal(t, "127.0.0.1", cfg.ServerName)
	first, second := newExchange(cfg, host, "/secure/1"), newExchange(cfg, host, "/secure/2")
	require.NoError(t, r.PushRequest(first))
	require.NoError(t, r.PushRequest(second))
	require.NoError(t, first.wait(t))
	require.NoError(t, second.wait(t))
	assert.Equal(t, "path=/secure/1", first.body.String())
	assert.Equal(t, "path=/secure/2", second.body.String())
}

func TestRunner_EvictsIdleConnections(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := httptest.NewServer(echoPath())
	defer srv.Close()

	r := newTestRunner(t, 500*time.Millisecond)
	defer r.Close()

	host := srv.Listener.Addr().String()
	x := newExchange(NewDialerConfig().Configure(serverAddr(t, srv), false, host, nil), host, "/")
	require.NoError(t, r.PushRequest(x))
	require.NoError(t, x.wait(t))

	assert.Eventually(t, func() bool {
		var count int
		if err := r.Looper().RunSync(func() { count = r.ConnectionCount() }); err != nil {
			return false
		}
		return count == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRunner_ClosedRunnerRejects(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	r := newTestRunner(t, 0)
	require.NoError(t, r.Close())
	addr := netip.MustParseAddrPort("127.0.0.1:9")
	x := newExchange(NewDialerConfig().Configure(addr, false, addr.String(), nil), addr.String(), "/")
	assert.Error(t, r.PushRequest(x))
}

func TestRunner_PushesRacingCloseAllTerminate(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	r := newTestRunner(t, 0)
	addr := netip.MustParseAddrPort("127.0.0.1:9")

	const n = 32
	accepted := make(chan *exchange, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			x := newExchange(NewDialerConfig().Configure(addr, false, addr.String(), nil), addr.String(), "/")
			if r.PushRequest(x) == nil {
				accepted <- x
			}
		}()
	}
	require.NoError(t, r.Close())
	wg.Wait()
	close(accepted)

	for x := range accepted {
		assert.Error(t, x.wait(t))
	}
}
