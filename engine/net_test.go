package engine

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenClient(t *testing.T) net.PacketConn {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readString(conn net.PacketConn, timeout time.Duration) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 1024)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		return "", false
	}
	return string(buf[:n]), true
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.String()
}

var errFlakyRead = errors.New("flaky read")

// flakyConn fails every read, without blocking.
type flakyConn struct {
	net.PacketConn
	reads atomic.Int32
}

func (x *flakyConn) ReadFrom([]byte) (int, net.Addr, error) {
	x.reads.Add(1)
	return 0, nil, errFlakyRead
}

func TestNetReader_pauseResume(t *testing.T) {
	got := make(chan string, 16)
	reader, err := NewNetReader("127.0.0.1:0", 1024, func(payload []byte, from net.Addr) {
		got <- string(payload)
	}, nil)
	require.NoError(t, err)
	reader.Start()
	reader.Start()
	defer func() { assert.NoError(t, reader.Close()) }()
	addr := reader.Addr()

	client := listenClient(t)
	_, err = client.WriteTo([]byte("one"), addr)
	require.NoError(t, err)
	select {
	case v := <-got:
		assert.Equal(t, "one", v)
	case <-time.After(5 * time.Second):
		t.Fatal("datagram not received")
	}
	assert.Equal(t, uint64(1), reader.Received())

	require.NoError(t, reader.WriteTo([]byte("reply"), client.LocalAddr()))
	v, ok := readString(client, 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, "reply", v)

	reader.Pause()
	reader.Pause()
	assert.False(t, reader.Open())
	assert.ErrorIs(t, reader.WriteTo([]byte("x"), client.LocalAddr()), ErrNetPaused)

	require.NoError(t, reader.Resume())
	require.NoError(t, reader.Resume())
	assert.True(t, reader.Open())
	assert.Equal(t, addr.String(), reader.Addr().String())

	require.Eventually(t, func() bool {
		_, err := client.WriteTo([]byte("two"), addr)
		require.NoError(t, err)
		select {
		case v := <-got:
			return v == "two"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, time.Millisecond)
}

func TestNetReader_close(t *testing.T) {
	reader, err := NewNetReader("127.0.0.1:0", 1024, func([]byte, net.Addr) {}, nil)
	require.NoError(t, err)
	reader.Start()
	reader.Pause()
	require.NoError(t, reader.Close())
	require.NoError(t, reader.Close())
	assert.ErrorIs(t, reader.WriteTo([]byte("x"), reader.Addr()), net.ErrClosed)
	assert.NoError(t, reader.Resume())
	assert.False(t, reader.Open())
}

func TestNetReader_closeWithoutStart(t *testing.T) {
	reader, err := NewNetReader("127.0.0.1:0", 1024, func([]byte, net.Addr) {}, nil)
	require.NoError(t, err)
	assert.NoError(t, reader.Close())
	reader.Start()
}

func TestNewNetReader_errors(t *testing.T) {
	_, err := NewNetReader("127.0.0.1:0", 1024, nil, nil)
	assert.Error(t, err)
	_, err = NewNetReader("not an address", 1024, func([]byte, net.Addr) {}, nil)
	assert.Error(t, err)
}

func TestNetReader_readErrorsBackOff(t *testing.T) {
	var buf syncBuffer
	logger, err := NewLogger(LogConfig{Level: "debug", Format: FormatJSON}, &buf)
	require.NoError(t, err)
	reader, err := NewNetReader("127.0.0.1:0", 1024, func([]byte, net.Addr) {}, logger)
	require.NoError(t, err)

	flaky := &flakyConn{PacketConn: reader.conn}
	reader.mu.Lock()
	reader.conn = flaky
	reader.mu.Unlock()

	reader.Start()
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, reader.Close())

	reads := flaky.reads.Load()
	assert.Positive(t, reads)
	assert.Less(t, reads, int32(20))
	assert.Equal(t, uint64(reads), reader.ReadErrors())
	assert.Equal(t, 1, strings.Count(buf.String(), "net: read failed"))
	assert.Contains(t, buf.String(), "flaky read")
}
