package wsbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/muurk/blufi/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer answers every frame with the same bytes reversed.
func echoServer(t *testing.T, mtu int) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle(DefaultPath, &Handler{
		MTU: mtu,
		Attach: func(_ string, tr transport.Transport) error {
			return tr.Subscribe(func(data []byte) {
				out := make([]byte, len(data))
				for i, b := range data {
					out[len(data)-1-i] = b
				}
				_ = tr.Write(context.Background(), out)
			})
		},
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultPath
}

func TestDialAndEcho(t *testing.T) {
	url := echoServer(t, 128)

	d := &Dialer{}
	tr, err := d.Dial(context.Background(), url)
	require.NoError(t, err)
	defer tr.Close()

	mtu, err := tr.MTU()
	require.NoError(t, err)
	assert.Equal(t, 128, mtu)

	got := make(chan []byte, 1)
	require.NoError(t, tr.Subscribe(func(data []byte) { got <- data }))
	require.NoError(t, tr.Write(context.Background(), []byte{1, 2, 3}))

	select {
	case data := <-got:
		assert.Equal(t, []byte{3, 2, 1}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply from server")
	}
}

func TestDialWithoutMTU(t *testing.T) {
	url := echoServer(t, 0)
	tr, err := (&Dialer{}).Dial(context.Background(), url)
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.MTU()
	assert.ErrorIs(t, err, transport.ErrMTUUnavailable)
}

func TestWriteAfterClose(t *testing.T) {
	url := echoServer(t, 0)
	tr, err := (&Dialer{}).Dial(context.Background(), url)
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	err = tr.Write(context.Background(), []byte{1})
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestDialBadURL(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := (&Dialer{HandshakeTimeout: time.Second}).Dial(context.Background(),
		"ws"+strings.TrimPrefix(srv.URL, "http")+DefaultPath)
	assert.Error(t, err)
}
