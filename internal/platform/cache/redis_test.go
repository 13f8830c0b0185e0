package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := New(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	probe := Ping(client)
	require.NoError(t, probe(context.Background()))

	mr.Close()
	require.Error(t, probe(context.Background()))
}

func TestNewRejectsUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), addr)
	require.Error(t, err)

	_, err = New(context.Background(), "")
	require.Error(t, err)
	require.Error(t, Ping(nil)(context.Background()))
}
