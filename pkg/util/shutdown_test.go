package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownOrder(t *testing.T) {
	gs := NewGracefulShutdown(testLogger(), time.Second)

	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	// Registered out of order; priority decides.
	gs.Register(ShutdownResource{Name: "database", Priority: 20, Shutdown: record("database")})
	gs.Register(ShutdownResource{Name: "listener", Priority: 10, Shutdown: record("listener")})
	gs.Register(ShutdownResource{Name: "cache", Priority: 15, Shutdown: record("cache")})

	require.NoError(t, gs.Shutdown(context.Background()))
	assert.Equal(t, []string{"listener", "cache", "database"}, order)
}

func TestShutdownCollectsErrors(t *testing.T) {
	gs := NewGracefulShutdown(testLogger(), time.Second)

	bad := errors.New("listener stuck")
	var databaseClosed bool
	gs.Register(ShutdownResource{
		Name:     "listener",
		Priority: 10,
		Shutdown: func(context.Context) error { return bad },
	})
	gs.Register(ShutdownResource{
		Name:     "database",
		Priority: 20,
		Shutdown: func(context.Context) error {
			databaseClosed = true
			return nil
		},
	})

	err := gs.Shutdown(context.Background())
	assert.ErrorIs(t, err, bad)
	assert.True(t, databaseClosed, "a failing resource must not block the rest")
}

type closer struct{ closed bool }

func (c *closer) Close() error {
	c.closed = true
	return nil
}

func TestRegisterCloser(t *testing.T) {
	gs := NewGracefulShutdown(testLogger(), time.Second)
	c := &closer{}
	gs.RegisterCloser("store", c, 10)

	require.NoError(t, gs.Shutdown(context.Background()))
	assert.True(t, c.closed)
}
