// Package valkeytest starts disposable valkey servers in containers for
// integration tests.
package valkeytest

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/valkey-io/valkey-go"
)

const image = "valkey/valkey:9-alpine3.23"

// NewTestValkey starts a valkey server and returns its address. Tests
// calling it are skipped in -short mode.
func NewTestValkey(t testing.TB) (address string, done func()) {
	t.Helper()
	return NewTestValkeyWithPassword(t, "")
}

func NewTestValkeyWithPassword(t testing.TB, password string) (address string, done func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("valkey container tests are skipped in short mode")
	}

	var args []string
	if password != "" {
		args = append(args, "valkey-server", "--requirepass", password)
	}

	start := time.Now()

	// first testcontainer start takes longer than subsequent
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			Cmd:          args,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start valkey server: %v", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	address, err = container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get valkey address: %v", err)
	}

	t.Logf("Started valkey server at %s in %v", address, time.Since(start))

	if err := ping(ctx, address, password); err != nil {
		t.Fatalf("Failed to ping valkey server: %v", err)
	}

	done = func() {
		t.Logf("Stopping valkey server at %s", address)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("Failed to stop valkey: %v", err)
		}
	}
	return
}

func ping(ctx context.Context, address, password string) error {
	vdb, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{address},
		Password:    password,
	})
	if err != nil {
		return err
	}
	defer vdb.Close()

	for res := vdb.Do(ctx, vdb.B().Ping().Build()); ctx.Err() == nil && res.Error() != nil; res = vdb.Do(ctx, vdb.B().Ping().Build()) {
		time.Sleep(100 * time.Millisecond)
	}
	return ctx.Err()
}
