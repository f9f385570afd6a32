//go:build integration

// Package mongotest starts a disposable MongoDB container for
// integration-tagged tests and seeds it from YAML fixtures.
package mongotest

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	mongoImage = "mongo:7"
	mongoPort  = "27017/tcp"
	startupMax = 60 * time.Second
)

// StartMongo launches a mongo:7 container on a random host port and returns
// its connection string. The container is removed when the test finishes.
// Tests are skipped when the Docker daemon is unreachable.
func StartMongo(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	cli, err := client.NewClientWithOpts(client.WithAPIVersionNegotiation())
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	if _, err := cli.Ping(ctx); err != nil {
		t.Skipf("docker daemon unavailable: %v", err)
	}

	containerCfg := &container.Config{
		Image: mongoImage,
		ExposedPorts: nat.PortSet{
			nat.Port(mongoPort): struct{}{},
		},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			nat.Port(mongoPort): []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}},
		},
		AutoRemove: true,
	}

	resp, err := cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if client.IsErrNotFound(err) {
		pullImage(t, ctx, cli)
		resp, err = cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	}
	require.NoError(t, err, "failed to create mongo container")

	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = cli.ContainerRemove(stopCtx, resp.ID, container.RemoveOptions{Force: true})
	})

	require.NoError(t, cli.ContainerStart(ctx, resp.ID, container.StartOptions{}))

	inspect, err := cli.ContainerInspect(ctx, resp.ID)
	require.NoError(t, err)
	bindings := inspect.NetworkSettings.Ports[nat.Port(mongoPort)]
	require.NotEmpty(t, bindings, "mongo container has no published port")

	uri := fmt.Sprintf("mongodb://127.0.0.1:%s/", bindings[0].HostPort)
	waitForMongo(t, uri)
	return uri
}

func pullImage(t *testing.T, ctx context.Context, cli *client.Client) {
	t.Helper()
	reader, err := cli.ImagePull(ctx, mongoImage, image.PullOptions{})
	require.NoError(t, err, "failed to pull %s", mongoImage)
	defer func() { _ = reader.Close() }()
	_, err = io.Copy(io.Discard, reader)
	require.NoError(t, err)
}

// waitForMongo pings the server until it accepts connections.
func waitForMongo(t *testing.T, uri string) {
	t.Helper()
	deadline := time.Now().Add(startupMax)

	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		cl, err := mongo.Connect(options.Client().ApplyURI(uri).SetServerSelectionTimeout(2 * time.Second))
		if err == nil {
			err = cl.Ping(ctx, readpref.Primary())
			_ = cl.Disconnect(ctx)
		}
		cancel()
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("mongo did not become ready within %s: %v", startupMax, err)
		}
		time.Sleep(250 * time.Millisecond)
	}
}
