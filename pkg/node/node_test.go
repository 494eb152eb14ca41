package node_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	csi "github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joejulian/sshmount/pkg/node"
	"github.com/joejulian/sshmount/pkg/remotemount"
)

func startNode(t *testing.T, endpoint string) *node.Node {
	t.Helper()
	n := node.NewNode("node-1", endpoint, remotemount.NewManager(&memMounter{}))
	errc := make(chan error, 1)
	go func() { errc <- n.Run() }()
	t.Cleanup(func() {
		n.Stop()
		<-errc
	})
	return n
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", path)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond, "node never listened on %s", path)
}

// socketDir stays short; unix socket paths are limited to about 100 bytes.
func socketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sshmount")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestRun(t *testing.T) {
	t.Run("Run successfully starts server and creates socket", func(t *testing.T) {
		socket := filepath.Join(socketDir(t), "plugins", "csi.sock")
		startNode(t, "unix://"+socket)
		waitForSocket(t, socket)
	})

	t.Run("Run removes existing socket file", func(t *testing.T) {
		socket := filepath.Join(socketDir(t), "csi.sock")
		require.NoError(t, os.WriteFile(socket, nil, 0o600))

		startNode(t, socket)
		waitForSocket(t, socket)
	})

	t.Run("Run rejects unknown schemes", func(t *testing.T) {
		n := node.NewNode("node-1", "udp://127.0.0.1:0", remotemount.NewManager(&memMounter{}))
		assert.Error(t, n.Run())
	})
}

func TestIdentityOverGRPC(t *testing.T) {
	socket := filepath.Join(socketDir(t), "csi.sock")
	startNode(t, "unix://"+socket)
	waitForSocket(t, socket)

	conn, err := grpc.NewClient("unix://"+socket, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	identity := csi.NewIdentityClient(conn)
	info, err := identity.GetPluginInfo(ctx, &csi.GetPluginInfoRequest{})
	require.NoError(t, err)
	assert.Equal(t, node.DriverName, info.GetName())
	assert.NotEmpty(t, info.GetVendorVersion())

	probe, err := identity.Probe(ctx, &csi.ProbeRequest{})
	require.NoError(t, err)
	assert.True(t, probe.GetReady().GetValue())

	nodeInfo, err := csi.NewNodeClient(conn).NodeGetInfo(ctx, &csi.NodeGetInfoRequest{})
	require.NoError(t, err)
	assert.Equal(t, "node-1", nodeInfo.GetNodeId())
}
