package node

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	csi "github.com/container-storage-interface/spec/lib/go/csi"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joejulian/sshmount/pkg/remotemount"
)

const (
	DriverName    = "sshmount.csi.driver"
	DriverVersion = "0.1.0"
)

type Node struct {
	nodeID   string
	endpoint string
	manager  *remotemount.Manager

	mu      sync.Mutex
	server  *grpc.Server
	stopped bool

	csi.UnimplementedNodeServer
	csi.UnimplementedIdentityServer
}

// NewNode creates a CSI node service that mounts volumes through manager.
// endpoint is a unix:// or tcp:// URI; a bare path is treated as a unix
// socket.
func NewNode(nodeID, endpoint string, manager *remotemount.Manager) *Node {
	return &Node{
		nodeID:   nodeID,
		endpoint: endpoint,
		manager:  manager,
	}
}

func (n *Node) Run() error {
	network, address, err := parseURI(n.endpoint)
	if err != nil {
		return fmt.Errorf("failed to parse endpoint: %q: %w", n.endpoint, err)
	}

	if network == "unix" {
		// Remove the socket file if it already exists
		if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(address), 0o755); err != nil {
			return err
		}
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}

	server := grpc.NewServer(grpc.UnaryInterceptor(unaryLoggingInterceptor(n.nodeID)))
	csi.RegisterNodeServer(server, n)
	csi.RegisterIdentityServer(server, n)

	// Register reflection service for debugging
	reflection.Register(server)

	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		listener.Close()
		return nil
	}
	n.server = server
	n.mu.Unlock()

	BaseLogger().Info("starting node gRPC server",
		zap.String("endpoint", n.endpoint),
		zap.String("node_id", n.nodeID),
	)
	return server.Serve(listener)
}

func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = true
	if n.server != nil {
		n.server.Stop()
	}
}

func (n *Node) NodeGetCapabilities(ctx context.Context, req *csi.NodeGetCapabilitiesRequest) (*csi.NodeGetCapabilitiesResponse, error) {
	// Volumes are mounted directly at the publish target; there is no staging.
	return &csi.NodeGetCapabilitiesResponse{
		Capabilities: []*csi.NodeServiceCapability{},
	}, nil
}

func (n *Node) GetPluginCapabilities(ctx context.Context, req *csi.GetPluginCapabilitiesRequest) (*csi.GetPluginCapabilitiesResponse, error) {
	return &csi.GetPluginCapabilitiesResponse{
		Capabilities: []*csi.PluginCapability{}}, nil
}

func (n *Node) Probe(ctx context.Context, req *csi.ProbeRequest) (*csi.ProbeResponse, error) {
	return &csi.ProbeResponse{Ready: wrapperspb.Bool(true)}, nil
}

func (n *Node) GetPluginInfo(ctx context.Context, req *csi.GetPluginInfoRequest) (*csi.GetPluginInfoResponse, error) {
	return &csi.GetPluginInfoResponse{
		Name:          DriverName,
		VendorVersion: DriverVersion,
	}, nil
}

func parseURI(uri string) (network, address string, err error) {
	parsedURL, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid URI: %w", err)
	}

	network = parsedURL.Scheme
	switch network {
	case "unix":
		address = parsedURL.Path
	case "tcp":
		address = parsedURL.Host
	case "":
		network, address = "unix", uri
	default:
		return "", "", fmt.Errorf("unsupported network scheme: %s", network)
	}
	if address == "" {
		return "", "", fmt.Errorf("empty address in %q", uri)
	}

	return network, address, nil
}
