// Package preflight verifies the prerequisites of a remote mount: the SSH
// service is reachable and a public key grants passwordless access.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/joejulian/sshmount/pkg/logging"
)

const DefaultTimeout = 10 * time.Second

var (
	ErrUnreachable       = errors.New("ssh service unreachable")
	ErrNoCredentials     = errors.New("no ssh agent or identity file available for public key authentication")
	ErrAuthFailed        = errors.New("passwordless ssh authentication failed")
	ErrHostKey           = errors.New("ssh host key verification failed")
	ErrRemotePathMissing = errors.New("remote path is not a directory")
)

type Options struct {
	Address string
	User    string

	IdentityFile string
	// UseAgent enables keys from the agent at $SSH_AUTH_SOCK.
	UseAgent bool

	// KnownHostsFile defaults to ~/.ssh/known_hosts.
	KnownHostsFile        string
	InsecureIgnoreHostKey bool

	Timeout time.Duration

	// RemotePath, when set, is checked with `test -d` on the remote host.
	RemotePath string
}

type Report struct {
	Address            string        `json:"address" yaml:"address"`
	User               string        `json:"user" yaml:"user"`
	Reachable          bool          `json:"reachable" yaml:"reachable"`
	Authenticated      bool          `json:"authenticated" yaml:"authenticated"`
	RemotePathChecked  bool          `json:"remote_path_checked" yaml:"remote_path_checked"`
	HostKeyFingerprint string        `json:"host_key_fingerprint,omitempty" yaml:"host_key_fingerprint,omitempty"`
	Elapsed            time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Check dials the SSH server and authenticates with public keys only. The
// returned report is filled as far as the check got, even on error.
func Check(ctx context.Context, opts Options) (*Report, error) {
	start := time.Now()
	ctx, logger := logging.StartOperation(ctx, "preflight", zap.String("address", opts.Address))

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	username := opts.User
	if username == "" {
		if u, err := user.Current(); err == nil {
			username = u.Username
		}
	}
	report := &Report{Address: opts.Address, User: username}
	defer func() { report.Elapsed = time.Since(start) }()

	auth, closeAgent, err := authMethods(opts)
	if err != nil {
		return report, err
	}
	defer closeAgent()

	hostKeyCallback, err := hostKeyCallback(opts)
	if err != nil {
		return report, err
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", opts.Address)
	if err != nil {
		return report, fmt.Errorf("%w: %s: %v", ErrUnreachable, opts.Address, err)
	}
	report.Reachable = true
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	var hostKeyErr error
	cfg := &ssh.ClientConfig{
		User: username,
		Auth: auth,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			report.HostKeyFingerprint = ssh.FingerprintSHA256(key)
			hostKeyErr = hostKeyCallback(hostname, remote, key)
			return hostKeyErr
		},
		Timeout: timeout,
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, opts.Address, cfg)
	if err != nil {
		_ = conn.Close()
		if hostKeyErr != nil {
			return report, fmt.Errorf("%w: %v", ErrHostKey, hostKeyErr)
		}
		return report, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()
	report.Authenticated = true
	logger.Debug("ssh authentication succeeded", zap.String("host_key", report.HostKeyFingerprint))

	if opts.RemotePath != "" {
		if err := checkRemoteDir(client, opts.RemotePath); err != nil {
			return report, err
		}
		report.RemotePathChecked = true
	}
	return report, nil
}

func authMethods(opts Options) ([]ssh.AuthMethod, func(), error) {
	var methods []ssh.AuthMethod
	closeAgent := func() {}

	if opts.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if c, err := net.Dial("unix", sock); err == nil {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(c).Signers))
				closeAgent = func() { _ = c.Close() }
			}
		}
	}

	if opts.IdentityFile != "" {
		pem, err := os.ReadFile(expandHome(opts.IdentityFile))
		if err != nil {
			closeAgent()
			return nil, nil, fmt.Errorf("reading identity file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		var passErr *ssh.PassphraseMissingError
		switch {
		case errors.As(err, &passErr):
			// An encrypted key can only be used through the agent.
		case err != nil:
			closeAgent()
			return nil, nil, fmt.Errorf("parsing identity file %s: %w", opts.IdentityFile, err)
		default:
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}

	if opts.IdentityFile == "" {
		if signers := defaultSigners(); len(signers) > 0 {
			methods = append(methods, ssh.PublicKeys(signers...))
		}
	}

	if len(methods) == 0 {
		closeAgent()
		return nil, nil, ErrNoCredentials
	}
	return methods, closeAgent, nil
}

// defaultIdentities are tried in ssh's order when no identity file is set.
var defaultIdentities = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// defaultSigners loads the unencrypted default keys under ~/.ssh. Missing or
// unreadable keys are skipped the way ssh skips them.
func defaultSigners() []ssh.Signer {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	var signers []ssh.Signer
	for _, name := range defaultIdentities {
		pem, err := os.ReadFile(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}
	return signers
}

func hostKeyCallback(opts Options) (ssh.HostKeyCallback, error) {
	if opts.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := opts.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: locating known_hosts: %v", ErrHostKey, err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("%w: loading %s: %v", ErrHostKey, path, err)
	}
	return cb, nil
}

func checkRemoteDir(client *ssh.Client, path string) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("opening ssh session: %w", err)
	}
	defer session.Close()

	err = session.Run("test -d " + shellQuote(path))
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: %s", ErrRemotePathMissing, path)
	}
	if err != nil {
		return fmt.Errorf("checking remote path: %w", err)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
