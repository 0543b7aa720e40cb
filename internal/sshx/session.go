// Package sshx manages remote sessions: per-host connection parameter
// resolution, key-based authentication, host-key verification, and single
// command execution over an established connection.
package sshx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/DIPx2/WASSERFALL/internal/logging"
)

// Params describes one connection attempt.
type Params struct {
	User          string
	Host          string
	Port          int // 0 means 22
	KeyPath       string
	Timeout       time.Duration
	AllowNewHosts bool // trust-on-first-use; explicit operator opt-in
}

// Output captures what one remote invocation produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Session is an established connection capable of running commands.
type Session interface {
	// Run executes one command. A non-zero remote exit is not an error;
	// a returned error means the invocation could not be dispatched at all.
	Run(ctx context.Context, command string) (Output, error)

	// Close terminates the connection. Idempotent and best-effort.
	Close() error
}

// Dialer opens sessions. Declared as an interface so pipelines can be
// exercised without a network.
type Dialer interface {
	Dial(ctx context.Context, p Params) (Session, error)
}

// ClientDialer is the production Dialer over golang.org/x/crypto/ssh.
type ClientDialer struct {
	// Root anchors relative key paths before falling back to ~ expansion.
	Root string

	// KnownHostsPath overrides the default ~/.ssh/known_hosts.
	KnownHostsPath string

	Logger *logging.Logger
}

// client implements Session over a live ssh.Client.
type client struct {
	conn   *ssh.Client
	host   string
	logger *logging.Logger
}

// Dial resolves authentication material and opens a connection under the
// configured host-key policy. Any failure, from DNS to key rejection, is
// returned as a single error; the caller maps it to the transport-failure
// code.
func (d *ClientDialer) Dial(ctx context.Context, p Params) (Session, error) {
	keyPath := ResolveKeyPath(d.Root, p.KeyPath)

	auth, err := d.authMethods(keyPath)
	if err != nil {
		return nil, fmt.Errorf("authentication setup: %w", err)
	}

	hostKeyCallback, err := d.hostKeyCallback(p.AllowNewHosts)
	if err != nil {
		return nil, fmt.Errorf("host key policy: %w", err)
	}

	config := &ssh.ClientConfig{
		User:            p.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         p.Timeout,
	}

	port := p.Port
	if port == 0 {
		port = 22
	}
	address := net.JoinHostPort(p.Host, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: p.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		if d.Logger != nil {
			d.Logger.LogSessionError(p.Host, p.User, err)
		}
		return nil, fmt.Errorf("connect to %s: %w", address, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, config)
	if err != nil {
		netConn.Close()
		if d.Logger != nil {
			d.Logger.LogSessionError(p.Host, p.User, err)
		}
		return nil, fmt.Errorf("ssh handshake with %s: %w", address, err)
	}

	if d.Logger != nil {
		d.Logger.LogSessionOpen(p.Host, p.User)
	}

	return &client{
		conn:   ssh.NewClient(sshConn, chans, reqs),
		host:   p.Host,
		logger: d.Logger,
	}, nil
}

// Run executes command on the remote host, decoding output permissively.
func (c *client) Run(ctx context.Context, command string) (Output, error) {
	if c.conn == nil {
		return Output{ExitCode: -1}, errors.New("session closed")
	}

	session, err := c.conn.NewSession()
	if err != nil {
		return Output{ExitCode: -1}, fmt.Errorf("open channel: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err := <-done:
		out := Output{
			Stdout: sanitize(stdout.String()),
			Stderr: sanitize(stderr.String()),
		}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				// A clean remote exit, just non-zero. Classification is the
				// caller's concern.
				out.ExitCode = exitErr.ExitStatus()
				return out, nil
			}
			out.ExitCode = -1
			return out, fmt.Errorf("remote invocation: %w", err)
		}
		return out, nil

	case <-ctx.Done():
		session.Signal(ssh.SIGTERM)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			session.Signal(ssh.SIGKILL)
		}
		return Output{
			Stdout:   sanitize(stdout.String()),
			Stderr:   sanitize(stderr.String()),
			ExitCode: -1,
		}, fmt.Errorf("command timed out: %w", ctx.Err())
	}
}

// Close terminates the connection. Errors while closing are logged and
// swallowed; a closed session stays closed.
func (c *client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil && c.logger != nil {
		c.logger.Error("session close failed", "host", c.host, "error", err)
	}
	return nil
}

// authMethods loads the private key at keyPath, falling back to a running
// SSH agent when the key cannot be read or parsed.
func (d *ClientDialer) authMethods(keyPath string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	keyBytes, err := os.ReadFile(keyPath)
	if err == nil {
		signer, perr := ssh.ParsePrivateKey(keyBytes)
		if perr != nil {
			return nil, fmt.Errorf("parse private key %s: %w", keyPath, perr)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if agentConn, aerr := net.Dial("unix", sock); aerr == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers))
		}
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no usable key at %s and no ssh agent", keyPath)
	}
	return methods, nil
}

// hostKeyCallback builds the verification policy. With allowNew false only
// previously trusted keys are accepted and unknown hosts are rejected; with
// allowNew true an unknown host's key is persisted and accepted, while a
// changed key for a known host is still rejected.
func (d *ClientDialer) hostKeyCallback(allowNew bool) (ssh.HostKeyCallback, error) {
	path := d.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	if !allowNew {
		cb, err := knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", path, err)
		}
		return cb, nil
	}

	// Trust-on-first-use: consult the file when present, append on miss.
	known, err := knownhosts.New(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load known hosts %s: %w", path, err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if known != nil {
			verr := known(hostname, remote, key)
			if verr == nil {
				return nil
			}
			var keyErr *knownhosts.KeyError
			if !errors.As(verr, &keyErr) || len(keyErr.Want) > 0 {
				// Either an unrelated failure or a key mismatch for a host
				// we already trust. Never overwrite.
				return verr
			}
		}
		return appendKnownHost(path, hostname, remote, key)
	}, nil
}

func appendKnownHost(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create known hosts directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open known hosts for append: %w", err)
	}
	defer f.Close()

	addresses := []string{hostname}
	if remote != nil && remote.String() != hostname {
		addresses = append(addresses, remote.String())
	}
	line := knownhosts.Line(addresses, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("persist host key: %w", err)
	}
	return nil
}

// ResolveKeyPath resolves a configured key path. Absolute paths pass
// through. A relative path is first tried under root, so keys may live in
// the project tree; when that candidate does not exist the path is expanded
// against the user's home directory instead.
func ResolveKeyPath(root, keyPath string) string {
	if keyPath == "" || filepath.IsAbs(keyPath) {
		return keyPath
	}

	trimmed := strings.TrimPrefix(keyPath, "~/")
	if trimmed == keyPath && root != "" {
		candidate := filepath.Join(root, keyPath)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return keyPath
	}
	return filepath.Join(home, trimmed)
}

// sanitize replaces invalid byte sequences so remote output can never
// poison downstream encoding.
func sanitize(s string) string {
	return strings.TrimSpace(strings.ToValidUTF8(s, "�"))
}
