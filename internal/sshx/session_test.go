package sshx

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
)

func testPublicKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func TestResolveKeyPath(t *testing.T) {
	root := t.TempDir()
	repoKey := filepath.Join(root, "keys", "pg7")
	if err := os.MkdirAll(filepath.Dir(repoKey), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(repoKey, []byte("key material"), 0o600); err != nil {
		t.Fatal(err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory in test environment")
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{"absolute passes through", "/etc/keys/id", "/etc/keys/id"},
		{"empty passes through", "", ""},
		{"relative under project root", "keys/pg7", repoKey},
		{"relative missing falls back to home", "keys/absent", filepath.Join(home, "keys", "absent")},
		{"tilde expands to home", "~/.ssh/id_ed25519", filepath.Join(home, ".ssh", "id_ed25519")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveKeyPath(root, tt.path); got != tt.want {
				t.Errorf("ResolveKeyPath(%q, %q) = %q, want %q", root, tt.path, got, tt.want)
			}
		})
	}
}

func TestHostKeyPolicyFailsClosed(t *testing.T) {
	d := &ClientDialer{KnownHostsPath: filepath.Join(t.TempDir(), "known_hosts")}

	// No known_hosts file and no trust-on-first-use: the policy itself must
	// refuse to come up rather than silently trust anyone.
	if _, err := d.hostKeyCallback(false); err == nil {
		t.Fatal("expected error building reject policy without known_hosts")
	}
}

func TestHostKeyTrustOnFirstUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	d := &ClientDialer{KnownHostsPath: path}
	key := testPublicKey(t)
	addr := &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 22}

	cb, err := d.hostKeyCallback(true)
	if err != nil {
		t.Fatalf("build TOFU policy: %v", err)
	}
	if err := cb("db1.example.com:22", addr, key); err != nil {
		t.Fatalf("first-use key not accepted: %v", err)
	}

	// The key must now be persisted and accepted by a strict policy.
	strict, err := d.hostKeyCallback(false)
	if err != nil {
		t.Fatalf("reject policy after trust: %v", err)
	}
	if err := strict("db1.example.com:22", addr, key); err != nil {
		t.Errorf("previously trusted key rejected: %v", err)
	}

	// A different key for the same host is a mismatch, not a new host.
	other := testPublicKey(t)
	cb2, err := d.hostKeyCallback(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := cb2("db1.example.com:22", addr, other); err == nil {
		t.Error("changed host key accepted under TOFU policy")
	}
}

func TestHostKeyRejectsUnknownHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	d := &ClientDialer{KnownHostsPath: path}
	key := testPublicKey(t)
	addr := &net.TCPAddr{IP: net.ParseIP("192.0.2.11"), Port: 22}

	// Seed one trusted host via TOFU.
	cb, err := d.hostKeyCallback(true)
	if err != nil {
		t.Fatal(err)
	}
	if err := cb("trusted:22", addr, key); err != nil {
		t.Fatal(err)
	}

	strict, err := d.hostKeyCallback(false)
	if err != nil {
		t.Fatal(err)
	}
	if err := strict("stranger:22", addr, testPublicKey(t)); err == nil {
		t.Error("unknown host accepted by strict policy")
	}
}

func TestSanitize(t *testing.T) {
	if got := sanitize("ok\n"); got != "ok" {
		t.Errorf("sanitize trims: got %q", got)
	}
	got := sanitize(string([]byte{0xff, 0xfe, 'h', 'i'}))
	if got != "��hi" {
		t.Errorf("invalid bytes not replaced: %q", got)
	}
}
