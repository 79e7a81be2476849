package depot

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func testConfig() Config {
	return Config{
		Host:           "depot.example.com",
		Port:           22,
		User:           "stevedore",
		AuthMethod:     AuthMethodPassword,
		Password:       "secret",
		RemotePath:     "/srv/manifests/device.yaml",
		ConnectTimeout: 30 * time.Second,
	}
}

// writeTestKey generates an ED25519 private key and writes it in
// OpenSSH PEM form.
func writeTestKey(t *testing.T) string {
	t.Helper()

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		t.Fatalf("failed to marshal test key: %v", err)
	}

	keyPath := filepath.Join(t.TempDir(), "test_key")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(pemBlock), 0o600); err != nil {
		t.Fatalf("failed to write test key: %v", err)
	}
	return keyPath
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name       string
		modifyFunc func(*Config)
		wantErr    string
	}{
		{
			name:       "valid password config",
			modifyFunc: func(c *Config) {},
		},
		{
			name: "missing host",
			modifyFunc: func(c *Config) {
				c.Host = ""
			},
			wantErr: "host is required",
		},
		{
			name: "invalid port",
			modifyFunc: func(c *Config) {
				c.Port = 0
			},
			wantErr: "invalid port",
		},
		{
			name: "missing user",
			modifyFunc: func(c *Config) {
				c.User = ""
			},
			wantErr: "user is required",
		},
		{
			name: "missing remote path",
			modifyFunc: func(c *Config) {
				c.RemotePath = ""
			},
			wantErr: "remote path is required",
		},
		{
			name: "password auth without password",
			modifyFunc: func(c *Config) {
				c.Password = ""
			},
			wantErr: "password is required",
		},
		{
			name: "key auth without key path",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodKey
				c.Password = ""
			},
			wantErr: "private key path is required",
		},
		{
			name: "key file not found",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodKey
				c.PrivateKeyPath = "/nonexistent/key"
			},
			wantErr: "private key file not found",
		},
		{
			name: "unsupported auth method",
			modifyFunc: func(c *Config) {
				c.AuthMethod = "agent"
			},
			wantErr: "unsupported auth method",
		},
		{
			name: "zero connect timeout",
			modifyFunc: func(c *Config) {
				c.ConnectTimeout = 0
			},
			wantErr: "connect timeout must be positive",
		},
		{
			name: "strict checking without known_hosts",
			modifyFunc: func(c *Config) {
				c.StrictHostKeyChecking = true
			},
			wantErr: "requires a known_hosts path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modifyFunc(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestBuildClientConfig(t *testing.T) {
	t.Run("password authentication", func(t *testing.T) {
		cfg := testConfig()

		clientConfig, err := cfg.BuildClientConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if clientConfig.User != "stevedore" {
			t.Errorf("expected user stevedore, got %s", clientConfig.User)
		}
		// Password plus keyboard-interactive fallback.
		if len(clientConfig.Auth) != 2 {
			t.Errorf("expected 2 auth methods, got %d", len(clientConfig.Auth))
		}
		if clientConfig.Timeout != 30*time.Second {
			t.Errorf("expected 30s timeout, got %v", clientConfig.Timeout)
		}
	})

	t.Run("key authentication", func(t *testing.T) {
		cfg := testConfig()
		cfg.AuthMethod = AuthMethodKey
		cfg.Password = ""
		cfg.PrivateKeyPath = writeTestKey(t)

		clientConfig, err := cfg.BuildClientConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(clientConfig.Auth) != 1 {
			t.Errorf("expected 1 auth method, got %d", len(clientConfig.Auth))
		}
	})

	t.Run("unparseable key", func(t *testing.T) {
		keyPath := filepath.Join(t.TempDir(), "bad_key")
		if err := os.WriteFile(keyPath, []byte("not a key"), 0o600); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}

		cfg := testConfig()
		cfg.AuthMethod = AuthMethodKey
		cfg.PrivateKeyPath = keyPath

		if _, err := cfg.BuildClientConfig(); err == nil {
			t.Error("expected error for unparseable key")
		}
	})

	t.Run("missing known_hosts", func(t *testing.T) {
		cfg := testConfig()
		cfg.StrictHostKeyChecking = true
		cfg.KnownHostsPath = "/nonexistent/known_hosts"

		if _, err := cfg.BuildClientConfig(); err == nil {
			t.Error("expected error for missing known_hosts file")
		}
	})
}

func TestConfigAddress(t *testing.T) {
	cfg := testConfig()
	cfg.Port = 2222

	if addr := cfg.Address(); addr != "depot.example.com:2222" {
		t.Errorf("unexpected address: %s", addr)
	}
}
