package depot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Client fetches manifests from an SFTP depot. It holds at most one
// connection at a time; Connect on a connected client is a no-op.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// NewClient validates the configuration and returns an unconnected
// client.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid depot config: %w", err)
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With().Str("component", "depot").Logger(),
	}, nil
}

// Connect establishes the SSH connection and opens an SFTP session.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftpClient != nil {
		return nil
	}

	clientConfig, err := c.cfg.BuildClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.cfg.Address()
	c.logger.Debug().Str("address", address).Msg("Connecting to depot")

	connCh := make(chan *ssh.Client)
	errCh := make(chan error, 1)
	go func() {
		conn, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errCh <- err
			return
		}
		select {
		case connCh <- conn:
		case <-ctx.Done():
			_ = conn.Close()
		}
	}()

	var sshClient *ssh.Client
	select {
	case <-ctx.Done():
		return &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case err := <-errCh:
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	case sshClient = <-connCh:
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return &TransportError{Op: "sftp-init", Err: err, IsTemporary: true}
	}

	c.sshClient = sshClient
	c.sftpClient = sftpClient
	c.logger.Info().Str("address", address).Msg("Depot connection established")
	return nil
}

// Connected reports whether the client holds an open SFTP session.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sftpClient != nil
}

// Fetch downloads the remote manifest and returns its contents together
// with the hex SHA-256 checksum.
func (c *Client) Fetch(ctx context.Context) ([]byte, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftpClient == nil {
		return nil, "", &TransportError{Op: "fetch", Err: errors.New("not connected")}
	}

	start := time.Now()
	remoteFile, err := c.sftpClient.Open(c.cfg.RemotePath)
	if err != nil {
		return nil, "", &TransportError{
			Op:          "fetch",
			Err:         fmt.Errorf("failed to open remote file: %w", err),
			IsTemporary: true,
		}
	}
	defer remoteFile.Close()

	var buf bytes.Buffer
	if _, err := copyWithContext(ctx, &buf, remoteFile); err != nil {
		return nil, "", &TransportError{Op: "fetch", Err: err, IsTemporary: true}
	}

	data := buf.Bytes()
	sum := Checksum(data)
	c.logger.Debug().
		Str("remote", c.cfg.RemotePath).
		Int("bytes", len(data)).
		Str("checksum", sum).
		Dur("duration", time.Since(start)).
		Msg("Manifest fetched from depot")

	return data, sum, nil
}

// FetchTo downloads the remote manifest to localPath, creating parent
// directories as needed, and returns the checksum.
func (c *Client) FetchTo(ctx context.Context, localPath string) (string, error) {
	data, sum, err := c.Fetch(ctx)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", &TransportError{
			Op:  "fetch-to",
			Err: fmt.Errorf("failed to create local directory: %w", err),
		}
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return "", &TransportError{
			Op:  "fetch-to",
			Err: fmt.Errorf("failed to write local file: %w", err),
		}
	}

	c.logger.Info().
		Str("remote", c.cfg.RemotePath).
		Str("local", localPath).
		Str("checksum", sum).
		Msg("Manifest downloaded")

	return sum, nil
}

// Close tears down the SFTP session and the SSH connection. Closing an
// unconnected client is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.sftpClient != nil {
		if err := c.sftpClient.Close(); err != nil {
			firstErr = err
		}
		c.sftpClient = nil
	}
	if c.sshClient != nil {
		if err := c.sshClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.sshClient = nil
	}

	if firstErr != nil {
		return &TransportError{Op: "close", Err: firstErr}
	}
	return nil
}

// Checksum returns the hex SHA-256 digest of data.
func Checksum(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// copyWithContext copies src to dst, checking for cancellation between
// chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, rerr
		}
	}
}
