package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Client runs commands on a single device, one connection per command.
type Client struct {
	config *Config
	logger zerolog.Logger
}

// NewClient creates a new SSH client.
func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		config: config,
		logger: logger.With().Str("component", "ssh").Str("address", config.Address()).Logger(),
	}, nil
}

// Run executes cmd and returns its trimmed stdout. A non-zero exit status is
// returned as an error carrying stderr.
func (c *Client) Run(ctx context.Context, cmd string) (string, error) {
	result, err := c.Exec(ctx, cmd)
	if err != nil {
		return "", err
	}

	if result.ExitCode != 0 {
		msg := result.Stderr
		if msg == "" {
			msg = result.Stdout
		}
		return result.Stdout, &TransportError{
			Op:  "exec",
			Err: fmt.Errorf("command %q exited with status %d: %s", cmd, result.ExitCode, msg),
		}
	}

	return result.Stdout, nil
}

// Exec executes cmd and returns the full result.
func (c *Client) Exec(ctx context.Context, cmd string) (*ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	startTime := time.Now()

	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:          "session",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	c.logger.Debug().Str("command", cmd).Msg("executing command")

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, &TransportError{
			Op:          "exec",
			Err:         ctx.Err(),
			IsTemporary: true,
		}
	case execErr = <-doneChan:
	}

	result := &ExecResult{
		Stdout:   strings.TrimSpace(stdoutBuf.String()),
		Stderr:   strings.TrimSpace(stderrBuf.String()),
		Duration: time.Since(startTime),
	}

	var exitErr *ssh.ExitError
	switch {
	case execErr == nil:
	case errors.As(execErr, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
	default:
		return nil, &TransportError{
			Op:          "exec",
			Err:         execErr,
			IsTemporary: true,
		}
	}

	c.logger.Debug().
		Str("command", cmd).
		Int("exit_code", result.ExitCode).
		Int("stdout_len", len(result.Stdout)).
		Dur("duration", result.Duration).
		Msg("command finished")

	return result, nil
}

// connect dials the device, bounding both the TCP dial and the SSH
// handshake by ctx.
func (c *Client) connect(ctx context.Context) (*ssh.Client, error) {
	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return nil, &TransportError{
			Op:          "connect",
			Err:         err,
			IsAuthError: true,
		}
	}

	address := c.config.Address()
	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: true,
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		_ = conn.Close()
		auth := strings.Contains(err.Error(), "unable to authenticate")
		return nil, &TransportError{
			Op:          "handshake",
			Err:         err,
			IsTemporary: !auth,
			IsAuthError: auth,
		}
	}

	// The deadline only guards the handshake; commands are bounded by ctx.
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}
