package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pkg/sftp"
)

// ErrFileNotFound is returned when a remote file does not exist.
var ErrFileNotFound = errors.New("remote file not found")

// FileReader reads and removes files on a remote device.
type FileReader interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	RemoveFile(ctx context.Context, path string) error
}

// ReadFile downloads path over SFTP.
func (c *Client) ReadFile(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := c.withSFTP(ctx, "download", func(client *sftp.Client) error {
		f, err := client.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		data, err = io.ReadAll(f)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("file downloaded")
	return data, nil
}

// RemoveFile deletes path over SFTP. A missing file is not an error.
func (c *Client) RemoveFile(ctx context.Context, path string) error {
	err := c.withSFTP(ctx, "remove", func(client *sftp.Client) error {
		return client.Remove(path)
	})
	if errors.Is(err, ErrFileNotFound) {
		return nil
	}
	return err
}

// withSFTP opens a connection and an SFTP session for fn. The connection
// is closed when ctx is done, which aborts fn.
func (c *Client) withSFTP(ctx context.Context, op string, fn func(*sftp.Client) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		done <- fn(client)
	}()

	select {
	case <-ctx.Done():
		_ = conn.Close()
		<-done
		return &TransportError{Op: op, Err: ctx.Err(), IsTemporary: true}
	case err := <-done:
		if err == nil {
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return &TransportError{Op: op, Err: fmt.Errorf("%w: %v", ErrFileNotFound, err)}
		}
		return &TransportError{Op: op, Err: err, IsTemporary: true}
	}
}
