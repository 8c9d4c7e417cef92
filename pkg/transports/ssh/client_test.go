package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// testSSHServer provides a minimal RouterOS-like SSH server for testing.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	done     chan struct{}
}

// newTestSSHServer creates a new test SSH server.
func newTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "admin" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	server := &testSSHServer{
		listener: listener,
		config:   config,
		addr:     listener.Addr().String(),
		done:     make(chan struct{}),
	}
	go server.serve()
	t.Cleanup(server.close)

	return server
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func (s *testSSHServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		if req.Type == "subsystem" && string(req.Payload[4:]) == "sftp" {
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			go ssh.DiscardRequests(requests)
			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			_ = server.Serve()
			_ = server.Close()
			return
		}

		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}

		command := string(req.Payload[4:])
		if req.WantReply {
			_ = req.Reply(true, nil)
		}

		status := uint32(0)
		switch command {
		case "/system identity print":
			_, _ = channel.Write([]byte("  name: MikroTik-Test\n"))
		case "/export":
			_, _ = channel.Write([]byte("# RouterOS export\n/system identity\nset name=MikroTik-Test\n"))
		case "/bad command":
			_, _ = channel.Stderr().Write([]byte("bad command name\n"))
			status = 1
		case "/sleep":
			time.Sleep(2 * time.Second)
		default:
			_, _ = channel.Write([]byte("command: " + command + "\n"))
		}

		payload := make([]byte, 4)
		binary.BigEndian.PutUint32(payload, status)
		_, _ = channel.SendRequest("exit-status", false, payload)
		return
	}
}

func (s *testSSHServer) close() {
	close(s.done)
	_ = s.listener.Close()
}

func (s *testSSHServer) clientConfig(t *testing.T) *Config {
	t.Helper()

	host, portStr, err := net.SplitHostPort(s.addr)
	if err != nil {
		t.Fatalf("bad address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	config := DefaultConfig(host, "admin")
	config.Port = port
	config.Password = "secret"
	config.ConnectionTimeout = 5 * time.Second
	config.CommandTimeout = 5 * time.Second
	return config
}

func TestClientRun(t *testing.T) {
	server := newTestSSHServer(t)

	client, err := NewClient(server.clientConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	out, err := client.Run(context.Background(), "/system identity print")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out != "name: MikroTik-Test" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestClientExecNonZeroExit(t *testing.T) {
	server := newTestSSHServer(t)

	client, err := NewClient(server.clientConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	result, err := client.Exec(context.Background(), "/bad command")
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if result.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", result.ExitCode)
	}
	if result.Stderr != "bad command name" {
		t.Errorf("unexpected stderr %q", result.Stderr)
	}

	_, err = client.Run(context.Background(), "/bad command")
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "exec" {
		t.Fatalf("expected exec TransportError, got %v", err)
	}
	if IsTemporary(err) {
		t.Error("non-zero exit should not be temporary")
	}
}

func TestClientAuthFailure(t *testing.T) {
	server := newTestSSHServer(t)

	config := server.clientConfig(t)
	config.Password = "wrong"
	client, err := NewClient(config, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	_, err = client.Run(context.Background(), "/export")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !te.IsAuthError {
		t.Errorf("expected auth error, got %+v", te)
	}
	if te.Temporary() {
		t.Error("auth errors should not be temporary")
	}
}

func TestClientConnectRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(listener.Addr().String())
	_ = listener.Close()
	port, _ := strconv.Atoi(portStr)

	config := DefaultConfig("127.0.0.1", "admin")
	config.Port = port
	config.Password = "secret"

	client, err := NewClient(config, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	_, err = client.Run(context.Background(), "/export")
	if !IsTemporary(err) {
		t.Errorf("expected temporary connect error, got %v", err)
	}
}

func TestClientCommandTimeout(t *testing.T) {
	server := newTestSSHServer(t)

	config := server.clientConfig(t)
	config.CommandTimeout = 200 * time.Millisecond
	client, err := NewClient(config, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	_, err = client.Run(context.Background(), "/sleep")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	if _, err := NewClient(DefaultConfig("", "admin"), zerolog.Nop()); err == nil {
		t.Error("expected validation error")
	}
}
