package testutil

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

// ServeSSH starts an SSH server on 127.0.0.1 that gives every login an
// interactive shell on s, and returns its address. Passwords are checked
// against s.Users. The server stops when the test ends.
func ServeSSH(t *testing.T, s *FakeSwitch) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if len(s.Users) == 0 || s.Users[c.User()] == string(pass) {
				return nil, nil
			}
			return nil, errAuth
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(nc, cfg, s)
		}
	}()
	return ln.Addr().String()
}

type authError struct{}

func (authError) Error() string { return "permission denied" }

var errAuth = authError{}

func serveConn(nc net.Conn, cfg *ssh.ServerConfig, s *FakeSwitch) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "only session channels")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range chReqs {
				switch req.Type {
				case "pty-req", "window-change":
					req.Reply(true, nil)
				case "shell":
					req.Reply(true, nil)
					go serveShell(ch, s.NewCLI())
				default:
					req.Reply(false, nil)
				}
			}
		}()
	}
}

// serveShell emulates a PTY: input is echoed, lines end in CRLF, and the
// enable secret is read without echo.
func serveShell(ch ssh.Channel, cli *CLI) {
	defer ch.Close()
	write := func(s string) bool {
		_, err := io.WriteString(ch, strings.ReplaceAll(s, "\n", "\r\n"))
		return err == nil
	}
	if !write("\n" + cli.Prompt()) {
		return
	}

	r := bufio.NewReader(ch)
	readLine := func(echo bool) (string, bool) {
		var b strings.Builder
		for {
			c, err := r.ReadByte()
			if err != nil {
				return "", false
			}
			if c == '\r' || c == '\n' {
				if echo {
					write("\n")
				}
				return b.String(), true
			}
			b.WriteByte(c)
			if echo {
				ch.Write([]byte{c})
			}
		}
	}

	for {
		line, ok := readLine(true)
		if !ok {
			return
		}
		switch strings.TrimSpace(line) {
		case "exit", "logout":
			return
		case "enable":
			write("Password: ")
			secret, ok := readLine(false)
			if !ok {
				return
			}
			if !cli.Enable(secret) {
				write("\n% Access denied\n")
			}
			write("\n" + cli.Prompt())
			continue
		}
		out := cli.Run(line)
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		if !write(out + cli.Prompt()) {
			return
		}
	}
}
