package session

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/vlanhop/vlanhop/pkg/dialect"
	"github.com/vlanhop/vlanhop/pkg/util"
)

// SSHDialer opens interactive PTY shells on Cisco devices.
type SSHDialer struct {
	// KnownHostsFile enables host key verification. Empty accepts any key.
	KnownHostsFile string
	// LegacyAlgorithms adds the SHA-1 key exchanges and CBC ciphers that
	// older IOS images still require.
	LegacyAlgorithms bool
}

func (d *SSHDialer) clientConfig(cred Credential, timeout time.Duration) (*ssh.ClientConfig, error) {
	hostKey := ssh.InsecureIgnoreHostKey()
	if d.KnownHostsFile != "" {
		cb, err := knownhosts.New(d.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("known_hosts: %w", err)
		}
		hostKey = cb
	}

	cfg := &ssh.ClientConfig{
		User: cred.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(cred.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = cred.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}
	if d.LegacyAlgorithms {
		supported := ssh.SupportedAlgorithms()
		insecure := ssh.InsecureAlgorithms()
		cfg.KeyExchanges = append(supported.KeyExchanges, insecure.KeyExchanges...)
		cfg.Ciphers = append(supported.Ciphers, insecure.Ciphers...)
	}
	return cfg, nil
}

// Dial implements Dialer. The returned Conn is at the privileged prompt
// with no terminal setup applied; the broker sends the dialect's setup
// commands.
func (d *SSHDialer) Dial(ctx context.Context, dev Device, cred Credential, timeout time.Duration) (Conn, error) {
	dl, err := dialect.Lookup(dev.DeviceType)
	if err != nil {
		return nil, err
	}
	cfg, err := d.clientConfig(cred, timeout)
	if err != nil {
		return nil, err
	}

	addr := dev.Addr()
	nd := net.Dialer{Timeout: timeout}
	raw, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	raw.SetDeadline(time.Now().Add(timeout))
	c, chans, reqs, err := ssh.NewClientConn(raw, addr, cfg)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	raw.SetDeadline(time.Time{})
	client := ssh.NewClient(c, chans, reqs)

	conn, err := openShell(ctx, client, dl.ReliableEcho(), cred, timeout)
	if err != nil {
		client.Close()
		return nil, err
	}
	util.WithDevice(dev.String()).Debugf("shell open as %s (credential %s)", conn.hostname, cred.Name)
	return conn, nil
}

// sshConn is a shell bound to its SSH client.
type sshConn struct {
	*shell
	client  *ssh.Client
	session *ssh.Session
}

func openShell(ctx context.Context, client *ssh.Client, strictEcho bool, cred Credential, timeout time.Duration) (*sshConn, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 115200,
		ssh.TTY_OP_OSPEED: 115200,
	}
	if err := sess.RequestPty("vt100", 200, 511, modes); err != nil {
		sess.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	conn := &sshConn{
		shell:   newShell(stdin, stdout, sess, strictEcho),
		client:  client,
		session: sess,
	}
	mode, err := conn.discover(ctx, timeout)
	if err != nil {
		conn.shell.Close()
		return nil, err
	}
	if mode == '>' {
		secret := cred.EnableSecret
		if secret == "" {
			secret = cred.Password
		}
		if err := conn.enable(ctx, secret, timeout); err != nil {
			conn.shell.Close()
			return nil, err
		}
	}
	return conn, nil
}

// Close ends the shell and the SSH connection.
func (c *sshConn) Close() error {
	c.shell.Close()
	return c.client.Close()
}
