// Package archive ships run records to an archive host over SFTP, where the
// CI collaborator collects them.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/vlanhop/vlanhop/pkg/util"
)

// Archiver stores a run record under a name and returns where it went.
type Archiver interface {
	Store(ctx context.Context, name string, record interface{}) (string, error)
}

// Config locates the archive host.
type Config struct {
	Host       string
	Username   string
	Password   string
	Dir        string
	KnownHosts string
	Timeout    time.Duration
}

// SFTPArchiver writes records as JSON files below a directory, one dated
// subdirectory per day.
type SFTPArchiver struct {
	dir     string
	connect func(ctx context.Context) (*sftp.Client, func() error, error)
	now     func() time.Time
}

// NewSFTPArchiver dials cfg.Host for every Store.
func NewSFTPArchiver(cfg Config) *SFTPArchiver {
	return &SFTPArchiver{
		dir:     cfg.Dir,
		connect: func(ctx context.Context) (*sftp.Client, func() error, error) { return dial(ctx, cfg) },
		now:     time.Now,
	}
}

// NewClientArchiver uses an open SFTP client and leaves it open.
func NewClientArchiver(client *sftp.Client, dir string) *SFTPArchiver {
	return &SFTPArchiver{
		dir: dir,
		connect: func(context.Context) (*sftp.Client, func() error, error) {
			return client, func() error { return nil }, nil
		},
		now: time.Now,
	}
}

func dial(ctx context.Context, cfg Config) (*sftp.Client, func() error, error) {
	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, nil, fmt.Errorf("loading known hosts: %w", err)
		}
		hostKey = cb
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	addr := cfg.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("archive %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	})
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("archive %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	sc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("sftp client creation failed: %w", err)
	}
	return sc, func() error {
		sc.Close()
		return client.Close()
	}, nil
}

// Store writes record as <dir>/<yyyy-mm-dd>/<name>.json. The file is
// written under a temporary name and renamed so collectors never see a
// partial record.
func (a *SFTPArchiver) Store(ctx context.Context, name string, record interface{}) (string, error) {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding record %s: %w", name, err)
	}

	client, closeFn, err := a.connect(ctx)
	if err != nil {
		return "", err
	}
	defer closeFn()

	dir := path.Join(a.dir, a.now().UTC().Format("2006-01-02"))
	if err := client.MkdirAll(dir); err != nil {
		return "", fmt.Errorf("creating remote directory %s: %w", dir, err)
	}
	final := path.Join(dir, name+".json")
	tmp := final + ".part"

	f, err := client.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("creating remote file %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = client.Remove(tmp)
		return "", fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = client.Remove(tmp)
		return "", fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := client.PosixRename(tmp, final); err != nil {
		if err := client.Rename(tmp, final); err != nil {
			_ = client.Remove(tmp)
			return "", fmt.Errorf("renaming %s: %w", tmp, err)
		}
	}
	util.WithField("archive", final).Debugf("stored %d bytes", len(data))
	return final, nil
}
