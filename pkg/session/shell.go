package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/vlanhop/vlanhop/pkg/util"
)

var (
	rePromptAny = regexp.MustCompile(`(?:^|\n)([A-Za-z0-9][A-Za-z0-9._/-]*)(\([^)\n]*\))?([>#])[ \t]*$`)
	rePassword  = regexp.MustCompile(`(?i)password:[ \t]*$`)
	rePager     = regexp.MustCompile(`(?i)--\s*more\s*--[ \t]*$`)
)

var errDesync = fmt.Errorf("command echo not found, stream out of sync: %w", util.ErrTimeout)

// shell drives an interactive CLI over a byte stream: it writes command
// lines and reads until the device prompt returns.
type shell struct {
	stdin  io.Writer
	closer io.Closer

	chunks  chan []byte
	done    chan struct{}
	readErr error
	once    sync.Once

	pending    bytes.Buffer
	hostname   string
	prompt     *regexp.Regexp
	strictEcho bool
}

func newShell(stdin io.Writer, stdout io.Reader, closer io.Closer, strictEcho bool) *shell {
	s := &shell{
		stdin:      stdin,
		closer:     closer,
		chunks:     make(chan []byte, 64),
		done:       make(chan struct{}),
		prompt:     rePromptAny,
		strictEcho: strictEcho,
	}
	go s.pump(stdout)
	return s
}

func (s *shell) pump(r io.Reader) {
	defer close(s.chunks)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c := make([]byte, n)
			copy(c, buf[:n])
			select {
			case s.chunks <- c:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.readErr = err
			return
		}
	}
}

// readUntil reads until one of pats matches the end of the buffered output
// and returns the output and the index of the matching pattern.
func (s *shell) readUntil(ctx context.Context, timeout time.Duration, pats ...*regexp.Regexp) (string, int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		text := s.pending.String()
		if rePager.MatchString(text) {
			s.pending.Reset()
			s.pending.WriteString(rePager.ReplaceAllString(text, ""))
			if _, err := io.WriteString(s.stdin, " "); err != nil {
				return "", -1, fmt.Errorf("write: %w", err)
			}
			continue
		}
		for i, p := range pats {
			if p.MatchString(text) {
				s.pending.Reset()
				return text, i, nil
			}
		}

		select {
		case c, ok := <-s.chunks:
			if !ok {
				err := s.readErr
				if err == nil || errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				return text, -1, fmt.Errorf("session closed: %w", err)
			}
			s.pending.Write(bytes.ReplaceAll(c, []byte("\r"), nil))
		case <-timer.C:
			return text, -1, fmt.Errorf("no prompt after %v: %w", timeout, util.ErrTimeout)
		case <-ctx.Done():
			return text, -1, ctx.Err()
		}
	}
}

func (s *shell) send(line string) error {
	if _, err := io.WriteString(s.stdin, line+"\n"); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// discover waits for the first prompt, nudging the device once with an
// empty line, and learns the hostname. It returns the prompt mode
// character ('>' or '#').
func (s *shell) discover(ctx context.Context, timeout time.Duration) (byte, error) {
	text, _, err := s.readUntil(ctx, timeout/2, rePromptAny)
	if errors.Is(err, util.ErrTimeout) {
		if err := s.send(""); err != nil {
			return 0, err
		}
		text, _, err = s.readUntil(ctx, timeout/2, rePromptAny)
	}
	if err != nil {
		return 0, fmt.Errorf("prompt discovery: %w", err)
	}
	m := rePromptAny.FindStringSubmatch(text)
	s.hostname = m[1]
	s.prompt = regexp.MustCompile(`(?:^|\n)` + regexp.QuoteMeta(s.hostname) + `(\([^)\n]*\))?[>#][ \t]*$`)
	return m[3][0], nil
}

// enable moves a user-mode session to privileged mode.
func (s *shell) enable(ctx context.Context, secret string, timeout time.Duration) error {
	if err := s.send("enable"); err != nil {
		return err
	}
	_, which, err := s.readUntil(ctx, timeout, rePassword, s.prompt)
	if err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	text := ""
	if which == 0 {
		if err := s.send(secret); err != nil {
			return err
		}
		text, _, err = s.readUntil(ctx, timeout, rePassword, s.prompt)
		if err != nil {
			return fmt.Errorf("enable: %w", err)
		}
	}
	if !strings.HasSuffix(strings.TrimRight(text, " \t"), "#") {
		return fmt.Errorf("enable: privileged mode refused")
	}
	return nil
}

// Exec implements Conn.
func (s *shell) Exec(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	if err := s.send(cmd); err != nil {
		return "", err
	}
	text, _, err := s.readUntil(ctx, timeout, s.prompt)
	if err != nil {
		if errors.Is(err, util.ErrTimeout) {
			s.resync(ctx, timeout)
		}
		return "", err
	}
	out, ok := stripEcho(text, cmd)
	if !ok && s.strictEcho {
		return "", errDesync
	}
	return out, nil
}

// resync discards whatever is in flight and waits for a fresh prompt.
func (s *shell) resync(ctx context.Context, timeout time.Duration) {
	s.pending.Reset()
	if err := s.send(""); err != nil {
		return
	}
	if _, _, err := s.readUntil(ctx, timeout, s.prompt); err != nil {
		util.WithField("host", s.hostname).Debugf("resync failed: %v", err)
	}
}

// stripEcho removes everything up to and including the echoed command line
// and the trailing prompt line. ok is false when no echo was seen.
func stripEcho(text, cmd string) (string, bool) {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 {
		lines = lines[:len(lines)-1] // prompt
	}
	want := strings.TrimSpace(cmd)
	for i, l := range lines {
		if want != "" && strings.HasSuffix(strings.TrimSpace(l), want) {
			return strings.Join(lines[i+1:], "\n"), true
		}
	}
	return strings.Join(lines, "\n"), false
}

// Close implements Conn.
func (s *shell) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}
