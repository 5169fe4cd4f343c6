package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlanhop/vlanhop/pkg/util"
)

// scriptedCLI answers command lines the way an IOS shell does over a PTY.
type scriptedCLI struct {
	host      string
	mode      string
	secret    string
	banner    string
	responses map[string]string
	hang      map[string]bool
	noEcho    bool
}

func (c *scriptedCLI) prompt() string { return c.host + c.mode }

func (c *scriptedCLI) serve(in io.Reader, out io.WriteCloser) {
	defer out.Close()
	w := func(s string) bool {
		_, err := io.WriteString(out, strings.ReplaceAll(s, "\n", "\r\n"))
		return err == nil
	}
	if !w(c.banner + c.prompt()) {
		return
	}
	awaitingSecret := false
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := sc.Text()
		if awaitingSecret {
			awaitingSecret = false
			if line == c.secret {
				c.mode = "#"
			} else {
				w("\n% Access denied\n")
			}
			w("\n" + c.prompt())
			continue
		}
		if !c.noEcho {
			w(line + "\n")
		}
		switch {
		case line == "enable":
			awaitingSecret = true
			w("Password: ")
		case c.hang[line]:
		case line == "":
			w(c.prompt())
		default:
			w(c.responses[line] + c.prompt())
		}
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func startCLI(t *testing.T, cli *scriptedCLI, strictEcho bool) *shell {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	go cli.serve(inR, outW)
	s := newShell(inW, outR, closerFunc(func() error {
		inW.Close()
		return outR.Close()
	}), strictEcho)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestShell_DiscoverAndExec(t *testing.T) {
	cli := &scriptedCLI{
		host:   "edge1",
		mode:   "#",
		banner: "\n*** Authorised access only ***\n\n",
		responses: map[string]string{
			"show clock": "*10:15:02.123 UTC Mon Oct 19 2026\n",
		},
	}
	s := startCLI(t, cli, true)
	ctx := context.Background()

	mode, err := s.discover(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, byte('#'), mode)
	assert.Equal(t, "edge1", s.hostname)

	out, err := s.Exec(ctx, "show clock", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "*10:15:02.123 UTC Mon Oct 19 2026", out)
}

func TestShell_Enable(t *testing.T) {
	cli := &scriptedCLI{host: "edge2", mode: ">", secret: "s3cret"}
	s := startCLI(t, cli, true)
	ctx := context.Background()

	mode, err := s.discover(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, byte('>'), mode)
	require.NoError(t, s.enable(ctx, "s3cret", time.Second))
}

func TestShell_EnableRefused(t *testing.T) {
	cli := &scriptedCLI{host: "edge2", mode: ">", secret: "s3cret"}
	s := startCLI(t, cli, true)
	ctx := context.Background()

	_, err := s.discover(ctx, time.Second)
	require.NoError(t, err)
	assert.Error(t, s.enable(ctx, "wrong", time.Second))
}

func TestShell_TimeoutResyncs(t *testing.T) {
	cli := &scriptedCLI{
		host:      "core",
		mode:      "#",
		hang:      map[string]bool{"show tech-support": true},
		responses: map[string]string{"show clock": "10:00:00 UTC\n"},
	}
	s := startCLI(t, cli, true)
	ctx := context.Background()
	_, err := s.discover(ctx, time.Second)
	require.NoError(t, err)

	_, err = s.Exec(ctx, "show tech-support", 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrTimeout))

	out, err := s.Exec(ctx, "show clock", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "10:00:00 UTC", out)
}

func TestShell_ConfigPrompt(t *testing.T) {
	cli := &scriptedCLI{host: "edge1", mode: "#"}
	s := startCLI(t, cli, true)
	ctx := context.Background()
	_, err := s.discover(ctx, time.Second)
	require.NoError(t, err)

	cli.responses = map[string]string{"interface GigabitEthernet1/0/24": ""}
	cli.mode = "(config-if)#"
	out, err := s.Exec(ctx, "interface GigabitEthernet1/0/24", time.Second)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestShell_MissingEcho(t *testing.T) {
	cli := &scriptedCLI{
		host:      "dist1",
		mode:      "#",
		noEcho:    true,
		responses: map[string]string{"show clock": "10:00:00 UTC\n"},
	}

	strict := startCLI(t, cli, true)
	ctx := context.Background()
	_, err := strict.discover(ctx, time.Second)
	require.NoError(t, err)
	_, err = strict.Exec(ctx, "show clock", time.Second)
	assert.ErrorIs(t, err, util.ErrTimeout)

	lenient := startCLI(t, &scriptedCLI{
		host:      "dist1",
		mode:      "#",
		noEcho:    true,
		responses: map[string]string{"show clock": "10:00:00 UTC\n"},
	}, false)
	_, err = lenient.discover(ctx, time.Second)
	require.NoError(t, err)
	out, err := lenient.Exec(ctx, "show clock", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "10:00:00 UTC", out)
}

func TestShell_ClosedStream(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	go func() {
		io.WriteString(outW, "edge1#")
		bufio.NewReader(inR).ReadString('\n')
		outW.Close()
	}()
	s := newShell(inW, outR, nil, true)
	defer s.Close()

	ctx := context.Background()
	_, err := s.discover(ctx, time.Second)
	require.NoError(t, err)
	_, err = s.Exec(ctx, "show clock", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session closed")
}

func TestStripEcho(t *testing.T) {
	tests := []struct {
		text   string
		cmd    string
		want   string
		wantOK bool
	}{
		{"show clock\n10:00\nedge1#", "show clock", "10:00", true},
		{"\nedge1#show clock\n10:00\nedge1#", "show clock", "10:00", true},
		{"terminal length 0\nedge1#", "terminal length 0", "", true},
		{"10:00\nedge1#", "show clock", "10:00", false},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			got, ok := stripEcho(tt.text, tt.cmd)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}
