package audit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vlanhop/vlanhop/pkg/change"
	"github.com/vlanhop/vlanhop/pkg/session"
	"github.com/vlanhop/vlanhop/pkg/topology"
)

func TestNewEvent(t *testing.T) {
	a := NewEvent("ci", OpChange)
	b := NewEvent("ci", OpChange)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("IDs = %q, %q; want distinct non-empty", a.ID, b.ID)
	}
	if a.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
	if a.User != "ci" || a.Operation != OpChange {
		t.Errorf("User/Operation = %q/%q", a.User, a.Operation)
	}
}

func TestEvent_WithPath(t *testing.T) {
	p := &topology.Path{
		MAC: "001a.2b3c.4d5e",
		Hops: []topology.Hop{
			{Device: "core", Interface: "Po1", Member: "Te1/1/1"},
			{Device: "edge1", Interface: "Gi1/0/24"},
		},
		Warnings: []string{"2 CDP neighbours"},
	}
	e := NewEvent("ci", OpLocate).WithTarget("10.0.10.5", "", "10.0.10.5").WithPath(p).WithSuccess()

	if e.Device != "edge1" || e.Interface != "Gi1/0/24" {
		t.Errorf("edge = %s %s", e.Device, e.Interface)
	}
	if e.MAC != "001a.2b3c.4d5e" || e.IP != "10.0.10.5" {
		t.Errorf("MAC/IP = %s/%s", e.MAC, e.IP)
	}
	want := []string{"core Po1(Te1/1/1)", "edge1 Gi1/0/24"}
	if len(e.Path) != 2 || e.Path[0] != want[0] || e.Path[1] != want[1] {
		t.Errorf("Path = %v, want %v", e.Path, want)
	}
	if len(e.Warnings) != 1 {
		t.Errorf("Warnings = %v", e.Warnings)
	}
	if NewEvent("ci", OpLocate).WithPath(nil).Path != nil {
		t.Error("nil path should leave the event alone")
	}
}

func TestEvent_WithResult(t *testing.T) {
	r := &change.Result{
		Request:       change.Request{Device: session.Device{Name: "edge1"}, Interface: "Gi1/0/24", AccessVLAN: 100, VoiceVLAN: 200},
		State:         change.Failed,
		Applied:       true,
		RolledBack:    true,
		PreAccessVLAN: 10,
		Warnings:      []string{"Gi1/0/24 line protocol is down"},
		Err:           errors.New("verify edge1 Gi1/0/24: access_vlan expected 100, got 10"),
	}
	e := NewEvent("ci", OpChange).WithResult(r)

	if len(e.Warnings) != 1 || e.Warnings[0] != "Gi1/0/24 line protocol is down" {
		t.Errorf("Warnings = %v", e.Warnings)
	}

	if e.Success {
		t.Error("failed result should not be a success")
	}
	if e.State != "failed" || !e.Applied || !e.RolledBack || e.Saved {
		t.Errorf("flags = %s applied=%v rolled_back=%v saved=%v", e.State, e.Applied, e.RolledBack, e.Saved)
	}
	if e.PreAccessVLAN != 10 || e.AccessVLAN != 100 || e.VoiceVLAN != 200 {
		t.Errorf("vlans = %d -> %d/%d", e.PreAccessVLAN, e.AccessVLAN, e.VoiceVLAN)
	}
	if e.Error == "" || e.RollbackError != "" {
		t.Errorf("Error = %q, RollbackError = %q", e.Error, e.RollbackError)
	}

	r.State, r.Err = change.Saved, nil
	if !NewEvent("ci", OpChange).WithResult(r).Success {
		t.Error("saved result should be a success")
	}
}

func newLogger(t *testing.T, rotation RotationConfig) (*FileLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "audit.log")
	l, err := NewFileLogger(path, rotation)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestFileLogger_LogAndQuery(t *testing.T) {
	l, _ := newLogger(t, RotationConfig{})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []*Event{
		{ID: "1", Timestamp: base, Operation: OpLocate, Device: "edge1", MAC: "aaaa.bbbb.cccc", Success: true},
		{ID: "2", Timestamp: base.Add(time.Minute), Operation: OpChange, Device: "edge1", Interface: "Gi1/0/24", Success: true, PreAccessVLAN: 10},
		{ID: "3", Timestamp: base.Add(2 * time.Minute), Operation: OpChange, Device: "edge2", Interface: "Gi1/0/3", Error: "push rejected"},
		{ID: "4", Timestamp: base.Add(3 * time.Minute), Operation: OpRollback, Device: "edge2", User: "ops", Success: true},
	}
	for _, e := range events {
		if err := l.Log(e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"1", "2", "3", "4"}},
		{"device", Filter{Device: "edge1"}, []string{"1", "2"}},
		{"operation", Filter{Operation: OpChange}, []string{"2", "3"}},
		{"mac", Filter{MAC: "aaaa.bbbb.cccc"}, []string{"1"}},
		{"interface", Filter{Interface: "Gi1/0/3"}, []string{"3"}},
		{"user", Filter{User: "ops"}, []string{"4"}},
		{"failures", Filter{FailureOnly: true}, []string{"3"}},
		{"successes", Filter{SuccessOnly: true}, []string{"1", "2", "4"}},
		{"since", Filter{StartTime: base.Add(90 * time.Second)}, []string{"3", "4"}},
		{"until", Filter{EndTime: base.Add(30 * time.Second)}, []string{"1"}},
		{"page", Filter{Offset: 1, Limit: 2}, []string{"2", "3"}},
		{"past the end", Filter{Offset: 10}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Query(tt.filter)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events, want %v", len(got), tt.want)
			}
			for i, e := range got {
				if e.ID != tt.want[i] {
					t.Errorf("event %d = %s, want %s", i, e.ID, tt.want[i])
				}
			}
		})
	}

	got, _ := l.Query(Filter{Device: "edge1", Operation: OpChange})
	if len(got) != 1 || got[0].PreAccessVLAN != 10 {
		t.Errorf("pre-change vlan not round-tripped: %+v", got)
	}
}

func TestFileLogger_SkipsMalformed(t *testing.T) {
	l, path := newLogger(t, RotationConfig{})
	if err := l.Log(&Event{ID: "ok"}); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n")
	f.Close()
	if err := l.Log(&Event{ID: "ok2"}); err != nil {
		t.Fatal(err)
	}

	got, err := l.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d events, want 2", len(got))
	}
}

func TestFileLogger_QueryMissingFile(t *testing.T) {
	l, path := newLogger(t, RotationConfig{})
	os.Remove(path)
	got, err := l.Query(Filter{})
	if err != nil || len(got) != 0 {
		t.Errorf("Query = %v, %v; want empty", got, err)
	}
}

func TestFileLogger_Rotation(t *testing.T) {
	l, path := newLogger(t, RotationConfig{MaxSize: 1, MaxBackups: 2})

	for i := 0; i < 5; i++ {
		if err := l.Log(NewEvent("ci", OpChange)); err != nil {
			t.Fatalf("Log %d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	backups, _ := filepath.Glob(path + ".*")
	if len(backups) != 2 {
		t.Errorf("backups = %d, want 2: %v", len(backups), backups)
	}
	got, err := l.Query(Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("current file holds %d events, want 1", len(got))
	}
}

func TestFileLogger_BadDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileLogger(filepath.Join(blocker, "audit.log"), RotationConfig{}); err == nil {
		t.Error("expected error when the directory is a file")
	}
}

func TestNop(t *testing.T) {
	var l Logger = Nop{}
	if err := l.Log(NewEvent("ci", OpLocate)); err != nil {
		t.Error(err)
	}
	if got, err := l.Query(Filter{}); err != nil || len(got) != 0 {
		t.Errorf("Query = %v, %v", got, err)
	}
}
