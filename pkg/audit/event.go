// Package audit records locate, change, and rollback outcomes as JSON lines
// for the audit collaborator, which needs the VLANs each port had before a
// change.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/vlanhop/vlanhop/pkg/change"
	"github.com/vlanhop/vlanhop/pkg/topology"
)

// Operation names.
const (
	OpLocate   = "locate"
	OpPreview  = "preview"
	OpChange   = "change"
	OpRollback = "rollback"
)

// Event is one audited run.
type Event struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	User       string        `json:"user"`
	Operation  string        `json:"operation"`
	Identifier string        `json:"identifier,omitempty"`
	MAC        string        `json:"mac,omitempty"`
	IP         string        `json:"ip,omitempty"`
	Device     string        `json:"device,omitempty"`
	Interface  string        `json:"interface,omitempty"`
	Path       []string      `json:"path,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	Credential string        `json:"credential,omitempty"`
	State      string        `json:"state,omitempty"`
	Commands   []string      `json:"commands,omitempty"`
	Duration   time.Duration `json:"duration"`

	PreAccessVLAN int `json:"pre_access_vlan,omitempty"`
	PreVoiceVLAN  int `json:"pre_voice_vlan,omitempty"`
	AccessVLAN    int `json:"access_vlan,omitempty"`
	VoiceVLAN     int `json:"voice_vlan,omitempty"`

	Applied     bool `json:"applied,omitempty"`
	Verified    bool `json:"verified,omitempty"`
	Saved       bool `json:"saved,omitempty"`
	RolledBack  bool `json:"rolled_back,omitempty"`
	ExecuteMode bool `json:"execute_mode"`

	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
	RollbackError string `json:"rollback_error,omitempty"`
}

// Filter selects events in Query. Zero fields match everything.
type Filter struct {
	Device      string
	Operation   string
	MAC         string
	Interface   string
	User        string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent starts an event for operation.
func NewEvent(user, operation string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		User:      user,
		Operation: operation,
	}
}

// WithTarget records what the run was asked to find.
func (e *Event) WithTarget(identifier, mac, ip string) *Event {
	e.Identifier, e.MAC, e.IP = identifier, mac, ip
	return e
}

// WithPath records the walk and the access port it ended on.
func (e *Event) WithPath(p *topology.Path) *Event {
	if p == nil {
		return e
	}
	e.MAC = p.MAC
	edge := p.Edge()
	e.Device, e.Interface = edge.Device, edge.Interface
	e.Path = make([]string, len(p.Hops))
	for i, h := range p.Hops {
		e.Path[i] = h.String()
	}
	e.Warnings = append(e.Warnings, p.Warnings...)
	return e
}

// WithResult records a change outcome. Success follows the result.
func (e *Event) WithResult(r *change.Result) *Event {
	if r == nil {
		return e
	}
	e.Device, e.Interface = r.Request.Device.Name, r.Request.Interface
	e.AccessVLAN, e.VoiceVLAN = r.Request.AccessVLAN, r.Request.VoiceVLAN
	e.PreAccessVLAN, e.PreVoiceVLAN = r.PreAccessVLAN, r.PreVoiceVLAN
	e.State = r.State.String()
	e.Credential = r.Credential
	e.Commands = r.Commands
	e.Applied, e.Verified, e.Saved, e.RolledBack = r.Applied, r.Verified, r.Saved, r.RolledBack
	e.Success = r.OK()
	e.Warnings = append(e.Warnings, r.Warnings...)
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	if r.RollbackErr != nil {
		e.RollbackError = r.RollbackErr.Error()
	}
	return e
}

// WithSuccess marks the event as successful.
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed.
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets how long the run took.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// WithExecuteMode records whether -x was given.
func (e *Event) WithExecuteMode(execute bool) *Event {
	e.ExecuteMode = execute
	return e
}

func (e *Event) matches(f Filter) bool {
	switch {
	case f.Device != "" && e.Device != f.Device,
		f.Operation != "" && e.Operation != f.Operation,
		f.MAC != "" && e.MAC != f.MAC,
		f.Interface != "" && e.Interface != f.Interface,
		f.User != "" && e.User != f.User,
		!f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime),
		!f.EndTime.IsZero() && e.Timestamp.After(f.EndTime),
		f.SuccessOnly && !e.Success,
		f.FailureOnly && e.Success:
		return false
	}
	return true
}
