package operations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vlanhop/vlanhop/pkg/archive"
	"github.com/vlanhop/vlanhop/pkg/audit"
	"github.com/vlanhop/vlanhop/pkg/change"
	"github.com/vlanhop/vlanhop/pkg/resolver"
	"github.com/vlanhop/vlanhop/pkg/session"
	"github.com/vlanhop/vlanhop/pkg/topology"
	"github.com/vlanhop/vlanhop/pkg/util"
)

// Runner wires the components of one invocation together.
type Runner struct {
	Resolver *resolver.Resolver
	Walker   *topology.Walker
	Engine   *change.Engine
	Seeds    []session.Device
	// Lookup finds an inventory device by name. Nil accepts any edge.
	Lookup   func(string) (session.Device, bool)
	Audit    audit.Logger
	Archiver archive.Archiver
	User     string
}

// Target is what to change on the located port.
type Target struct {
	AccessVLAN  int  `json:"access_vlan"`
	VoiceVLAN   int  `json:"voice_vlan,omitempty"`
	RemoveVoice bool `json:"remove_voice,omitempty"`
	Rollback    bool `json:"rollback"`
}

// Run is the record of one invocation, as archived.
type Run struct {
	ID         string               `json:"id"`
	Operation  string               `json:"operation"`
	Started    time.Time            `json:"started"`
	Duration   time.Duration        `json:"duration"`
	Resolution *resolver.Resolution `json:"resolution,omitempty"`
	Path       *topology.Path       `json:"path,omitempty"`
	Plan       *change.Plan         `json:"plan,omitempty"`
	Result     *change.Result       `json:"result,omitempty"`
	Archive    string               `json:"archive,omitempty"`
	Error      string               `json:"error,omitempty"`
}

func newRun(op string) *Run {
	return &Run{ID: uuid.NewString(), Operation: op, Started: time.Now()}
}

func (r *Run) archiveName() string {
	return fmt.Sprintf("%s-%s-%s", r.Started.UTC().Format("20060102T150405"), r.Operation, r.ID[:8])
}

// Locate resolves identifier and walks to its access port.
func (r *Runner) Locate(ctx context.Context, identifier string, mode resolver.Mode) (*Run, error) {
	run := newRun(audit.OpLocate)
	err := r.locate(ctx, run, identifier, mode)
	r.finish(ctx, run, err, false)
	return run, err
}

func (r *Runner) locate(ctx context.Context, run *Run, identifier string, mode resolver.Mode) error {
	res, err := r.Resolver.Resolve(ctx, identifier, mode)
	if err != nil {
		return err
	}
	run.Resolution = res
	util.WithField("mac", res.MAC).Infof("resolved %s", identifier)

	path, err := r.Walker.Locate(ctx, res.MAC, r.Seeds)
	if err != nil {
		return err
	}
	run.Path = path
	return nil
}

// request builds the change request for the located edge after checking
// it is safe to change.
func (r *Runner) request(run *Run, t Target) (change.Request, error) {
	resource := "port"
	if run.Resolution != nil {
		resource = run.Resolution.Identifier
	}
	chk := NewPreconditionChecker("change vlan", resource).RequirePath(run.Path)
	if err := chk.Result(); err != nil {
		return change.Request{}, err
	}
	edge := run.Path.Edge()
	dev := session.Device{Name: edge.Device, Host: edge.Host, DeviceType: edge.DeviceType}
	var known func(string) bool
	if r.Lookup != nil {
		known = func(name string) bool {
			d, ok := r.Lookup(name)
			if ok {
				dev = d
			}
			return ok
		}
	}
	if err := chk.RequireAccessEdge(edge).RequireKnownDevice(edge, known).Result(); err != nil {
		return change.Request{}, err
	}
	return change.Request{
		Device:      dev,
		Interface:   edge.Interface,
		AccessVLAN:  t.AccessVLAN,
		VoiceVLAN:   t.VoiceVLAN,
		RemoveVoice: t.RemoveVoice,
		Rollback:    t.Rollback,
	}, nil
}

// Preview locates the host and plans the change without applying it.
func (r *Runner) Preview(ctx context.Context, identifier string, mode resolver.Mode, t Target) (*Run, error) {
	run := newRun(audit.OpPreview)
	err := r.locate(ctx, run, identifier, mode)
	if err == nil {
		var req change.Request
		if req, err = r.request(run, t); err == nil {
			run.Plan, err = r.Engine.Plan(ctx, req)
		}
	}
	r.finish(ctx, run, err, false)
	return run, err
}

// Change locates the host and applies t to its access port. A failed
// change returns the run with its Result and the change error.
func (r *Runner) Change(ctx context.Context, identifier string, mode resolver.Mode, t Target) (*Run, error) {
	run := newRun(audit.OpChange)
	err := r.locate(ctx, run, identifier, mode)
	if err == nil {
		var req change.Request
		if req, err = r.request(run, t); err == nil {
			run.Result = r.Engine.Apply(ctx, req)
			err = run.Result.Err
		}
	}
	r.finish(ctx, run, err, true)
	return run, err
}

// Rollback restores a port to recorded VLANs and, if save is set, writes
// the configuration.
func (r *Runner) Rollback(ctx context.Context, dev session.Device, intf string, access, voice int, save bool) (*Run, error) {
	run := newRun(audit.OpRollback)
	res := &change.Result{
		Request: change.Request{Device: dev, Interface: intf, AccessVLAN: access, VoiceVLAN: voice, RemoveVoice: voice == 0},
		State:   change.Verifying,
	}
	run.Result = res

	ok, err := r.Engine.Rollbacker().Rollback(ctx, dev, intf, access, voice)
	res.RolledBack = ok
	res.Applied, res.Verified = ok, ok
	if err == nil && save {
		err = r.Engine.Save(ctx, dev)
		res.Saved = err == nil
		if res.Saved {
			res.State = change.Saved
		}
	}
	if err != nil {
		res.State, res.Err = change.Failed, err
	}
	r.finish(ctx, run, err, true)
	return run, err
}

// finish audits and archives the run. Recording failures are logged and
// never replace the run's own outcome.
func (r *Runner) finish(ctx context.Context, run *Run, err error, execute bool) {
	run.Duration = time.Since(run.Started)
	if err != nil {
		run.Error = err.Error()
	}

	ev := audit.NewEvent(r.User, run.Operation).WithDuration(run.Duration).WithExecuteMode(execute)
	ev.ID, ev.Timestamp = run.ID, run.Started
	if run.Resolution != nil {
		ev.WithTarget(run.Resolution.Identifier, run.Resolution.MAC, run.Resolution.IP)
	}
	ev.WithPath(run.Path)
	if run.Result != nil {
		ev.WithResult(run.Result)
	}
	if err != nil {
		ev.WithError(err)
	} else {
		ev.WithSuccess()
	}

	if r.Archiver != nil && execute {
		remote, aerr := r.Archiver.Store(context.WithoutCancel(ctx), run.archiveName(), run)
		if aerr != nil {
			util.WithOperation(run.Operation).Warnf("archiving run %s: %v", run.ID, aerr)
		} else {
			run.Archive = remote
		}
	}
	if r.Audit != nil {
		if aerr := r.Audit.Log(ev); aerr != nil {
			util.WithOperation(run.Operation).Warnf("audit log: %v", aerr)
		}
	}
}
