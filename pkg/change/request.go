package change

import (
	"encoding/json"
	"fmt"

	"github.com/vlanhop/vlanhop/pkg/dialect"
	"github.com/vlanhop/vlanhop/pkg/session"
	"github.com/vlanhop/vlanhop/pkg/util"
)

// Request asks for an access port's VLANs to be set. VoiceVLAN 0 leaves the
// voice VLAN as it is; RemoveVoice clears it. Rollback restores the
// captured state when the change fails after the push started.
type Request struct {
	Device      session.Device `json:"device"`
	Interface   string         `json:"interface"`
	AccessVLAN  int            `json:"access_vlan"`
	VoiceVLAN   int            `json:"voice_vlan,omitempty"`
	RemoveVoice bool           `json:"remove_voice,omitempty"`
	Rollback    bool           `json:"rollback"`
}

// Validate checks the request; allowed, when non-empty, restricts the VLANs
// that may be assigned.
func (r Request) Validate(allowed util.VLANSet) error {
	v := &util.ValidationBuilder{}
	v.Add(r.Device.Host != "", "device host is required")
	v.Add(r.Interface != "", "interface is required")
	if err := util.ValidateVLANID(r.AccessVLAN); err != nil {
		v.AddErrorf("access vlan: %v", err)
	} else if len(allowed) > 0 && !allowed.Contains(r.AccessVLAN) {
		v.AddErrorf("access vlan %d is outside the allowed range %s", r.AccessVLAN, allowed)
	}
	if r.VoiceVLAN != 0 {
		if err := util.ValidateVLANID(r.VoiceVLAN); err != nil {
			v.AddErrorf("voice vlan: %v", err)
		} else if len(allowed) > 0 && !allowed.Contains(r.VoiceVLAN) {
			v.AddErrorf("voice vlan %d is outside the allowed range %s", r.VoiceVLAN, allowed)
		}
		v.Add(!r.RemoveVoice, "voice vlan and remove-voice are mutually exclusive")
		v.Add(r.VoiceVLAN != r.AccessVLAN, "voice vlan must differ from access vlan")
	}
	v.Add(!util.IsSVI(r.Interface), fmt.Sprintf("%s is not a switchport", r.Interface))
	return v.Build()
}

func (r Request) access() dialect.AccessChange {
	return dialect.AccessChange{
		Interface:   r.Interface,
		AccessVLAN:  r.AccessVLAN,
		VoiceVLAN:   r.VoiceVLAN,
		RemoveVoice: r.RemoveVoice,
	}
}

// Result is the outcome of Apply. Err is the failure that ended the change;
// RollbackErr, when set, is a *util.RollbackFailure reported beside it.
type Result struct {
	Request       Request              `json:"request"`
	State         State                `json:"state"`
	Applied       bool                 `json:"applied"`
	Verified      bool                 `json:"verified"`
	Saved         bool                 `json:"saved"`
	RolledBack    bool                 `json:"rolled_back"`
	PreAccessVLAN int                  `json:"pre_access_vlan"`
	PreVoiceVLAN  int                  `json:"pre_voice_vlan"`
	Attempts      int                  `json:"attempts"`
	Verification  []util.FieldMismatch `json:"verification,omitempty"`
	Commands      []string             `json:"commands,omitempty"`
	Credential    string               `json:"credential,omitempty"`
	Warnings      []string             `json:"warnings,omitempty"`
	Err           error                `json:"-"`
	RollbackErr   error                `json:"-"`
}

// OK reports whether the change was saved.
func (r *Result) OK() bool { return r.State == Saved && r.Err == nil }

func (r *Result) fail(err error) *Result {
	r.State = Failed
	r.Err = err
	return r
}

// MarshalJSON adds the error texts.
func (r *Result) MarshalJSON() ([]byte, error) {
	type plain Result
	out := struct {
		*plain
		Error         string `json:"error,omitempty"`
		RollbackError string `json:"rollback_error,omitempty"`
	}{plain: (*plain)(r)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	if r.RollbackErr != nil {
		out.RollbackError = r.RollbackErr.Error()
	}
	return json.Marshal(out)
}
