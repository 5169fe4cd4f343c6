package change

import (
	"strconv"

	"github.com/vlanhop/vlanhop/pkg/dialect"
	"github.com/vlanhop/vlanhop/pkg/util"
)

// expected is the switchport state a change should leave behind.
type expected struct {
	accessVLAN int
	voiceVLAN  int
}

// expectedAfter derives the target state from the request and the state
// captured before it.
func expectedAfter(req Request, pre dialect.Switchport) expected {
	e := expected{accessVLAN: req.AccessVLAN, voiceVLAN: pre.VoiceVLAN}
	switch {
	case req.RemoveVoice:
		e.voiceVLAN = 0
	case req.VoiceVLAN > 0:
		e.voiceVLAN = req.VoiceVLAN
	}
	return e
}

// compare lists the fields of got that differ from want.
func compare(want expected, got dialect.Switchport) []util.FieldMismatch {
	var mm []util.FieldMismatch
	if got.IsTrunk() {
		mm = append(mm, util.FieldMismatch{Field: "mode", Expected: "access", Actual: got.Mode})
	}
	if got.AccessVLAN != want.accessVLAN {
		mm = append(mm, util.FieldMismatch{Field: "access_vlan", Expected: strconv.Itoa(want.accessVLAN), Actual: strconv.Itoa(got.AccessVLAN)})
	}
	if got.VoiceVLAN != want.voiceVLAN {
		mm = append(mm, util.FieldMismatch{Field: "voice_vlan", Expected: vlanText(want.voiceVLAN), Actual: vlanText(got.VoiceVLAN)})
	}
	return mm
}

func vlanText(v int) string {
	if v == 0 {
		return "none"
	}
	return strconv.Itoa(v)
}
