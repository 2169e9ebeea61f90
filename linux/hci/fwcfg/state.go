package fwcfg

// State of the bootstrap.
type State int

const (
	Init State = iota
	Start
	// WriteOSType is reserved; no firmware in the field expects it yet.
	WriteOSType
	ReadVersion
	NvSend
	NvSendComplete
	WriteBdAddr
	// ResetController is reserved.
	ResetController
	Complete
)

var stateNames = [...]string{
	Init:            "init",
	Start:           "start",
	WriteOSType:     "write-os-type",
	ReadVersion:     "read-version",
	NvSend:          "nv-send",
	NvSendComplete:  "nv-send-complete",
	WriteBdAddr:     "write-bd-addr",
	ResetController: "reset-controller",
	Complete:        "complete",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "invalid"
	}
	return stateNames[s]
}
