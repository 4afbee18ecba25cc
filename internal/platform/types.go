package platform

// Target names an independently versioned firmware component on a device.
// The platform knows "notecard" and "host" natively; rules may name other
// targets and those pass through unchanged.
type Target string

const (
	// TargetNotecard is the communication module's firmware.
	TargetNotecard Target = "notecard"

	// TargetHost is the customer MCU firmware running alongside it.
	TargetHost Target = "host"
)

func (t Target) String() string {
	return string(t)
}

// DFUStatus reports where a device stands in a firmware update cycle for
// one target.
type DFUStatus struct {
	Requested bool   `json:"requested"`
	Started   bool   `json:"started"`
	Completed bool   `json:"completed"`
	Version   string `json:"version"`
	Status    string `json:"status"`
}

// InProgress reports whether an update cycle is still running. A finished
// cycle leaves requested and started set, so completion wins.
func (s DFUStatus) InProgress() bool {
	return (s.Requested || s.Started) && !s.Completed
}
