package capture

// State is the session lifecycle position. No state is re-entered.
type State int

const (
	Created State = iota
	Connected
	CameraReady
	Capturing
	Closed
	Failed
)

var stateNames = [...]string{"created", "connected", "camera-ready", "capturing", "closed", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether the session has finished.
func (s State) Terminal() bool { return s == Closed || s == Failed }
