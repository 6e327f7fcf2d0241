package control

type State int

const (
	StateIdle State = iota
	StateStarting
	StateLive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateLive:
		return "live"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}
