package crawl

// State is the controller's current activity.
type State int32

// Controller states.
const (
	StateIdle State = iota
	StateFetching
	StateEnriching
	StateWriting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateEnriching:
		return "enriching"
	case StateWriting:
		return "writing"
	default:
		return "unknown"
	}
}
