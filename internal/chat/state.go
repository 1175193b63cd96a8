package chat

// State is the lifecycle stage of a chat turn.
type State int

const (
	StateReceived State = iota + 1
	StateRetrieving
	StateGenerating
	StateStreaming
	StateCacheWriting
	StateDone
	StateFailed
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateRetrieving:
		return "retrieving"
	case StateGenerating:
		return "generating"
	case StateStreaming:
		return "streaming"
	case StateCacheWriting:
		return "cache_writing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}
