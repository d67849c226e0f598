package engine

// State 引擎生命周期
// Stopped → Starting → Connecting → Ready → Stopping → Stopped
// Starting 期间进程尚未 spawn 出来，没有 pid；其余非 Stopped 状态都有 pid。
type State int

const (
	Stopped State = iota
	Starting
	Connecting
	Ready
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}
