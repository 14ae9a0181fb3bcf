package route

// Status 路由状态.
type Status string

const (
	// Stopped 已停止，初始状态.
	Stopped Status = "stopped"
	// Starting 启动中.
	Starting Status = "starting"
	// Started 运行中.
	Started Status = "started"
	// Suspending 暂停中.
	Suspending Status = "suspending"
	// Suspended 已暂停.
	Suspended Status = "suspended"
	// Stopping 停止中.
	Stopping Status = "stopping"
	// Failed 已失败.
	Failed Status = "failed"
)

// transitions 合法的状态转换.
var transitions = map[Status][]Status{
	Stopped:    {Starting},
	Starting:   {Started, Suspended, Failed},
	Started:    {Suspending, Stopping, Failed},
	Suspending: {Suspended, Failed},
	Suspended:  {Starting, Stopping, Failed},
	Stopping:   {Stopped, Failed},
	Failed:     {Starting, Stopping},
}

// CanTransitionTo 是否允许转换到 to.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsRunning 消费者是否可能在投递消息.
func (s Status) IsRunning() bool {
	return s == Started || s == Suspending
}

// Gauge 状态的数值表示，用于指标.
func (s Status) Gauge() float64 {
	switch s {
	case Started:
		return 1
	case Suspended:
		return 2
	case Failed:
		return -1
	default:
		return 0
	}
}

func (s Status) String() string {
	return string(s)
}
