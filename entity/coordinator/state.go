package coordinator

import "fmt"

// State 协商状态机的状态
type State int

const (
	Planning               State = iota // 规划：决定变道、发起预约或默认驾驶
	ConsideringLaneChange               // 变道：由变道子状态机接管
	DefaultDriving                      // 默认驾驶：跟驰一步后回到规划
	PreparingReservation                // 准备预约：安装停车计划并发送请求
	AwaitingResponse                    // 等待回复
	MaintainingReservation              // 持有预约：按加速度计划驶向停止线
	Traversing                          // 通过路口
	Clearing                            // 驶离路口下游管控区
	Terminal                            // 结束
)

func (s State) String() string {
	switch s {
	case Planning:
		return "Planning"
	case ConsideringLaneChange:
		return "ConsideringLaneChange"
	case DefaultDriving:
		return "DefaultDriving"
	case PreparingReservation:
		return "PreparingReservation"
	case AwaitingResponse:
		return "AwaitingResponse"
	case MaintainingReservation:
		return "MaintainingReservation"
	case Traversing:
		return "Traversing"
	case Clearing:
		return "Clearing"
	case Terminal:
		return "Terminal"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// LaneChangeState 变道子状态机的状态
type LaneChangeState int

const (
	WaitingToChange LaneChangeState = iota // 等待变道时机
	Changing                               // 已改变所在车道，正在横向移动
	LaneChangeEnded                        // 结束，结果见Succeeded
)

func (s LaneChangeState) String() string {
	switch s {
	case WaitingToChange:
		return "WaitingToChange"
	case Changing:
		return "Changing"
	case LaneChangeEnded:
		return "LaneChangeEnded"
	default:
		return fmt.Sprintf("LaneChangeState(%d)", int(s))
	}
}
