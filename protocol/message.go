package protocol

import (
	"fmt"

	"github.com/tsinghua-fib-lab/aim-sim-oss/kinematic"
)

// Kind 消息类型
type Kind int

const (
	KindRequest Kind = iota + 1 // V2I：预约请求
	KindCancel                  // V2I：取消预约
	KindDone                    // V2I：已驶出路口
	KindAway                    // V2I：已驶离管控区
	KindConfirm                 // I2V：预约确认
	KindReject                  // I2V：预约拒绝
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindCancel:
		return "Cancel"
	case KindDone:
		return "Done"
	case KindAway:
		return "Away"
	case KindConfirm:
		return "Confirm"
	case KindReject:
		return "Reject"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Header 消息头，标识通信双方
type Header struct {
	VehicleID      int32 // 车辆ID
	IntersectionID int32 // 路口管理器ID
}

// Message 车辆与路口管理器之间交换的消息
type Message interface {
	Kind() Kind
	Addr() Header
}

// VehicleSpec 车辆在请求中上报的自身参数
type VehicleSpec struct {
	MaxAcceleration float64 // 最大加速度(m/s²)
	MaxDeceleration float64 // 最大减速度(m/s²)，负数
	MaxVelocity     float64 // 最大速度(m/s)
	Length          float64 // 车长(m)
	Width           float64 // 车宽(m)
}

// Proposal 预约请求中的一个候选方案
type Proposal struct {
	ArrivalLaneID   int32   // 驶入车道
	DepartureLaneID int32   // 驶出车道
	ArrivalTime     float64 // 到达路口边界的时刻(s)
	ArrivalVelocity float64 // 到达速度(m/s)
	MaxTurnVelocity float64 // 路口内转向允许的最大速度(m/s)
}

// Request 预约请求
type Request struct {
	Header
	RequestID int32
	SentAt    float64 // 发送时刻
	Spec      VehicleSpec
	Proposals []Proposal
}

// Cancel 取消预约
// 说明：ReservationID为-1时按RequestID取消尚未收到回复的请求
type Cancel struct {
	Header
	RequestID     int32
	ReservationID int32
}

// Done 车辆已驶出路口
type Done struct {
	Header
	ReservationID int32
}

// Away 车辆已驶离路口下游管控区
type Away struct {
	Header
	ReservationID int32
}

// Confirm 预约确认，携带路口管理器认可的到达参数
type Confirm struct {
	Header
	RequestID       int32
	ReservationID   int32
	ArrivalLaneID   int32
	DepartureLaneID int32
	ArrivalTime     float64                   // 确认的到达时刻
	EarlyError      float64                   // 允许提前到达的时间(s)
	LateError       float64                   // 允许延后到达的时间(s)
	ArrivalVelocity float64                   // 确认的到达速度
	ACZDistance     float64                   // 驶出路口后需保持预约的距离(m)
	Profile         []kinematic.DurationAccel // 路口内的加速度计划，可为空
}

// RejectReason 拒绝原因
type RejectReason int

const (
	RejectNoClearPath                   RejectReason = iota + 1 // 无可用时空通道（可重试）
	RejectConfirmedAnotherRequest                               // 已确认该车的另一个请求（可重试）
	RejectBeforeNextAllowedCommunication                        // 在允许的下一次通信时刻之前发送（协议违规）
	RejectArrivalTimeTooLarge                                   // 到达时刻超出管理器的预约视界（协议违规）
	RejectArrivalTimeTooLate                                    // 到达时刻早于请求可被处理的时刻（协议违规）
)

func (r RejectReason) String() string {
	switch r {
	case RejectNoClearPath:
		return "NO_CLEAR_PATH"
	case RejectConfirmedAnotherRequest:
		return "CONFIRMED_ANOTHER_REQUEST"
	case RejectBeforeNextAllowedCommunication:
		return "BEFORE_NEXT_ALLOWED_COMM"
	case RejectArrivalTimeTooLarge:
		return "ARRIVAL_TIME_TOO_LARGE"
	case RejectArrivalTimeTooLate:
		return "ARRIVAL_TIME_TOO_LATE"
	default:
		return fmt.Sprintf("RejectReason(%d)", int(r))
	}
}

// Retryable 车辆能否在冷却后重新发起请求
func (r RejectReason) Retryable() bool {
	return r == RejectNoClearPath || r == RejectConfirmedAnotherRequest
}

// Reject 预约拒绝
type Reject struct {
	Header
	RequestID                int32
	Reason                   RejectReason
	NextAllowedCommunication float64 // 车辆下一次允许发送请求的时刻
}

func (h Header) Addr() Header { return h }

func (*Request) Kind() Kind { return KindRequest }
func (*Cancel) Kind() Kind  { return KindCancel }
func (*Done) Kind() Kind    { return KindDone }
func (*Away) Kind() Kind    { return KindAway }
func (*Confirm) Kind() Kind { return KindConfirm }
func (*Reject) Kind() Kind  { return KindReject }
