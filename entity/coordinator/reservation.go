package coordinator

import (
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/kinematic"
	"github.com/tsinghua-fib-lab/aim-sim-oss/protocol"
)

// ReservationParameter 已确认预约的参数
// 说明：由协商状态机独占，收到Confirm时创建，取消、拒绝或完成时置空
type ReservationParameter struct {
	Intersection    entity.IJunction
	RequestID       int32
	ReservationID   int32
	ArrivalLane     entity.ILane // 进口车道
	DepartureLane   entity.ILane // 出口车道
	ArrivalTime     float64
	EarlyError      float64
	LateError       float64
	ArrivalVelocity float64
	ACZDistance     float64
	Profile         []kinematic.DurationAccel // 路口内的加速度计划，可为空
}

func newReservationParameter(
	junction entity.IJunction, arrival, departure entity.ILane, m *protocol.Confirm,
) *ReservationParameter {
	return &ReservationParameter{
		Intersection:    junction,
		RequestID:       m.RequestID,
		ReservationID:   m.ReservationID,
		ArrivalLane:     arrival,
		DepartureLane:   departure,
		ArrivalTime:     m.ArrivalTime,
		EarlyError:      m.EarlyError,
		LateError:       m.LateError,
		ArrivalVelocity: m.ArrivalVelocity,
		ACZDistance:     m.ACZDistance,
		Profile:         append([]kinematic.DurationAccel(nil), m.Profile...),
	}
}

// ArrivalWindow 允许的到达时间范围
func (r *ReservationParameter) ArrivalWindow() (earliest, latest float64) {
	return r.ArrivalTime - r.EarlyError, r.ArrivalTime + r.LateError
}

// TraversalProfile 从实际到达时刻t开始的路口内加速度计划
func (r *ReservationParameter) TraversalProfile(t float64) *kinematic.AccelProfile {
	return kinematic.FromDurations(t, r.Profile)
}
