package junction

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/kinematic"
	"github.com/tsinghua-fib-lab/aim-sim-oss/protocol"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/config"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/output"
)

// session 路口管理器为每辆车维护的通信状态
type session struct {
	lastRequestID int32   // 已处理的最大请求ID
	nextAllowed   float64 // 下一次允许发送请求的时刻
	reservationID int32   // 当前有效的预约，-1表示没有
}

// reservation 已批准的预约
type reservation struct {
	id        int32
	vehicleID int32
	requestID int32
	path      entity.ILane // 路口内车道
	departure entity.ILane // 出口车道
	start     float64      // 路口内占用时间窗
	end       float64
	length    float64 // 车长，计入出口车道管控区容量
	done      bool    // 车辆已驶出路口，不再占用路口内车道
}

// IntersectionManager 路口预约管理器
// 功能：按先到先服务处理车辆的预约请求，为每个批准的预约在路口内车道上保留一个占用时间窗
// 说明：
// 1. 车辆在update阶段通过Post投递消息，管理器在下一个prepare阶段统一处理，回复在同一个prepare阶段投递给车辆
// 2. 占用时间窗为[到达时刻-提前误差-缓冲, 车尾驶出路口时刻+延后误差+缓冲]，冲突的路口内车道上的时间窗不得重叠
// 3. 每条出口车道在管控区内的车辆总长度不超过管控区长度
type IntersectionManager struct {
	ctx      IContext
	junction entity.IJunction
	params   config.Intersection

	inbox      []protocol.Message
	inboxMutex sync.Mutex

	sessions          map[int32]*session
	reservations      map[int32]*reservation
	nextReservationID int32

	log *logrus.Entry
}

func newIntersectionManager(ctx IContext, junction entity.IJunction, params config.Intersection) *IntersectionManager {
	return &IntersectionManager{
		ctx:          ctx,
		junction:     junction,
		params:       params,
		sessions:     make(map[int32]*session),
		reservations: make(map[int32]*reservation),
		log:          log.WithField("intersection", junction.ID()),
	}
}

// ID 路口管理器ID，与路口ID相同
func (m *IntersectionManager) ID() int32 {
	return m.junction.ID()
}

// Post 接收车辆发来的消息，下一个prepare阶段处理
// 说明：可被多个车辆协程并发调用
func (m *IntersectionManager) Post(msg protocol.Message) {
	m.inboxMutex.Lock()
	defer m.inboxMutex.Unlock()
	m.inbox = append(m.inbox, msg)
}

// Reservations 当前有效的预约数
func (m *IntersectionManager) Reservations() int {
	return len(m.reservations)
}

// prepare 处理收到的全部消息
// 算法说明：
// 1. 先处理取消、驶出与驶离消息以释放占用，再按发送时刻处理预约请求
// 2. 同一时刻发送的请求按车辆ID排序，保证结果与协程调度无关
func (m *IntersectionManager) prepare() {
	m.inboxMutex.Lock()
	msgs := m.inbox
	m.inbox = nil
	m.inboxMutex.Unlock()

	slices.SortStableFunc(msgs, func(a, b protocol.Message) int {
		ra, isReqA := a.(*protocol.Request)
		rb, isReqB := b.(*protocol.Request)
		switch {
		case isReqA && isReqB:
			return cmp.Or(cmp.Compare(ra.SentAt, rb.SentAt), cmp.Compare(ra.VehicleID, rb.VehicleID))
		case isReqA:
			return 1
		case isReqB:
			return -1
		default:
			return cmp.Compare(a.Addr().VehicleID, b.Addr().VehicleID)
		}
	})
	for _, msg := range msgs {
		if msg.Addr().IntersectionID != m.ID() {
			m.log.Panicf("message %v for intersection %d delivered to %d", msg.Kind(), msg.Addr().IntersectionID, m.ID())
		}
		switch msg := msg.(type) {
		case *protocol.Request:
			m.handleRequest(msg)
		case *protocol.Cancel:
			m.handleCancel(msg)
		case *protocol.Done:
			m.handleDone(msg)
		case *protocol.Away:
			m.handleAway(msg)
		default:
			m.log.Panicf("unexpected message %T from vehicle %d", msg, msg.Addr().VehicleID)
		}
	}
}

func (m *IntersectionManager) now() float64 {
	return m.ctx.Clock().T
}

func (m *IntersectionManager) session(vehicleID int32) *session {
	s, ok := m.sessions[vehicleID]
	if !ok {
		s = &session{lastRequestID: math.MinInt32, nextAllowed: math.Inf(-1), reservationID: -1}
		m.sessions[vehicleID] = s
	}
	return s
}

func (m *IntersectionManager) record(vehicleID int32, kind string, reservationID int32, detail string) {
	m.ctx.Recorder().Record(output.Event{
		T:              m.now(),
		Vehicle:        vehicleID,
		IntersectionID: m.ID(),
		Kind:           kind,
		ReservationID:  reservationID,
		Detail:         detail,
	})
}

func (m *IntersectionManager) reply(msg protocol.Message) {
	m.ctx.VehicleManager().Deliver(msg.Addr().VehicleID, msg)
}

// handleRequest 处理预约请求
// 算法说明：
// 1. 请求ID不大于已处理的最大ID时视为过期，直接丢弃
// 2. 依次检查：已有预约、早于允许的通信时刻、到达时刻超出视界、到达时刻过早无法处理
// 3. 按候选方案的顺序寻找第一个可以批准的方案，都不可行时拒绝
func (m *IntersectionManager) handleRequest(req *protocol.Request) {
	now := m.now()
	s := m.session(req.VehicleID)
	if req.RequestID <= s.lastRequestID {
		m.log.Warnf("drop stale request %d from vehicle %d (last %d)", req.RequestID, req.VehicleID, s.lastRequestID)
		return
	}
	s.lastRequestID = req.RequestID
	m.record(req.VehicleID, output.KindRequest, -1, fmt.Sprintf("request %d with %d proposals", req.RequestID, len(req.Proposals)))

	switch {
	case s.reservationID >= 0:
		m.reject(req, s, protocol.RejectConfirmedAnotherRequest)
		return
	case kinematic.Strict.Less(req.SentAt, s.nextAllowed):
		m.reject(req, s, protocol.RejectBeforeNextAllowedCommunication)
		return
	}
	for _, p := range req.Proposals {
		switch {
		case kinematic.Strict.Greater(p.ArrivalTime, now+m.params.Horizon):
			m.reject(req, s, protocol.RejectArrivalTimeTooLarge)
			return
		case kinematic.Strict.Less(p.ArrivalTime, now+m.params.ProcessingTime):
			m.reject(req, s, protocol.RejectArrivalTimeTooLate)
			return
		}
	}
	for _, p := range req.Proposals {
		if r, profile, ok := m.admit(req, p); ok {
			m.confirm(req, s, p, r, profile)
			return
		}
	}
	m.reject(req, s, protocol.RejectNoClearPath)
}

// admit 检查候选方案能否批准
// 返回：预约、路口内加速度计划、是否可以批准
// 算法说明：
// 1. 路口内以最大加速度从到达速度加速到路口内车道限速与车辆最大速度中的较小值，随后匀速
// 2. 车尾驶出路口的时刻为按该计划行驶(路口内车道长度+车长)的时刻
// 3. 与冲突车道上尚未驶出的预约时间窗不重叠，且出口车道管控区容量足够
func (m *IntersectionManager) admit(req *protocol.Request, p protocol.Proposal) (*reservation, []kinematic.DurationAccel, bool) {
	path, ok := lo.Find(m.junction.Lanes(), func(path entity.ILane) bool {
		return path.Predecessors()[0].ID() == p.ArrivalLaneID && path.Successors()[0].ID() == p.DepartureLaneID
	})
	if !ok {
		m.log.Warnf("vehicle %d proposes unknown path %d -> %d", req.VehicleID, p.ArrivalLaneID, p.DepartureLaneID)
		return nil, nil, false
	}
	departure := path.Successors()[0]

	vTop := math.Max(math.Min(path.MaxV(), req.Spec.MaxVelocity), p.ArrivalVelocity)
	var segments []kinematic.DurationAccel
	if dv := vTop - p.ArrivalVelocity; dv > kinematic.StrictEps {
		segments = []kinematic.DurationAccel{{Duration: dv / req.Spec.MaxAcceleration, A: req.Spec.MaxAcceleration}}
	}
	profile := kinematic.FromDurations(p.ArrivalTime, segments)
	tClear, _, ok := profile.AdvanceByDistance(p.ArrivalTime, p.ArrivalVelocity, path.Length()+req.Spec.Length)
	if !ok {
		m.log.Warnf("vehicle %d cannot clear %v from velocity %v", req.VehicleID, path, p.ArrivalVelocity)
		return nil, nil, false
	}
	r := &reservation{
		vehicleID: req.VehicleID,
		requestID: req.RequestID,
		path:      path,
		departure: departure,
		start:     p.ArrivalTime - m.params.EarlyError - m.params.SafetyBuffer,
		end:       tClear + m.params.LateError + m.params.SafetyBuffer,
		length:    req.Spec.Length,
	}

	occupied := r.length
	for _, other := range m.reservations {
		if other.departure == departure {
			occupied += other.length
		}
		if other.done || !m.junction.Conflict(path, other.path) {
			continue
		}
		if r.start < other.end && other.start < r.end {
			return nil, nil, false
		}
	}
	if occupied > m.params.ACZDistance {
		return nil, nil, false
	}
	return r, segments, true
}

func (m *IntersectionManager) confirm(
	req *protocol.Request, s *session, p protocol.Proposal, r *reservation, profile []kinematic.DurationAccel,
) {
	r.id = m.nextReservationID
	m.nextReservationID++
	m.reservations[r.id] = r
	s.reservationID = r.id
	m.reply(&protocol.Confirm{
		Header:          req.Header,
		RequestID:       req.RequestID,
		ReservationID:   r.id,
		ArrivalLaneID:   p.ArrivalLaneID,
		DepartureLaneID: p.DepartureLaneID,
		ArrivalTime:     p.ArrivalTime,
		EarlyError:      m.params.EarlyError,
		LateError:       m.params.LateError,
		ArrivalVelocity: p.ArrivalVelocity,
		ACZDistance:     m.params.ACZDistance,
		Profile:         profile,
	})
	m.record(req.VehicleID, output.KindConfirm, r.id,
		fmt.Sprintf("%v at %.3fs %.3fm/s window [%.3f, %.3f]", r.path, p.ArrivalTime, p.ArrivalVelocity, r.start, r.end))
}

func (m *IntersectionManager) reject(req *protocol.Request, s *session, reason protocol.RejectReason) {
	s.nextAllowed = m.now() + m.params.RejectCooldown
	m.reply(&protocol.Reject{
		Header:                   req.Header,
		RequestID:                req.RequestID,
		Reason:                   reason,
		NextAllowedCommunication: s.nextAllowed,
	})
	m.record(req.VehicleID, output.KindReject, -1, reason.String())
}

// handleCancel 取消预约
// 说明：ReservationID为-1时取消由RequestID批准的预约（车辆在收到确认前超时）
func (m *IntersectionManager) handleCancel(msg *protocol.Cancel) {
	s := m.session(msg.VehicleID)
	id := msg.ReservationID
	if id < 0 {
		r, ok := lo.Find(lo.Values(m.reservations), func(r *reservation) bool {
			return r.vehicleID == msg.VehicleID && r.requestID == msg.RequestID
		})
		if !ok {
			return
		}
		id = r.id
	}
	r, ok := m.reservations[id]
	if !ok || r.vehicleID != msg.VehicleID {
		m.log.Warnf("vehicle %d cancels unknown reservation %d", msg.VehicleID, id)
		return
	}
	delete(m.reservations, id)
	if s.reservationID == id {
		s.reservationID = -1
	}
	m.record(msg.VehicleID, output.KindCancel, id, "")
}

// handleDone 车辆已驶出路口，释放路口内车道
func (m *IntersectionManager) handleDone(msg *protocol.Done) {
	r, ok := m.reservations[msg.ReservationID]
	if !ok || r.vehicleID != msg.VehicleID {
		m.log.Warnf("vehicle %d reports done for unknown reservation %d", msg.VehicleID, msg.ReservationID)
		return
	}
	r.done = true
	m.record(msg.VehicleID, output.KindDone, r.id, "")
}

// handleAway 车辆已驶离管控区，结束预约与会话
func (m *IntersectionManager) handleAway(msg *protocol.Away) {
	r, ok := m.reservations[msg.ReservationID]
	if !ok || r.vehicleID != msg.VehicleID {
		m.log.Warnf("vehicle %d reports away for unknown reservation %d", msg.VehicleID, msg.ReservationID)
		return
	}
	delete(m.reservations, r.id)
	delete(m.sessions, msg.VehicleID)
	m.record(msg.VehicleID, output.KindAway, r.id, "")
}
