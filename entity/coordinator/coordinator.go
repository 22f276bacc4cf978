package coordinator

import (
	"math"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/kinematic"
	"github.com/tsinghua-fib-lab/aim-sim-oss/protocol"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/config"
)

const (
	// 单步内允许的最大状态转移次数，超过说明状态机出现了无冷却的循环
	maxTransitionsPerStep = 16
)

// candidate 已发送请求中的一个候选出口车道
type candidate struct {
	path      entity.ILane // 路口内车道
	departure entity.ILane // 出口车道
}

// Coordinator 车辆与路口管理器之间的协商状态机
// 功能：决定何时发起预约、构造候选方案、发送/取消请求、用可行性求解器校验确认的预约，并驱动变道子状态机
// 说明：每个仿真步由车辆调用一次Step，状态机不会阻塞，所有等待都表现为跨步停留在某个状态
type Coordinator struct {
	vehicle   entity.IVehicle
	pilot     entity.IPilot
	navigator entity.INavigator
	estimator entity.IArrivalEstimator
	params    config.Coordinator

	state       State
	laneChanger *LaneChanger
	reservation *ReservationParameter

	requestID      int32                 // 最近一次请求的序号
	requestSentAt  float64               // 最近一次请求的发送时刻
	candidates     map[int32]candidate   // 最近一次请求的候选出口车道，按出口车道ID索引
	junction       entity.IJunction      // 最近一次请求的路口
	nextSend       float64               // 允许再次发送请求的时刻
	nextLaneChange float64               // 允许再次考虑变道的时刻

	log *logrus.Entry
}

// New 创建协商状态机
func New(
	vehicle entity.IVehicle,
	pilot entity.IPilot,
	navigator entity.INavigator,
	estimator entity.IArrivalEstimator,
	params config.Coordinator,
) *Coordinator {
	c := &Coordinator{
		vehicle:        vehicle,
		pilot:          pilot,
		navigator:      navigator,
		estimator:      estimator,
		params:         params,
		state:          Planning,
		nextSend:       math.Inf(-1),
		nextLaneChange: math.Inf(-1),
		log:            log.WithField("vehicle", vehicle.ID()),
	}
	c.laneChanger = NewLaneChanger(vehicle, pilot, navigator, params.LaneChange, params.FollowingDistance)
	return c
}

// State 当前状态
func (c *Coordinator) State() State {
	return c.state
}

// Reservation 当前持有的预约，没有时为nil
func (c *Coordinator) Reservation() *ReservationParameter {
	return c.reservation
}

// LaneChanger 变道子状态机
func (c *Coordinator) LaneChanger() *LaneChanger {
	return c.laneChanger
}

// RequestID 最近一次请求的序号
func (c *Coordinator) RequestID() int32 {
	return c.requestID
}

// Step 推进一步
// 功能：先处理本步收到的全部消息，再反复执行当前状态的处理函数，直到该函数报告本步不再转移
// 返回：协议违规时返回*protocol.Violation，车辆应当停止运行
func (c *Coordinator) Step() error {
	for _, msg := range c.vehicle.Receive() {
		if err := c.handleMessage(msg); err != nil {
			return err
		}
	}
	for i := 0; ; i++ {
		if i >= maxTransitionsPerStep {
			log.Panicf("Coordinator: vehicle %d made %d transitions in one step, last state %v",
				c.vehicle.ID(), i, c.state)
		}
		more, err := c.dispatch()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// dispatch 执行当前状态的处理函数
// 返回：more-是否需要在本步内继续执行下一个状态
func (c *Coordinator) dispatch() (more bool, err error) {
	switch c.state {
	case Planning:
		return c.planning(), nil
	case ConsideringLaneChange:
		return c.consideringLaneChange(), nil
	case DefaultDriving:
		return c.defaultDriving(), nil
	case PreparingReservation:
		return c.preparingReservation(), nil
	case AwaitingResponse:
		return c.awaitingResponse(), nil
	case MaintainingReservation:
		return c.maintainingReservation()
	case Traversing:
		return c.traversing(), nil
	case Clearing:
		return c.clearing(), nil
	case Terminal:
		return false, nil
	default:
		log.Panicf("Coordinator: unknown state %v", c.state)
		return false, nil
	}
}

func (c *Coordinator) setState(s State) {
	if c.state != s {
		c.log.Tracef("%v -> %v", c.state, s)
	}
	c.state = s
}

func (c *Coordinator) header() protocol.Header {
	return protocol.Header{VehicleID: c.vehicle.ID(), IntersectionID: c.junction.ID()}
}

// approaching 车辆是否在进口道上驶向路口
func (c *Coordinator) approaching() bool {
	lane := c.vehicle.Lane()
	return !lane.InJunction() && c.vehicle.Intersection() != nil &&
		!math.IsInf(c.vehicle.DistanceToIntersection(), 1)
}

// laneClear 本车道前方直到停止线是否没有其他车辆
func (c *Coordinator) laneClear() bool {
	_, _, ok := c.vehicle.GapAhead(c.vehicle.Lane())
	return !ok
}

func (c *Coordinator) vTop() float64 {
	return math.Min(c.vehicle.Spec().MaxVelocity, c.vehicle.Lane().MaxV())
}

func (c *Coordinator) planning() bool {
	c.reservation = nil
	v := c.vehicle
	now := v.Now()
	if !c.params.LaneChange.Disable && now >= c.nextLaneChange && c.approaching() {
		if c.laneChanger.Reset() {
			c.setState(ConsideringLaneChange)
			return true
		}
	}
	if now >= c.nextSend && c.approaching() {
		stopRange := kinematic.StopDistance(v.V(), v.Spec().MaxDeceleration) + c.params.StopRangeMargin
		if v.DistanceToIntersection() <= stopRange {
			c.setState(PreparingReservation)
			return true
		}
	}
	c.setState(DefaultDriving)
	return true
}

func (c *Coordinator) consideringLaneChange() bool {
	// 等待期间驶入距路口过近的区域，放弃本次变道
	if c.laneChanger.State() == WaitingToChange &&
		c.vehicle.DistanceToIntersection() < c.params.LaneChange.MinDistance {
		c.laneChanger.Interrupt()
	}
	if !c.laneChanger.Step() {
		return false
	}
	cooldown := c.params.LaneChange.FailureCooldown
	if c.laneChanger.Succeeded() {
		cooldown = c.params.LaneChange.SuccessCooldown
	}
	c.nextLaneChange = c.vehicle.Now() + cooldown
	c.setState(Planning)
	return true
}

func (c *Coordinator) defaultDriving() bool {
	c.pilot.FollowLane()
	c.setState(Planning)
	return false
}

// preparingReservation 准备并发送预约请求
// 算法说明：
// 1. 用到达估计器计算在停止线前停车的计划并安装，失败时立即刹车
// 2. 前方有车时推迟发送
// 3. 预测回复到达时（now+ReplyLatency）车辆按停车计划行驶后的状态，以此为起点为每个候选出口车道估计到达时刻与速度
// 4. 到达时刻不早于回复到达后MinFutureReservationTime，超出MaxFutureReservationTime的方案丢弃
func (c *Coordinator) preparingReservation() bool {
	v := c.vehicle
	spec := v.Spec()
	now := v.Now()
	speed := v.V()
	distance := v.DistanceToIntersection()
	vTop := c.vTop()

	fallback, err := c.estimator.Estimate(now, speed, distance, vTop, 0, spec.MaxAcceleration, spec.MaxDeceleration)
	if err != nil {
		c.log.Debugf("stop estimation failed, brake now: %v", err)
		c.pilot.Stop()
	} else {
		v.SetAccelProfile(fallback.Profile)
	}
	if !c.laneClear() {
		c.nextSend = now + c.params.SendingRetryDelay
		c.setState(Planning)
		return true
	}

	// 回复到达时的预测状态
	tReply := now + c.params.ReplyLatency
	dReply, vReply := 0., speed
	if p := v.AccelProfile(); p != nil {
		dReply, vReply = p.Advance(now, speed, tReply)
	}
	remain := math.Max(distance-dReply, 0)
	vReply = lo.Clamp(vReply, 0, vTop)

	lane := v.Lane()
	junction := v.Intersection()
	departureRoad := c.navigator.NextRoad(lane, v.Destination())
	paths := junction.Paths(lane, departureRoad)
	if len(paths) > c.params.MaxLanesToTry {
		paths = paths[:c.params.MaxLanesToTry]
	}
	candidates := make(map[int32]candidate, len(paths))
	proposals := make([]protocol.Proposal, 0, len(paths))
	for _, path := range paths {
		departure := path.Successors()[0]
		est, err := c.estimator.Estimate(
			tReply, vReply, remain, vTop, path.MaxV(), spec.MaxAcceleration, spec.MaxDeceleration,
		)
		if err != nil {
			continue
		}
		tArr := math.Max(est.Time, tReply+c.params.MinFutureReservationTime)
		if tArr > now+c.params.MaxFutureReservationTime {
			continue
		}
		proposals = append(proposals, protocol.Proposal{
			ArrivalLaneID:   lane.ID(),
			DepartureLaneID: departure.ID(),
			ArrivalTime:     tArr,
			ArrivalVelocity: est.Velocity,
			MaxTurnVelocity: path.MaxV(),
		})
		candidates[departure.ID()] = candidate{path: path, departure: departure}
	}
	if len(proposals) == 0 {
		c.nextSend = now + c.params.SendingRetryDelay
		c.setState(Planning)
		return true
	}

	c.junction = junction
	c.candidates = candidates
	c.requestID++
	c.requestSentAt = now
	v.Send(&protocol.Request{
		Header:    c.header(),
		RequestID: c.requestID,
		SentAt:    now,
		Spec:      spec,
		Proposals: proposals,
	})
	c.setState(AwaitingResponse)
	return true
}

func (c *Coordinator) awaitingResponse() bool {
	v := c.vehicle
	now := v.Now()
	if now-c.requestSentAt >= c.params.RequestTimeout {
		c.log.Debugf("request %d timed out", c.requestID)
		v.Send(&protocol.Cancel{Header: c.header(), RequestID: c.requestID, ReservationID: -1})
		c.nextSend = now + c.params.SendingRetryDelay
		c.setState(Planning)
		return true
	}
	c.followFallback()
	return false
}

// followFallback 按已安装的停车计划行驶，前车过近时改为跟驰
func (c *Coordinator) followFallback() {
	v := c.vehicle
	if v.AccelProfile() != nil {
		gap, _, ok := v.GapAhead(v.Lane())
		safe := kinematic.StopDistance(v.V(), v.Spec().MaxDeceleration) + c.params.FollowingDistance
		if !ok || gap > safe {
			c.pilot.FollowProfile()
			return
		}
		v.ClearAccelProfile()
	}
	c.pilot.FollowLane()
}

// maintainingReservation 持有预约驶向路口
// 算法说明：
// 1. 已越过停止线：校验实际到达时刻在[tArr-early, tArr+late]内、到达速度与确认的速度一致（宽松误差），
//    不一致属于协议违规；一致则安装路口内加速度计划，进入Traversing
// 2. 前方没有车辆：继续执行加速度计划
// 3. 前方有车辆：取消预约，回到Planning
func (c *Coordinator) maintainingReservation() (bool, error) {
	v := c.vehicle
	r := c.reservation
	if t, vEnter, ok := v.EnteredIntersection(); ok {
		earliest, latest := r.ArrivalWindow()
		if !kinematic.Weak.GreaterOrEqual(t, earliest) || !kinematic.Weak.LessOrEqual(t, latest) {
			return false, protocol.NewViolation(v.ID(), c.state.String(),
				"entered at %.4f outside of reserved window [%.4f, %.4f]", t, earliest, latest)
		}
		if !kinematic.Weak.Equal(vEnter, r.ArrivalVelocity) {
			return false, protocol.NewViolation(v.ID(), c.state.String(),
				"entered with velocity %.4f, reserved %.4f", vEnter, r.ArrivalVelocity)
		}
		v.SetAccelProfile(r.TraversalProfile(t))
		c.setState(Traversing)
		return true, nil
	}
	if c.laneClear() {
		c.pilot.FollowProfile()
		return false, nil
	}
	c.log.Debugf("lane blocked, cancel reservation %d", r.ReservationID)
	c.cancelReservation()
	c.nextSend = v.Now() + c.params.SendingRetryDelay
	c.setState(Planning)
	return true, nil
}

func (c *Coordinator) traversing() bool {
	v := c.vehicle
	if v.ExitedIntersection() {
		v.Send(&protocol.Done{Header: c.header(), ReservationID: c.reservation.ReservationID})
		c.setState(Clearing)
		return true
	}
	c.pilot.Traverse()
	return false
}

func (c *Coordinator) clearing() bool {
	v := c.vehicle
	if v.DistanceSinceExit() > c.reservation.ACZDistance {
		v.Send(&protocol.Away{Header: c.header(), ReservationID: c.reservation.ReservationID})
		c.reservation = nil
		c.setState(Terminal)
		return true
	}
	c.pilot.FollowLane()
	return false
}

// cancelReservation 发送Cancel并放弃预约与加速度计划
func (c *Coordinator) cancelReservation() {
	r := c.reservation
	c.vehicle.Send(&protocol.Cancel{Header: c.header(), RequestID: r.RequestID, ReservationID: r.ReservationID})
	c.reservation = nil
	c.vehicle.ClearAccelProfile()
	c.vehicle.SetDepartureLane(nil)
}

func (c *Coordinator) handleMessage(msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.Confirm:
		return c.onConfirm(m)
	case *protocol.Reject:
		return c.onReject(m)
	default:
		log.Panicf("Coordinator: vehicle %d cannot handle %v message", c.vehicle.ID(), msg.Kind())
		return nil
	}
}

// onConfirm 处理预约确认
// 算法说明：
// 1. 不在AwaitingResponse状态时忽略
// 2. 用当前状态、确认的到达时刻与速度、到停止线的距离重新求解加速度计划
// 3. 可行：安装计划（末尾接上路口内计划），进入MaintainingReservation
// 4. 不可行：取消预约，回到Planning
func (c *Coordinator) onConfirm(m *protocol.Confirm) error {
	if c.state != AwaitingResponse {
		c.log.Warnf("ignore confirm %d of request %d in %v", m.ReservationID, m.RequestID, c.state)
		return nil
	}
	v := c.vehicle
	cand, ok := c.candidates[m.DepartureLaneID]
	if !ok {
		return protocol.NewViolation(v.ID(), c.state.String(),
			"confirm %d for departure lane %d that was not proposed", m.ReservationID, m.DepartureLaneID)
	}
	c.reservation = newReservationParameter(c.junction, v.Lane(), cand.departure, m)

	now := v.Now()
	vTop := c.vTop()
	spec := v.Spec()
	var profile *kinematic.AccelProfile
	var err error
	switch {
	case m.ArrivalLaneID != v.Lane().ID():
		c.log.Debugf("confirm %d for lane %d but now on %v", m.ReservationID, m.ArrivalLaneID, v.Lane())
	case m.ArrivalTime < now:
		c.log.Debugf("confirm %d arrives at %.3f before now %.3f", m.ReservationID, m.ArrivalTime, now)
	case kinematic.Strict.Greater(m.ArrivalVelocity, vTop):
		c.log.Debugf("confirm %d arrives with %.3f above %.3f", m.ReservationID, m.ArrivalVelocity, vTop)
	default:
		profile, err = kinematic.Solve(
			now, lo.Clamp(v.V(), 0, vTop),
			m.ArrivalTime, math.Max(m.ArrivalVelocity, 0),
			v.DistanceToIntersection(), vTop,
			spec.MaxAcceleration, spec.MaxDeceleration,
		)
		if err != nil {
			c.log.Debugf("confirm %d infeasible: %v", m.ReservationID, err)
			profile = nil
		}
	}
	if profile == nil {
		c.cancelReservation()
		c.nextSend = now + c.params.SendingRetryDelay
		c.setState(Planning)
		return nil
	}
	profile.Extend(c.reservation.TraversalProfile(m.ArrivalTime))
	v.SetAccelProfile(profile)
	v.SetDepartureLane(cand.departure)
	c.setState(MaintainingReservation)
	return nil
}

// onReject 处理预约拒绝
// 说明：NO_CLEAR_PATH与CONFIRMED_ANOTHER_REQUEST在冷却后重试，其他原因说明请求本身不应被发出，属于协议违规
func (c *Coordinator) onReject(m *protocol.Reject) error {
	if c.state != AwaitingResponse {
		c.log.Warnf("ignore reject of request %d in %v", m.RequestID, c.state)
		return nil
	}
	if !m.Reason.Retryable() {
		return protocol.NewViolation(c.vehicle.ID(), c.state.String(),
			"request %d rejected with %v", m.RequestID, m.Reason)
	}
	now := c.vehicle.Now()
	c.nextSend = math.Max(now+c.params.SendingRetryDelay, m.NextAllowedCommunication)
	c.setState(Planning)
	return nil
}
