package vehicle

import (
	"fmt"
	"math"
	"sync"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity/coordinator"
	"github.com/tsinghua-fib-lab/aim-sim-oss/kinematic"
	"github.com/tsinghua-fib-lab/aim-sim-oss/protocol"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/config"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/container"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/input"
)

// Vehicle 车辆实体
// 功能：在车道上按加速度计划或跟驰模型运动，通过协商状态机向路口管理器预约通行
// 说明：
// 1. 其他车辆与路口管理器只读取snapshot，本车在update阶段只写runtime
// 2. 加速度计划、出口车道与收件箱由本车独占，不做双缓冲
type Vehicle struct {
	container.IncrementalItemBase
	ctx entity.ITaskContext
	m   *VehicleManager

	// 静态属性
	id            int32
	departureTime float64
	attr          config.VehicleAttr
	spec          protocol.VehicleSpec
	destination   entity.IRoad // 驶出的出口道

	runtime  runtime
	snapshot runtime

	node, shadowNode *entity.VehicleNode // 主节点和影子节点（用于变道）

	profile   *kinematic.AccelProfile // 已安装的加速度计划
	departure entity.ILane            // 越过停止线时使用的出口车道
	action    action                  // 本步的驾驶行为

	inbox      []protocol.Message
	inboxMutex sync.Mutex

	pilot       *Pilot
	coordinator *coordinator.Coordinator
	ended       bool

	log *logrus.Entry
}

// newVehicle 根据出发数据创建车辆
// 功能：把方向序号与车道序号转换为车道，补齐车辆属性，创建驾驶行为与协商状态机
func newVehicle(ctx entity.ITaskContext, m *VehicleManager, base input.Vehicle) *Vehicle {
	rc := ctx.RuntimeConfig()
	attr := rc.All.Vehicle
	if base.Attr != nil {
		attr = mergeAttr(*base.Attr, attr)
	}
	lane := ctx.RoadManager().GetByArm(base.From, true).Lanes()[base.Lane]
	v := &Vehicle{
		ctx:           ctx,
		m:             m,
		id:            base.ID,
		departureTime: base.DepartureTime,
		attr:          attr,
		spec: protocol.VehicleSpec{
			MaxAcceleration: attr.MaxAcceleration,
			MaxDeceleration: attr.MaxBrakingAcceleration,
			MaxVelocity:     attr.MaxSpeed,
			Length:          attr.Length,
			Width:           attr.Width,
		},
		destination: ctx.RoadManager().GetByArm(base.To, false),
		runtime: runtime{
			Lane: lane,
			S:    base.S,
			V:    math.Max(math.Min(base.V, math.Min(lane.MaxV(), attr.MaxSpeed)), 0),
		},
		log: log.WithField("vehicle", base.ID),
	}
	v.runtime.refreshXYZ()
	v.snapshot = v.runtime
	v.pilot = newPilot(v, ctx.Clock().DT)
	v.coordinator = coordinator.New(v, v.pilot, m.navigator, kinematic.Estimator{}, rc.All.Coordinator)
	return v
}

// mergeAttr 用默认属性补齐单车属性中的零值
func mergeAttr(attr, defaults config.VehicleAttr) config.VehicleAttr {
	fill := func(v *float64, d float64) {
		if *v == 0 {
			*v = d
		}
	}
	fill(&attr.Length, defaults.Length)
	fill(&attr.Width, defaults.Width)
	fill(&attr.MaxSpeed, defaults.MaxSpeed)
	fill(&attr.MaxAcceleration, defaults.MaxAcceleration)
	fill(&attr.MaxBrakingAcceleration, defaults.MaxBrakingAcceleration)
	fill(&attr.UsualBrakingAcceleration, defaults.UsualBrakingAcceleration)
	fill(&attr.MinGap, defaults.MinGap)
	fill(&attr.Headway, defaults.Headway)
	return attr
}

// depart 加入出发车道的链表
func (v *Vehicle) depart() {
	v.node = newVehicleNode(v.runtime.S, v)
	v.runtime.Lane.AddVehicle(v.node)
}

// prepareNode 更新链表节点的键值
func (v *Vehicle) prepareNode() {
	v.node.S = v.runtime.S
	if v.runtime.LC.IsLC {
		v.shadowNode.S = v.runtime.LC.ShadowS
	}
}

// prepare 更新快照
func (v *Vehicle) prepare() {
	v.snapshot = v.runtime
}

// update 更新阶段
// 算法说明：
// 1. 协商状态机选择本步的驾驶行为，协议违规时车辆退出仿真
// 2. 状态机没有选择驾驶行为时默认跟驰
// 3. 积分运动并维护车道链表，驶出出口道终点时结束行程
func (v *Vehicle) update(dt float64) {
	v.action = action{}
	if err := v.coordinator.Step(); err != nil {
		v.log.Errorf("%+v", err)
		v.m.recordViolation(v, err)
		v.finish()
		return
	}
	if !v.action.set {
		v.pilot.FollowLane()
	}
	if arrived := v.refreshRuntime(dt); arrived {
		v.m.recordArrival(v)
		v.finish()
		return
	}
	v.updateLaneVehicleNodes()
}

// finish 从车道链表中移除并登记删除
func (v *Vehicle) finish() {
	v.snapshot.Lane.RemoveVehicle(v.node)
	if v.snapshot.LC.IsLC {
		v.snapshot.LC.ShadowLane.RemoveVehicle(v.shadowNode)
	}
	v.ended = true
	v.m.remove(v)
}

// 静态数据

func (v *Vehicle) String() string {
	return fmt.Sprintf("Vehicle %d", v.id)
}

// ID 获取车辆ID，Vehicle为nil时返回-1
func (v *Vehicle) ID() int32 {
	if v == nil {
		return -1
	}
	return v.id
}

// Length 车长
func (v *Vehicle) Length() float64 {
	return v.spec.Length
}

// Spec 车辆在请求中上报的参数
func (v *Vehicle) Spec() protocol.VehicleSpec {
	return v.spec
}

// Destination 驶出的出口道
func (v *Vehicle) Destination() entity.IRoad {
	return v.destination
}

// 快照数据

func (v *Vehicle) Now() float64 {
	return v.ctx.Clock().T
}

func (v *Vehicle) V() float64 {
	return v.snapshot.V
}

func (v *Vehicle) Lane() entity.ILane {
	return v.snapshot.Lane
}

func (v *Vehicle) S() float64 {
	return v.snapshot.S
}

func (v *Vehicle) XYZ() geometry.Point {
	return v.snapshot.XYZ
}

// onApproach 是否在驶向路口的进口道上
func onApproach(lane entity.ILane) bool {
	road := lane.ParentRoad()
	return road != nil && road.IsIncoming()
}

// Intersection 即将到达或正在通过的路口，驶出路口后为nil
func (v *Vehicle) Intersection() entity.IJunction {
	lane := v.snapshot.Lane
	if lane.InJunction() {
		return lane.ParentJunction()
	}
	if onApproach(lane) {
		return lane.ParentRoad().Junction()
	}
	return nil
}

// DistanceToIntersection 车头到停止线的距离，不在进口道上时为+Inf
func (v *Vehicle) DistanceToIntersection() float64 {
	if !onApproach(v.snapshot.Lane) {
		return math.Inf(1)
	}
	return math.Max(v.snapshot.Lane.Length()-v.snapshot.S, 0)
}

// EnteredIntersection 车头越过停止线的时刻与速度
func (v *Vehicle) EnteredIntersection() (t, speed float64, ok bool) {
	return v.snapshot.EnterT, v.snapshot.EnterV, v.snapshot.Entered
}

// ExitedIntersection 车尾是否已离开路口
func (v *Vehicle) ExitedIntersection() bool {
	lane := v.snapshot.Lane
	return v.snapshot.Entered && !lane.InJunction() && v.snapshot.S >= v.spec.Length
}

// DistanceSinceExit 车尾离开路口后行驶的距离
func (v *Vehicle) DistanceSinceExit() float64 {
	if !v.ExitedIntersection() {
		return 0
	}
	return v.snapshot.S - v.spec.Length
}

// 传感器

// positionOn 本车车头在lane上的位置
// 说明：lane必须是所在车道、影子车道或同一道路中的车道
func (v *Vehicle) positionOn(lane entity.ILane) float64 {
	rt := &v.snapshot
	switch {
	case lane == rt.Lane:
		return rt.S
	case rt.LC.IsLC && lane == rt.LC.ShadowLane:
		return rt.LC.ShadowS
	case lane.ParentRoad() != nil && lane.ParentRoad() == rt.Lane.ParentRoad():
		return lane.ProjectFromLane(rt.Lane, rt.S)
	default:
		log.Panicf("%v on %v cannot sense %v", v, rt.Lane, lane)
		return 0
	}
}

// GapAhead lane上本车前方最近车辆的车尾间距与速度
func (v *Vehicle) GapAhead(lane entity.ILane) (gap, speed float64, ok bool) {
	s := v.positionOn(lane)
	for node := lane.Vehicles().Find(s); node != nil; node = node.Next() {
		if node.Value != entity.IVehicle(v) {
			return node.S - node.Value.Length() - s, node.V(), true
		}
	}
	return 0, 0, false
}

// GapBehind lane上本车车头到后方最近车辆车头的距离与该车速度
func (v *Vehicle) GapBehind(lane entity.ILane) (gap, speed float64, ok bool) {
	s := v.positionOn(lane)
	for node := lane.Vehicles().FindBehind(s); node != nil; node = node.Prev() {
		if node.Value != entity.IVehicle(v) {
			return s - node.S, node.V(), true
		}
	}
	return 0, 0, false
}

// 执行器

// AccelProfile 已安装的加速度计划，没有时为nil
func (v *Vehicle) AccelProfile() *kinematic.AccelProfile {
	return v.profile
}

func (v *Vehicle) SetAccelProfile(p *kinematic.AccelProfile) {
	v.profile = p
}

func (v *Vehicle) ClearAccelProfile() {
	v.profile = nil
}

// SetDepartureLane 指定越过停止线时使用的出口车道，nil表示没有预约
func (v *Vehicle) SetDepartureLane(lane entity.ILane) {
	v.departure = lane
}

// ChangeLaneOfRecord 将所在车道改为相邻的target，原车道保留影子节点
func (v *Vehicle) ChangeLaneOfRecord(target entity.ILane) {
	rt := &v.runtime
	if rt.LC.IsLC {
		log.Panicf("%v starts a lane change to %v while changing from %v", v, target, rt.LC.ShadowLane)
	}
	if target != rt.Lane.NeighborLane(entity.LEFT) && target != rt.Lane.NeighborLane(entity.RIGHT) {
		log.Panicf("%v cannot change from %v to non-neighbor %v", v, rt.Lane, target)
	}
	rt.LC = lcRuntime{
		IsLC:       true,
		ShadowLane: rt.Lane,
		ShadowS:    rt.S,
	}
	rt.S = target.ProjectFromLane(rt.Lane, rt.S)
	rt.Lane = target
}

// FullyInLane 车身是否已完全进入所在车道
// 说明：车身横向偏离车道中心不超过(车道宽-车宽)/2时认为完全进入，即完成比例不小于(车道宽+车宽)/(2*车道宽)
func (v *Vehicle) FullyInLane() bool {
	lc := v.snapshot.LC
	if !lc.IsLC {
		return true
	}
	w := v.snapshot.Lane.Width()
	return lc.CompletedRatio >= (w+v.spec.Width)/(2*w)
}

// ReleaseShadowLane 结束变道，移除原车道上的影子节点
func (v *Vehicle) ReleaseShadowLane() {
	v.runtime.clearLaneChange()
}

// 通信

// Send 发送消息给路口管理器
func (v *Vehicle) Send(msg protocol.Message) {
	j, err := v.ctx.JunctionManager().GetOrError(msg.Addr().IntersectionID)
	if err != nil {
		log.Panicf("%v sends %v: %v", v, msg.Kind(), err)
	}
	j.Manager().Post(msg)
}

// deliver 接收路口管理器的回复，下一次update时处理
func (v *Vehicle) deliver(msg protocol.Message) {
	v.inboxMutex.Lock()
	defer v.inboxMutex.Unlock()
	v.inbox = append(v.inbox, msg)
}

// Receive 取出收到的消息
func (v *Vehicle) Receive() []protocol.Message {
	v.inboxMutex.Lock()
	defer v.inboxMutex.Unlock()
	msgs := v.inbox
	v.inbox = nil
	return msgs
}

// reservationID 当前持有预约的ID，没有时为-1
func (v *Vehicle) reservationID() int32 {
	if r := v.coordinator.Reservation(); r != nil {
		return r.ReservationID
	}
	return -1
}

// Coordinator 协商状态机
func (v *Vehicle) Coordinator() *coordinator.Coordinator {
	return v.coordinator
}
