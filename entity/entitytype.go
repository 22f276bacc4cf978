package entity

import (
	"git.fiblab.net/general/common/v2/geometry"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/aim-sim-oss/kinematic"
	"github.com/tsinghua-fib-lab/aim-sim-oss/protocol"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/container"
)

// 方位常量
const (
	LEFT   = 0 // 左侧
	RIGHT  = 1 // 右侧
	BEFORE = 0 // 后方，等价于prev/behind
	AFTER  = 1 // 前方，等价于next/ahead
)

// VehicleNodeExtra 车道链表节点的附加信息
type VehicleNodeExtra struct {
	Shadow bool // 是否为变道过程中留在原车道上的影子节点
}

// 车辆链表节点类型
type VehicleNode = container.ListNode[IVehicle, VehicleNodeExtra]

// 车辆链表类型
type VehicleList = container.List[IVehicle, VehicleNodeExtra]

// entity/lane/lane.go的依赖倒置
type ILane interface {
	String() string

	ID() int32
	Length() float64
	Width() float64
	MaxV() float64
	Turn() mapv2.LaneTurn          // 路口内车道的转向，道路车道为STRAIGHT
	AllowTurn(mapv2.LaneTurn) bool // 进口车道是否允许该转向
	OffsetInRoad() int             // 在道路中的序号，0为最左侧车道
	ParentRoad() IRoad             // 所在道路，路口内车道为nil
	ParentJunction() IJunction     // 所在路口，道路车道为nil
	InJunction() bool              // 是否为路口内车道
	NeighborLane(side int) ILane   // 左/右侧相邻车道，不存在时为nil
	Successors() []ILane           // 后继车道
	Predecessors() []ILane         // 前驱车道
	ProjectFromLane(other ILane, otherS float64) float64

	GetPositionByS(s float64) geometry.Point
	GetOffsetPositionByS(s, offset float64) geometry.Point
	GetDirectionByS(s float64) float64 // 切向角度（弧度）

	Vehicles() *VehicleList          // 车辆链表（prepare阶段维护）
	AddVehicle(node *VehicleNode)    // 添加车辆（prepare阶段生效）
	RemoveVehicle(node *VehicleNode) // 移除车辆（prepare阶段生效）
}

// entity/road/road.go的依赖倒置
type IRoad interface {
	String() string

	ID() int32
	Arm() int         // 所在方向序号
	IsIncoming() bool // 是否为进口道
	Lanes() []ILane   // 由左到右
	Junction() IJunction
}

// entity/junction/junction.go的依赖倒置
type IJunction interface {
	String() string

	ID() int32
	Lanes() []ILane
	// 连接进口车道arrival与出口车道departure的路口内车道，不存在时为nil
	Path(arrival, departure ILane) ILane
	// 从进口车道arrival驶向出口道departure的所有路口内车道
	Paths(arrival ILane, departure IRoad) []ILane
	// 从进口道驶向出口道的转向
	Turn(arrival, departure IRoad) mapv2.LaneTurn
	// 两条路口内车道是否存在冲突（几何相交或共享起终点）
	Conflict(a, b ILane) bool
	// 路口管理器
	Manager() IIntersectionManager
}

// IIntersectionManager 路口预约管理器
type IIntersectionManager interface {
	ID() int32
	// 接收车辆发来的消息，下一个prepare阶段处理
	Post(msg protocol.Message)
	// 当前有效的预约数
	Reservations() int
}

// ILaneChangeVehicle 变道子状态机所需的车辆能力
type ILaneChangeVehicle interface {
	ID() int32
	Now() float64
	V() float64
	Length() float64
	Spec() protocol.VehicleSpec
	Lane() ILane
	S() float64
	Destination() IRoad
	DistanceToIntersection() float64 // 到前方路口停止线的距离，前方没有路口时为+Inf
	// 指定车道上本车前方最近车辆的车尾间距与速度，ok=false表示前方没有车辆
	GapAhead(lane ILane) (gap, v float64, ok bool)
	// 指定车道上本车车头到后方最近车辆车头的距离与该车速度，ok=false表示后方没有车辆
	GapBehind(lane ILane) (gap, v float64, ok bool)
	// 将所在车道改为target，原车道保留影子节点
	ChangeLaneOfRecord(target ILane)
	// 车身（包括后侧车角）是否已完全进入所在车道
	FullyInLane() bool
	// 移除原车道上的影子节点
	ReleaseShadowLane()
}

// IVehicle 协商状态机所需的车辆能力（传感器与执行器）
type IVehicle interface {
	container.IHasVAndLength
	ILaneChangeVehicle

	String() string
	XYZ() geometry.Point

	// 即将到达或正在通过的路口
	Intersection() IJunction
	// 车头越过停止线的时刻与速度，尚未越过时ok=false
	EnteredIntersection() (t, v float64, ok bool)
	// 车尾是否已离开路口
	ExitedIntersection() bool
	// 车头驶出路口后行驶的距离
	DistanceSinceExit() float64

	AccelProfile() *kinematic.AccelProfile
	SetAccelProfile(p *kinematic.AccelProfile)
	ClearAccelProfile()
	// 指定越过停止线时使用的出口车道
	SetDepartureLane(lane ILane)

	Send(msg protocol.Message)   // 发送消息给路口管理器
	Receive() []protocol.Message // 取出本步收到的消息
}

// IPilot 车辆的底层驾驶行为，每步由协商状态机选择其一
type IPilot interface {
	FollowLane()              // 跟驰（IDM），无预约时在停止线前停车
	FollowProfile()           // 沿车道执行已安装的加速度计划
	Stop()                    // 立即以最大减速度刹停
	Traverse()                // 在路口内执行预约的加速度计划
	SteerToLane(target ILane) // 向目标车道横向移动，同时保持跟驰
}

// INavigator 导航：给出车辆在路口之后的出口道
type INavigator interface {
	NextRoad(lane ILane, destination IRoad) IRoad
}

// IArrivalEstimator 到达估计
type IArrivalEstimator interface {
	Estimate(t, v, distance, vTop, vCeil, aMax, dMax float64) (kinematic.Estimate, error)
}
