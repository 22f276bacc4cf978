package lane

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"git.fiblab.net/general/common/v2/geometry"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/input"
)

// Lane 车道实体
// 功能：表示路网中的道路车道或路口内车道，包含几何信息、拓扑关系与车辆链表
type Lane struct {
	id int32

	// 初始化临时变量

	initPredecessors []int32
	initSuccessors   []int32
	initLeftLaneIDs  []int32
	initRightLaneIDs []int32

	turn           mapv2.LaneTurn   // 转向类型
	permissions    []mapv2.LaneTurn // 进口车道允许的转向
	maxV           float64          // 限速
	parentJunction entity.IJunction // 所在路口
	parentRoad     entity.IRoad     // 所在道路
	parentID       int32
	offsetInRoad   int                          // 在道路中的索引，0为最左侧车道
	predecessors   []entity.ILane               // 前驱车道
	successors     []entity.ILane               // 后继车道
	sideLanes      [2][]entity.ILane            // 左/右侧车道（按距离从近到远排序）
	lineLengths    []float64                    // 中心线折线点对应的的长度列表
	length         float64                      // 以中心线的长度为车道长度
	width          float64                      // 车道宽度
	lineDirections []geometry.PolylineDirection // 中心线折线段每一段的方向（atan2）
	line           []geometry.Point             // 中心线折线

	vehicles *vehicleList
}

// newLane 根据输入数据创建车道
// 功能：拷贝静态属性并计算中心线的累计长度与各段方向，拓扑关系留到initWithManager中建立
func newLane(base *input.Lane) *Lane {
	if len(base.Line) < 2 {
		log.Panicf("lane %d: center line needs at least 2 points, got %d", base.ID, len(base.Line))
	}
	l := &Lane{
		id:               base.ID,
		initPredecessors: base.Predecessors,
		initSuccessors:   base.Successors,
		initLeftLaneIDs:  base.LeftLaneIDs,
		initRightLaneIDs: base.RightLaneIDs,
		turn:             base.Turn,
		permissions:      base.Permissions,
		maxV:             base.MaxSpeed,
		parentID:         base.ParentID,
		width:            base.Width,
		line:             slices.Clone(base.Line),
	}
	l.lineLengths = geometry.GetPolylineLengths2D(l.line)
	l.length = l.lineLengths[len(l.lineLengths)-1]
	l.lineDirections = geometry.GetPolylineDirections(l.line)
	l.vehicles = newVehicleList(fmt.Sprintf("lane %d vehicles", l.id))
	return l
}

// initWithManager 在管理器初始化后建立车道的连接关系
func (l *Lane) initWithManager(laneManager entity.ILaneManager) {
	get := func(id int32, _ int) entity.ILane { return laneManager.Get(id) }
	l.predecessors = lo.Map(l.initPredecessors, get)
	l.successors = lo.Map(l.initSuccessors, get)
	l.sideLanes[entity.LEFT] = lo.Map(l.initLeftLaneIDs, get)
	l.sideLanes[entity.RIGHT] = lo.Map(l.initRightLaneIDs, get)
	l.initPredecessors = nil
	l.initSuccessors = nil
	l.initLeftLaneIDs = nil
	l.initRightLaneIDs = nil
}

// prepare 维护本车道链表
func (l *Lane) prepare() {
	l.vehicles.prepare()
}

// 数据初始化

// SetParentRoadWhenInit 设置lane所在road与偏移量
func (l *Lane) SetParentRoadWhenInit(parent entity.IRoad, offset int) {
	l.parentRoad = parent
	l.offsetInRoad = offset
	l.parentJunction = nil
	l.parentID = parent.ID()
}

// SetParentJunctionWhenInit 设置lane所在junction
func (l *Lane) SetParentJunctionWhenInit(parent entity.IJunction) {
	l.parentJunction = parent
	l.parentRoad = nil
	l.parentID = parent.ID()
}

// 静态数据

func (l *Lane) String() string {
	return fmt.Sprintf("Lane %d", l.id)
}

// 获取Lane ID
func (l *Lane) ID() int32 {
	if l == nil {
		return -1
	}
	return l.id
}

// 获取Lane长度
func (l *Lane) Length() float64 {
	return l.length
}

// 获取Lane宽度
func (l *Lane) Width() float64 {
	return l.width
}

// 获取Lane转向类型
func (l *Lane) Turn() mapv2.LaneTurn {
	return l.turn
}

// AllowTurn 进口车道是否允许在路口处以turn转向
// 说明：没有转向限制的车道允许所有转向
func (l *Lane) AllowTurn(turn mapv2.LaneTurn) bool {
	return len(l.permissions) == 0 || slices.Contains(l.permissions, turn)
}

// 获取Lane的父对象(road/junction)的ID
func (l *Lane) ParentID() int32 {
	return l.parentID
}

// 获取Lane的中心线
func (l *Lane) Line() []geometry.Point {
	return l.line
}

// Road Lane在Road中的偏移量，最左侧为0，往右侧递增
func (l *Lane) OffsetInRoad() int {
	if l.parentRoad == nil {
		log.Panicf("Lane %d: Not in road", l.id)
	}
	return l.offsetInRoad
}

// 获取Lane的所有后继Lane
func (l *Lane) Successors() []entity.ILane {
	return l.successors
}

// 获取Lane的所有前驱Lane
func (l *Lane) Predecessors() []entity.ILane {
	return l.predecessors
}

// 获取Lane所在的Road
func (l *Lane) ParentRoad() entity.IRoad {
	return l.parentRoad
}

// 获取Lane所在的Junction
func (l *Lane) ParentJunction() entity.IJunction {
	return l.parentJunction
}

// 检查Lane是否为Junction Lane
func (l *Lane) InJunction() bool {
	return l.parentJunction != nil
}

// 根据side获取左(side=0)/右(side=1)侧的Lane
func (l *Lane) NeighborLane(side int) entity.ILane {
	if len(l.sideLanes[side]) == 0 {
		return nil
	}
	return l.sideLanes[side][0]
}

// 人车更新相关函数

// 获取车道限速
func (l *Lane) MaxV() float64 {
	return l.maxV
}

// 获取车道上的车辆
func (l *Lane) Vehicles() *entity.VehicleList {
	return l.vehicles.list
}

// 向Lane链表中添加车辆（Prepare后生效）
func (l *Lane) AddVehicle(node *entity.VehicleNode) {
	l.vehicles.add(node)
}

// 从Lane链表中移除车辆（Prepare后生效）
func (l *Lane) RemoveVehicle(node *entity.VehicleNode) {
	l.vehicles.remove(node)
}

// 对同一道路内的车道按比例"投影"
func (l *Lane) ProjectFromLane(other entity.ILane, otherS float64) float64 {
	if l.ParentRoad() != other.ParentRoad() {
		log.Panicf("project from %v to %v in different road", other, l)
		return 0
	}
	return lo.Clamp(otherS/other.Length()*l.length, 0, l.length)
}

// clampS 把越界的s截断到车道范围内
func (l *Lane) clampS(s float64, what string) float64 {
	lower, upper := l.lineLengths[0], l.lineLengths[len(l.lineLengths)-1]
	if s < lower || s > upper {
		log.Debugf("%v: get %s with s %v out of range{%v,%v}", l, what, s, lower, upper)
		s = lo.Clamp(s, lower, upper)
	}
	return s
}

// 根据本车道s坐标计算切向角度（弧度）
func (l *Lane) GetDirectionByS(s float64) float64 {
	s = l.clampS(s, "direction")
	if i := sort.SearchFloat64s(l.lineLengths, s); i == 0 {
		return l.lineDirections[0].Direction
	} else {
		return l.lineDirections[i-1].Direction
	}
}

// 将当前车道s坐标转换为xy(z)坐标
func (l *Lane) GetPositionByS(s float64) (pos geometry.Point) {
	s = l.clampS(s, "position")
	if i := sort.SearchFloat64s(l.lineLengths, s); i == 0 {
		pos = l.line[0]
	} else {
		sHigh, sLow := l.lineLengths[i], l.lineLengths[i-1]
		k := (s - sLow) / (sHigh - sLow)
		if k < 0 || k > 1 {
			log.Panicf("lane: GetPositionByS(), bad k %v. sHigh=%f, sLow=%f, s=%f", k, sHigh, sLow, s)
		}
		pos = geometry.Blend(l.line[i-1], l.line[i], k)
	}
	return
}

// GetOffsetPositionByS 中心线s处向右侧偏移offset（负数向左）的坐标
func (l *Lane) GetOffsetPositionByS(s, offset float64) geometry.Point {
	originalPos := l.GetPositionByS(s)
	direction := l.GetDirectionByS(s)
	unitNormal := geometry.Point{X: math.Cos(direction - math.Pi/2), Y: math.Sin(direction - math.Pi/2)}
	return geometry.Point{X: originalPos.X + unitNormal.X*offset, Y: originalPos.Y + unitNormal.Y*offset, Z: originalPos.Z}
}

// 将xyz坐标投影到车道折线上，计算出对应的s坐标
func (l *Lane) ProjectToLane(pos geometry.Point) float64 {
	s := geometry.GetClosestPolylineSToPoint2D(l.line, l.lineLengths, pos)
	return lo.Clamp(s, 0, l.length)
}
