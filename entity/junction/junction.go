package junction

import (
	"cmp"
	"fmt"
	"slices"

	"git.fiblab.net/general/common/v2/geometry"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/input"
)

// junctionLane 路口初始化时需要回写所属关系并读取几何的车道
type junctionLane interface {
	entity.ILane
	SetParentJunctionWhenInit(parent entity.IJunction)
	Line() []geometry.Point
}

type pathKey struct {
	arrival, departure entity.ILane
}

type conflictKey struct {
	a, b int32
}

type Junction struct {
	id        int32
	arms      int                      // 方向数
	lanes     []entity.ILane           // 路口内车道
	paths     map[pathKey]entity.ILane // (进口车道, 出口车道)->路口内车道
	conflicts map[conflictKey]bool     // 存在冲突的路口内车道对，键中a<b
	manager   *IntersectionManager     // 预约管理器
}

// newJunction 创建路口
// 功能：设置路口内车道的所属关系，建立(进口车道, 出口车道)索引并预计算路口内车道之间的冲突
// 参数：ctx-任务上下文，base-路口数据，laneManager-车道管理器，roadManager-道路管理器
func newJunction(
	ctx IContext,
	base *input.Junction,
	laneManager entity.ILaneManager,
	roadManager entity.IRoadManager,
) *Junction {
	j := &Junction{
		id:        base.ID,
		lanes:     make([]entity.ILane, 0, len(base.LaneIDs)),
		paths:     make(map[pathKey]entity.ILane),
		conflicts: make(map[conflictKey]bool),
	}
	for _, roadID := range base.RoadIDs {
		if roadManager.Get(roadID).IsIncoming() {
			j.arms++
		}
	}

	lanes := make([]junctionLane, 0, len(base.LaneIDs))
	for _, laneID := range base.LaneIDs {
		lane, ok := laneManager.Get(laneID).(junctionLane)
		if !ok {
			log.Panicf("Junction %d: lane %d cannot be attached to a junction", j.id, laneID)
		}
		lane.SetParentJunctionWhenInit(j)
		if len(lane.Predecessors()) != 1 || len(lane.Successors()) != 1 {
			log.Panicf("Junction %d: %v must connect exactly one arrival and one departure lane", j.id, lane)
		}
		key := pathKey{arrival: lane.Predecessors()[0], departure: lane.Successors()[0]}
		if _, ok := j.paths[key]; ok {
			log.Panicf("Junction %d: duplicated path %v -> %v", j.id, key.arrival, key.departure)
		}
		j.paths[key] = lane
		j.lanes = append(j.lanes, lane)
		lanes = append(lanes, lane)
	}

	// 冲突：共用进口车道、共用出口车道或中心线相交
	for i, a := range lanes {
		for _, b := range lanes[i+1:] {
			if a.Predecessors()[0] == b.Predecessors()[0] ||
				a.Successors()[0] == b.Successors()[0] ||
				linesCross(a.Line(), b.Line()) {
				j.conflicts[newConflictKey(a, b)] = true
			}
		}
	}
	log.Debugf("Junction %d: %d paths, %d conflicting pairs", j.id, len(j.lanes), len(j.conflicts))

	j.manager = newIntersectionManager(ctx, j, ctx.RuntimeConfig().All.Intersection)
	return j
}

func newConflictKey(a, b entity.ILane) conflictKey {
	if a.ID() > b.ID() {
		a, b = b, a
	}
	return conflictKey{a: a.ID(), b: b.ID()}
}

// prepare 处理上一步收到的消息
func (j *Junction) prepare() {
	j.manager.prepare()
}

// ID 获取Junction的唯一标识符，Junction为nil时返回-1
func (j *Junction) ID() int32 {
	if j == nil {
		return -1
	}
	return j.id
}

func (j *Junction) String() string {
	return fmt.Sprintf("Junction %d", j.id)
}

// Lanes 获取Junction内的所有车道
func (j *Junction) Lanes() []entity.ILane {
	return j.lanes
}

// Path 连接进口车道arrival与出口车道departure的路口内车道，不存在时为nil
func (j *Junction) Path(arrival, departure entity.ILane) entity.ILane {
	return j.paths[pathKey{arrival: arrival, departure: departure}]
}

// Paths 从进口车道arrival驶向出口道departure的所有路口内车道
// 说明：按出口车道与进口车道在各自道路中序号的差从小到大排序，差相同时按出口车道序号
func (j *Junction) Paths(arrival entity.ILane, departure entity.IRoad) []entity.ILane {
	paths := lo.Filter(arrival.Successors(), func(path entity.ILane, _ int) bool {
		return path.ParentJunction() == entity.IJunction(j) && path.Successors()[0].ParentRoad() == departure
	})
	k := arrival.OffsetInRoad()
	slices.SortStableFunc(paths, func(a, b entity.ILane) int {
		oa, ob := a.Successors()[0].OffsetInRoad(), b.Successors()[0].OffsetInRoad()
		return cmp.Or(cmp.Compare(abs(oa-k), abs(ob-k)), cmp.Compare(oa, ob))
	})
	return paths
}

// Turn 从进口道arrival驶向出口道departure的转向
func (j *Junction) Turn(arrival, departure entity.IRoad) mapv2.LaneTurn {
	return input.ArmTurn(j.arms, arrival.Arm(), departure.Arm())
}

// Conflict 两条路口内车道是否冲突，同一条车道与自身冲突
func (j *Junction) Conflict(a, b entity.ILane) bool {
	if a == b {
		return true
	}
	return j.conflicts[newConflictKey(a, b)]
}

// Manager 路口预约管理器
func (j *Junction) Manager() entity.IIntersectionManager {
	return j.manager
}

// linesCross 两条折线（二维）是否在端点以外的位置相交
func linesCross(a, b []geometry.Point) bool {
	for i := 0; i+1 < len(a); i++ {
		for k := 0; k+1 < len(b); k++ {
			if segmentsCross(a[i], a[i+1], b[k], b[k+1]) {
				return true
			}
		}
	}
	return false
}

// segmentsCross 线段pq与rs是否严格相交
func segmentsCross(p, q, r, s geometry.Point) bool {
	const eps = 1e-9
	cross := func(o, a, b geometry.Point) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}
	d1, d2 := cross(r, s, p), cross(r, s, q)
	d3, d4 := cross(p, q, r), cross(p, q, s)
	return ((d1 > eps && d2 < -eps) || (d1 < -eps && d2 > eps)) &&
		((d3 > eps && d4 < -eps) || (d3 < -eps && d4 > eps))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
