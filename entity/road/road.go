package road

import (
	"fmt"

	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/input"
)

// roadLane 道路初始化时需要回写所属关系的车道
type roadLane interface {
	entity.ILane
	SetParentRoadWhenInit(parent entity.IRoad, offset int)
}

// Road 道路实体
// 功能：表示路口某个方向上的进口道或出口道
type Road struct {
	id         int32
	arm        int
	incoming   bool
	lanes      []entity.ILane // 按从左到右排序
	junctionID int32
	junction   entity.IJunction
}

// newRoad 创建道路并设置车道的所属关系
func newRoad(base *input.Road, laneManager entity.ILaneManager) *Road {
	r := &Road{
		id:         base.ID,
		arm:        base.Arm,
		incoming:   base.Incoming,
		junctionID: base.JunctionID,
		lanes:      make([]entity.ILane, 0, len(base.LaneIDs)),
	}
	for i, laneID := range base.LaneIDs {
		lane, ok := laneManager.Get(laneID).(roadLane)
		if !ok {
			log.Panicf("Road %d: lane %d cannot be attached to a road", r.id, laneID)
		}
		lane.SetParentRoadWhenInit(r, i)
		r.lanes = append(r.lanes, lane)
	}
	return r
}

// initAfterJunction 在Junction初始化后设置Road的路口
// 说明：检查进口道车道的后继与出口道车道的前驱都属于该路口
func (r *Road) initAfterJunction(junctionManager entity.IJunctionManager) {
	r.junction = junctionManager.Get(r.junctionID)
	for _, lane := range r.lanes {
		conns := lane.Predecessors()
		if r.incoming {
			conns = lane.Successors()
		}
		for _, conn := range conns {
			if junc := conn.ParentJunction(); junc != r.junction {
				log.Panicf("Road %d: %v connects to %v outside junction %v", r.id, lane, conn, r.junction)
			}
		}
	}
}

// ID 获取Road的唯一标识符，Road为nil时返回-1
func (r *Road) ID() int32 {
	if r == nil {
		return -1
	}
	return r.id
}

func (r *Road) String() string {
	if r.incoming {
		return fmt.Sprintf("Road %d (arm %d in)", r.id, r.arm)
	}
	return fmt.Sprintf("Road %d (arm %d out)", r.id, r.arm)
}

// Arm 所在方向序号
func (r *Road) Arm() int {
	return r.arm
}

// IsIncoming 是否为驶向路口的进口道
func (r *Road) IsIncoming() bool {
	return r.incoming
}

// Lanes 获取Road的所有车道，按从左到右排序
func (r *Road) Lanes() []entity.ILane {
	return r.lanes
}

// Junction 进口道驶向、出口道驶离的路口
func (r *Road) Junction() entity.IJunction {
	return r.junction
}
