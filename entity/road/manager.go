package road

import (
	"fmt"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/input"
)

type armKey struct {
	arm      int
	incoming bool
}

// RoadManager Road管理器
// 功能：管理所有Road实体，提供创建、查找、初始化等功能
type RoadManager struct {
	data  map[int32]*Road
	arms  map[armKey]*Road
	roads []*Road
}

// NewManager 创建Road管理器实例
func NewManager() *RoadManager {
	return &RoadManager{
		data:  make(map[int32]*Road),
		arms:  make(map[armKey]*Road),
		roads: make([]*Road, 0),
	}
}

// Init 初始化所有Road
// 功能：根据输入数据初始化所有Road对象，建立ID与方向的映射关系
func (m *RoadManager) Init(bases []*input.Road, laneManager entity.ILaneManager) {
	m.roads = parallel.GoMap(bases, func(base *input.Road) *Road {
		return newRoad(base, laneManager)
	})
	m.data = lo.SliceToMap(m.roads, func(r *Road) (int32, *Road) {
		return r.id, r
	})
	m.arms = lo.SliceToMap(m.roads, func(r *Road) (armKey, *Road) {
		return armKey{arm: r.arm, incoming: r.incoming}, r
	})
}

// InitAfterJunction 在所有Junction初始化完成后设置Road的路口
func (m *RoadManager) InitAfterJunction(junctionManager entity.IJunctionManager) {
	parallel.GoFor(m.roads, func(r *Road) { r.initAfterJunction(junctionManager) })
}

// Get 根据ID获取Road实例，不存在则panic
func (m *RoadManager) Get(id int32) entity.IRoad {
	if road, ok := m.data[id]; !ok {
		log.Panicf("no id %d in road data", id)
		return nil
	} else {
		return road
	}
}

// GetOrError 根据ID获取Road实例，不存在则返回错误
func (m *RoadManager) GetOrError(id int32) (entity.IRoad, error) {
	if road, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in road data", id)
	} else {
		return road, nil
	}
}

// GetByArm 第arm个方向的进口道或出口道，不存在则panic
func (m *RoadManager) GetByArm(arm int, incoming bool) entity.IRoad {
	if road, ok := m.arms[armKey{arm: arm, incoming: incoming}]; !ok {
		log.Panicf("no road at arm %d (incoming=%v)", arm, incoming)
		return nil
	} else {
		return road
	}
}
