package junction

import (
	"fmt"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/input"
)

// Junction管理器
type JunctionManager struct {
	ctx IContext

	data      map[int32]*Junction
	junctions []*Junction
}

// NewManager 创建Junction管理器实例
// 参数：ctx-任务上下文
func NewManager(ctx IContext) *JunctionManager {
	return &JunctionManager{
		ctx:       ctx,
		data:      make(map[int32]*Junction),
		junctions: make([]*Junction, 0),
	}
}

// Init 初始化所有Junction及其预约管理器
// 功能：根据输入数据初始化所有Junction对象，建立车道映射关系
// 参数：bases-Junction数据列表，laneManager-车道管理器，roadManager-道路管理器
func (m *JunctionManager) Init(bases []*input.Junction, laneManager entity.ILaneManager, roadManager entity.IRoadManager) {
	m.junctions = parallel.GoMap(bases, func(base *input.Junction) *Junction {
		return newJunction(m.ctx, base, laneManager, roadManager)
	})
	m.data = lo.SliceToMap(m.junctions, func(j *Junction) (int32, *Junction) {
		return j.id, j
	})
}

// Get 根据ID获取Junction实例，不存在则panic
func (m *JunctionManager) Get(id int32) entity.IJunction {
	if junction, ok := m.data[id]; !ok {
		log.Panicf("no id %d in junction data", id)
		return nil
	} else {
		return junction
	}
}

// GetOrError 根据ID获取Junction实例，不存在则返回错误
func (m *JunctionManager) GetOrError(id int32) (entity.IJunction, error) {
	if junction, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in junction data", id)
	} else {
		return junction, nil
	}
}

// Reservations 所有路口当前有效的预约总数
func (m *JunctionManager) Reservations() int {
	return lo.SumBy(m.junctions, func(j *Junction) int { return j.manager.Reservations() })
}

// Prepare 准备阶段，各路口管理器处理上一步收到的消息并回复
func (m *JunctionManager) Prepare() {
	parallel.GoFor(m.junctions, func(j *Junction) { j.prepare() })
}
