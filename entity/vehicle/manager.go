package vehicle

import (
	"fmt"
	"sync"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
	"github.com/tsinghua-fib-lab/aim-sim-oss/protocol"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/container"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/input"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/output"
)

// GlobalRuntime 全局统计数据
type GlobalRuntime struct {
	Departed   int32   // 已出发的车辆数
	Arrived    int32   // 已到达终点的车辆数
	Violations int32   // 因协议错误被移除的车辆数
	TravelTime float64 // 到达终点车辆的总行驶时间
}

// VehicleManager Vehicle管理器
// 功能：按出发时刻放出车辆，并行执行每步的准备与更新，投递路口管理器的回复，统计完成的行程
type VehicleManager struct {
	ctx       entity.ITaskContext
	navigator entity.INavigator

	data map[int32]*Vehicle // 正在行驶的车辆

	vehicles *container.IncrementalArray[*Vehicle]
	pending  *container.PriorityQueue[*Vehicle] // 尚未出发的车辆，按出发时刻排序

	removed      []*Vehicle // 本步结束行程的车辆
	removedMutex sync.Mutex

	snapshot, runtime GlobalRuntime
	runtimeMtx        sync.Mutex
}

// NewManager 创建Vehicle管理器实例
// 参数：ctx-任务上下文
func NewManager(ctx entity.ITaskContext) *VehicleManager {
	return &VehicleManager{
		ctx:       ctx,
		navigator: Navigator{},
		data:      make(map[int32]*Vehicle),
		vehicles:  container.NewIncrementalArray[*Vehicle](),
		pending:   container.NewPriorityQueue[*Vehicle](),
	}
}

// Init 初始化所有车辆
// 功能：创建所有车辆并按出发时刻加入等待队列
// 参数：bases-车辆出发数据
func (m *VehicleManager) Init(bases []input.Vehicle) {
	vehicles := parallel.GoMap(bases, func(base input.Vehicle) *Vehicle {
		return newVehicle(m.ctx, m, base)
	})
	if dup := lo.FindDuplicatesBy(vehicles, func(v *Vehicle) int32 { return v.id }); len(dup) > 0 {
		log.Panicf("duplicate vehicle id %d", dup[0].id)
	}
	for _, v := range vehicles {
		m.pending.Push(v, v.departureTime)
	}
	m.pending.Heapify()
}

// Get 根据ID获取正在行驶的车辆，不存在则panic
func (m *VehicleManager) Get(id int32) entity.IVehicle {
	if v, ok := m.data[id]; !ok {
		log.Panicf("no id %d in vehicle data", id)
		return nil
	} else {
		return v
	}
}

// GetOrError 根据ID获取正在行驶的车辆，不存在则返回错误
func (m *VehicleManager) GetOrError(id int32) (entity.IVehicle, error) {
	if v, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in vehicle data", id)
	} else {
		return v, nil
	}
}

// Vehicles 正在行驶的车辆
func (m *VehicleManager) Vehicles() []*Vehicle {
	return m.vehicles.Data()
}

// Stats 截至上一个prepare阶段的统计数据
func (m *VehicleManager) Stats() GlobalRuntime {
	return m.snapshot
}

// Deliver 投递路口管理器的回复
// 说明：目标车辆已结束行程时丢弃
func (m *VehicleManager) Deliver(vehicleID int32, msg protocol.Message) {
	v, ok := m.data[vehicleID]
	if !ok || v.ended {
		log.Debugf("drop %v to inactive vehicle %d", msg.Kind(), vehicleID)
		return
	}
	v.deliver(msg)
}

// Finished 所有车辆是否都已结束行程
func (m *VehicleManager) Finished() bool {
	return m.pending.Len() == 0 && lo.EveryBy(m.vehicles.Data(), func(v *Vehicle) bool { return v.ended })
}

// spawnBlocked 出发位置前后最小车距范围内是否已有车辆
func spawnBlocked(v *Vehicle) bool {
	s, gap := v.runtime.S, v.attr.MinGap
	for node := v.runtime.Lane.Vehicles().First(); node != nil; node = node.Next() {
		if node.S-node.Value.Length() < s+gap && s-v.spec.Length < node.S+gap {
			return true
		}
	}
	return false
}

// PrepareNode 准备阶段：车辆增删与链表节点更新
// 算法说明：
// 1. 移除上一步结束行程的车辆
// 2. 放出出发时刻已到的车辆，出发位置被占用的车辆推迟到下一步
// 3. 应用增量数组的变更并更新链表节点的键值
func (m *VehicleManager) PrepareNode() {
	for _, v := range m.removed {
		delete(m.data, v.id)
		m.vehicles.Remove(v)
	}
	m.removed = nil

	now := m.ctx.Clock().T
	var blocked []*Vehicle
	spawned := make(map[entity.ILane]bool) // 本步已有车辆出发的车道，其链表尚未更新
	for _, v := range m.pending.PopDue(now) {
		if spawned[v.runtime.Lane] || spawnBlocked(v) {
			blocked = append(blocked, v)
			continue
		}
		spawned[v.runtime.Lane] = true
		m.data[v.id] = v
		m.vehicles.Add(v)
		v.depart()
		m.runtimeMtx.Lock()
		m.runtime.Departed++
		m.runtimeMtx.Unlock()
		m.ctx.Recorder().Record(output.Event{
			T:       now,
			Vehicle: v.id,
			Kind:    output.KindDepart,
			Detail:  fmt.Sprintf("lane=%d to=%d", v.runtime.Lane.ID(), v.destination.ID()),
		})
	}
	for _, v := range blocked {
		log.Debugf("%v: departure lane %v is occupied, retry next step", v, v.runtime.Lane)
		m.pending.HeapPush(v, v.departureTime)
	}

	// 共用index，不并行处理
	m.vehicles.Prepare()

	parallel.GoFor(m.vehicles.Data(), func(v *Vehicle) { v.prepareNode() })
}

// Prepare 准备阶段：snapshot更新
func (m *VehicleManager) Prepare() {
	parallel.GoFor(m.vehicles.Data(), func(v *Vehicle) { v.prepare() })
	m.runtimeMtx.Lock()
	m.snapshot = m.runtime
	m.runtimeMtx.Unlock()
}

// Update 更新阶段
func (m *VehicleManager) Update(dt float64) {
	parallel.GoFor(m.vehicles.Data(), func(v *Vehicle) {
		if !v.ended {
			v.update(dt)
		}
	})
}

// remove 登记结束行程的车辆，下一个prepare阶段移除
func (m *VehicleManager) remove(v *Vehicle) {
	m.removedMutex.Lock()
	defer m.removedMutex.Unlock()
	m.removed = append(m.removed, v)
}

// recordArrival 记录到达终点
func (m *VehicleManager) recordArrival(v *Vehicle) {
	now := m.ctx.Clock().T
	m.runtimeMtx.Lock()
	m.runtime.Arrived++
	m.runtime.TravelTime += now - v.departureTime
	m.runtimeMtx.Unlock()
	m.ctx.Recorder().Record(output.Event{
		T:       now,
		Vehicle: v.id,
		Kind:    output.KindArrive,
		Detail:  fmt.Sprintf("travel=%.2f", now-v.departureTime),
	})
}

// recordViolation 记录协议错误
func (m *VehicleManager) recordViolation(v *Vehicle, err error) {
	m.runtimeMtx.Lock()
	m.runtime.Violations++
	m.runtimeMtx.Unlock()
	var intersectionID int32
	if j := v.Intersection(); j != nil {
		intersectionID = j.ID()
	}
	m.ctx.Recorder().Record(output.Event{
		T:              m.ctx.Clock().T,
		Vehicle:        v.id,
		IntersectionID: intersectionID,
		Kind:           output.KindViolation,
		ReservationID:  v.reservationID(),
		Detail:         err.Error(),
	})
}
