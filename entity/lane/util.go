package lane

import (
	"sync"

	"github.com/tsinghua-fib-lab/aim-sim-oss/entity"
)

// vehicleList 车道上按S排序的车辆链表
// 功能：update阶段各车辆并发登记进出本车道，prepare阶段统一生效，期间链表只读
type vehicleList struct {
	list *entity.VehicleList

	mtx     sync.Mutex
	adds    []*entity.VehicleNode
	removes []*entity.VehicleNode
}

func newVehicleList(id string) *vehicleList {
	return &vehicleList{list: &entity.VehicleList{ID: id}}
}

// prepare 应用本步登记的进出，并恢复因车辆前进导致的逆序
// 算法说明：
// 1. 先删除，再取出S小于前车的节点
// 2. 取出的节点与新进入的节点一起按S归并回链表
func (l *vehicleList) prepare() {
	for _, node := range l.removes {
		l.list.Remove(node)
	}
	l.list.Merge(append(l.adds, l.list.PopUnsorted()...))
	l.adds = l.adds[:0]
	l.removes = l.removes[:0]
}

// add 登记进入，节点不能已在某个车道上
func (l *vehicleList) add(node *entity.VehicleNode) {
	if node.Parent() != nil {
		log.Panicf("%v: add %v which is still on %v", l.list, node.Value, node.Parent())
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.adds = append(l.adds, node)
}

// remove 登记离开，节点必须在本车道上
func (l *vehicleList) remove(node *entity.VehicleNode) {
	if node.Parent() != l.list {
		log.Panicf("%v: remove %v which is on %v", l.list, node.Value, node.Parent())
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.removes = append(l.removes, node)
}
