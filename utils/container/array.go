package container

import (
	"cmp"
	"slices"
	"sync"
)

// IIncrementalItem 能记录自身在IncrementalArray中下标的元素
type IIncrementalItem interface {
	Index() int
	SetIndex(index int)
}

// IncrementalItemBase 嵌入后即实现IIncrementalItem
type IncrementalItemBase struct {
	index int
}

func (b *IncrementalItemBase) Index() int {
	return b.index
}

func (b *IncrementalItemBase) SetIndex(index int) {
	b.index = index
}

// IncrementalArray 延迟增删的数组
// 功能：更新阶段可以并发调用Add与Remove，变更在下一次Prepare时统一生效
// 说明：元素顺序不稳定，删除时用末尾元素填补空位
type IncrementalArray[T IIncrementalItem] struct {
	data []T

	mtx    sync.Mutex
	add    []T
	remove []T
}

func NewIncrementalArray[T IIncrementalItem]() *IncrementalArray[T] {
	return &IncrementalArray[T]{}
}

func (a *IncrementalArray[T]) Len() int {
	return len(a.data)
}

// Data 当前生效的元素，调用方不得修改返回的切片
func (a *IncrementalArray[T]) Data() []T {
	return a.data
}

// Add 登记待加入的元素
func (a *IncrementalArray[T]) Add(value T) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.add = append(a.add, value)
}

// Remove 登记待删除的元素
func (a *IncrementalArray[T]) Remove(value T) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.remove = append(a.remove, value)
}

// Prepare 应用所有登记的增删
// 算法说明：
// 1. 删除：按下标从大到小处理，用末尾元素填补被删除的位置，保证填补来的元素不会再被删除
// 2. 添加：追加到末尾
// 说明：同一元素在一次Prepare中被重复删除只生效一次
func (a *IncrementalArray[T]) Prepare() {
	indices := make([]int, len(a.remove))
	for i, x := range a.remove {
		indices[i] = x.Index()
	}
	slices.SortFunc(indices, func(x, y int) int { return cmp.Compare(y, x) })
	for _, ind := range slices.Compact(indices) {
		if ind < 0 || ind >= len(a.data) {
			log.Panicf("IncrementalArray: remove item with bad index %d (len=%d)", ind, len(a.data))
		}
		removed := a.data[ind]
		last := len(a.data) - 1
		a.data[ind] = a.data[last]
		a.data[ind].SetIndex(ind)
		a.data = a.data[:last]
		removed.SetIndex(-1)
	}
	for _, x := range a.add {
		x.SetIndex(len(a.data))
		a.data = append(a.data, x)
	}
	a.add = a.add[:0]
	a.remove = a.remove[:0]
}
