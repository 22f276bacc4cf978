package container

import "container/heap"

type pqItem[T any] struct {
	value    T
	priority float64
}

// pqHeap 最小堆，priority越小越靠前
type pqHeap[T any] []pqItem[T]

func (h pqHeap[T]) Len() int           { return len(h) }
func (h pqHeap[T]) Less(i, j int) bool { return h[i].priority < h[j].priority }
func (h pqHeap[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *pqHeap[T]) Push(x any)        { *h = append(*h, x.(pqItem[T])) }
func (h *pqHeap[T]) Pop() any {
	old := *h
	n := len(old) - 1
	x := old[n]
	old[n] = pqItem[T]{}
	*h = old[:n]
	return x
}

// PriorityQueue 按时间排序的等待队列，用于车辆出发调度
// 说明：批量加入时先Push再调用一次Heapify，运行中加入使用HeapPush
type PriorityQueue[T any] struct {
	h pqHeap[T]
}

func NewPriorityQueue[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{}
}

func (q *PriorityQueue[T]) Len() int {
	return len(q.h)
}

// Push 追加元素但不维护堆，之后必须调用Heapify
func (q *PriorityQueue[T]) Push(value T, priority float64) {
	q.h = append(q.h, pqItem[T]{value: value, priority: priority})
}

func (q *PriorityQueue[T]) Heapify() {
	heap.Init(&q.h)
}

func (q *PriorityQueue[T]) HeapPush(value T, priority float64) {
	heap.Push(&q.h, pqItem[T]{value: value, priority: priority})
}

// PopDue 按priority升序弹出所有priority <= until的元素
func (q *PriorityQueue[T]) PopDue(until float64) (due []T) {
	for len(q.h) > 0 && q.h[0].priority <= until {
		due = append(due, heap.Pop(&q.h).(pqItem[T]).value)
	}
	return due
}
