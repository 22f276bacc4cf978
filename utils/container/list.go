package container

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "container")

// IHasVAndLength 车辆作为车道链表元素时需要暴露的信息，用于跟车与空档计算
type IHasVAndLength interface {
	V() float64      // 速度
	Length() float64 // 长度
}

// ListNode 车道链表节点
// 说明：S为车头在车道上的位置，位置更新后链表可能暂时逆序，由PopUnsorted与Merge恢复
type ListNode[T IHasVAndLength, E any] struct {
	parent     *List[T, E]
	prev, next *ListNode[T, E]
	S          float64 // 键值
	Value      T
	Extra      E // 附加信息
}

func (n *ListNode[T, E]) String() string {
	return fmt.Sprintf("Node{Key:%v, Value:%+v, Extra:%+v}", n.S, n.Value, n.Extra)
}

// Prev 后方节点，没有时为nil
func (n *ListNode[T, E]) Prev() *ListNode[T, E] {
	return n.prev
}

// Next 前方节点，没有时为nil
func (n *ListNode[T, E]) Next() *ListNode[T, E] {
	return n.next
}

// Parent 所在链表
func (n *ListNode[T, E]) Parent() *List[T, E] {
	return n.parent
}

// V 节点车辆的速度
func (n *ListNode[T, E]) V() float64 {
	return n.Value.V()
}

// List 按S升序排列的双向链表
type List[T IHasVAndLength, E any] struct {
	ID         string // 链表标识，用于日志
	head, tail *ListNode[T, E]
	length     int
}

func (l *List[T, E]) String() string {
	return fmt.Sprintf("List{ID:%v}", l.ID)
}

// Keys 所有节点的S
func (l *List[T, E]) Keys() []float64 {
	keys := make([]float64, 0, l.length)
	for node := l.head; node != nil; node = node.next {
		keys = append(keys, node.S)
	}
	return keys
}

func (l *List[T, E]) Len() int {
	return l.length
}

// First S最小的节点
func (l *List[T, E]) First() *ListNode[T, E] {
	return l.head
}

// Last S最大的节点
func (l *List[T, E]) Last() *ListNode[T, E] {
	return l.tail
}

func (l *List[T, E]) checkDetached(add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panicf("%v: insert node %v which is already in %v", l, add, add.parent)
	}
}

// insertBefore 在node之前插入add
func (l *List[T, E]) insertBefore(node, add *ListNode[T, E]) {
	l.checkDetached(add)
	add.parent = l
	add.next = node
	add.prev = node.prev
	node.prev = add
	if add.prev != nil {
		add.prev.next = add
	} else {
		l.head = add
	}
	l.length++
}

// PushBack 在尾部插入节点
func (l *List[T, E]) PushBack(add *ListNode[T, E]) {
	l.checkDetached(add)
	add.parent = l
	add.prev = l.tail
	add.next = nil
	if l.tail != nil {
		l.tail.next = add
	} else {
		l.head = add
	}
	l.tail = add
	l.length++
}

// Remove 移除节点，节点必须属于本链表
func (l *List[T, E]) Remove(node *ListNode[T, E]) {
	if node.parent != l {
		log.Panicf("%v: remove node %v from wrong list", l, node)
	}
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev = nil
	node.next = nil
	node.parent = nil
	l.length--
}

// PopUnsorted 移除逆序节点
// 功能：车辆位置更新后，移除S小于前驱节点的节点，剩余链表保持升序
// 返回：被移除的节点，与Merge配合重新插入
func (l *List[T, E]) PopUnsorted() (unsorted []*ListNode[T, E]) {
	for node := l.head; node != nil; {
		next := node.next
		if node.prev != nil && node.prev.S > node.S {
			l.Remove(node)
			unsorted = append(unsorted, node)
		}
		node = next
	}
	return unsorted
}

// Merge 将一批节点按S有序插入链表，要求链表本身已经有序
// 说明：S相同的节点保持adds中的先后顺序，并排在已有节点之前
func (l *List[T, E]) Merge(adds []*ListNode[T, E]) {
	slices.SortStableFunc(adds, func(a, b *ListNode[T, E]) int {
		return cmp.Compare(a.S, b.S)
	})
	node := l.head
	for _, add := range adds {
		for node != nil && node.S < add.S {
			node = node.next
		}
		if node != nil {
			l.insertBefore(node, add)
		} else {
			l.PushBack(add)
		}
	}
}

// Find 第一个满足S >= s的节点，不存在时为nil
func (l *List[T, E]) Find(s float64) *ListNode[T, E] {
	for node := l.head; node != nil; node = node.next {
		if node.S >= s {
			return node
		}
	}
	return nil
}

// FindBehind 最后一个满足S <= s的节点，不存在时为nil
func (l *List[T, E]) FindBehind(s float64) *ListNode[T, E] {
	for node := l.tail; node != nil; node = node.prev {
		if node.S <= s {
			return node
		}
	}
	return nil
}
