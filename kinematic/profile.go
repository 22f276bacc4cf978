package kinematic

import (
	"fmt"
	"math"
	"strings"
)

// Breakpoint 加速度计划中的断点
// 功能：表示"从T时刻开始施加加速度A，直到下一个断点"
type Breakpoint struct {
	T float64 // 起始时刻（秒）
	A float64 // 加速度（米/秒²）
}

// DurationAccel 以持续时间表示的加速度段，用于消息中传递加速度计划
type DurationAccel struct {
	Duration float64 // 持续时间（秒）
	A        float64 // 加速度（米/秒²）
}

// AccelProfile 分段常加速度计划
// 功能：车辆运动计划的唯一表示，在可行性求解器与协商协议之间传递
// 说明：
// 1. 断点按时间严格递增，至少包含一个断点
// 2. 最后一个断点的加速度从不被使用，仅用于标记计划的结束时刻
// 3. 第一个断点之前与最后一个断点之后均视为加速度为0
type AccelProfile struct {
	points []Breakpoint
}

// NewAccelProfile 由断点列表创建加速度计划
func NewAccelProfile(points ...Breakpoint) *AccelProfile {
	p := &AccelProfile{points: make([]Breakpoint, 0, len(points))}
	for _, bp := range points {
		p.Push(bp.T, bp.A)
	}
	return p
}

// FromDurations 将(持续时间,加速度)序列转换为从t0开始的加速度计划
// 功能：用于把Confirm消息中的加速度计划安装到车辆上
// 参数：t0-起始时刻，segments-加速度段
// 返回：加速度计划，末尾追加加速度为0的终止断点
func FromDurations(t0 float64, segments []DurationAccel) *AccelProfile {
	p := &AccelProfile{points: make([]Breakpoint, 0, len(segments)+1)}
	t := t0
	for _, seg := range segments {
		if seg.Duration <= 0 {
			continue
		}
		p.Push(t, seg.A)
		t += seg.Duration
	}
	p.Push(t, 0)
	return p
}

// StopProfile 以最大制动加速度立即减速到停车的加速度计划
// 参数：t-当前时刻，v-当前速度，dMax-最大制动加速度（负数）
func StopProfile(t, v, dMax float64) *AccelProfile {
	if Strict.Zero(v) {
		return NewAccelProfile(Breakpoint{T: t})
	}
	return NewAccelProfile(
		Breakpoint{T: t, A: dMax},
		Breakpoint{T: t + StopTime(v, dMax)},
	)
}

// Push 追加断点，调用方保证时间严格递增
func (p *AccelProfile) Push(t, a float64) {
	if n := len(p.points); n > 0 && t <= p.points[n-1].T {
		log.Panicf("AccelProfile.Push: time %v is not after last breakpoint %v", t, p.points[n-1].T)
	}
	p.points = append(p.points, Breakpoint{T: t, A: a})
}

// Len 断点数量
func (p *AccelProfile) Len() int {
	return len(p.points)
}

// Breakpoints 断点列表的副本
func (p *AccelProfile) Breakpoints() []Breakpoint {
	return append([]Breakpoint(nil), p.points...)
}

// StartTime 第一个断点的时刻
func (p *AccelProfile) StartTime() float64 {
	return p.points[0].T
}

// EndTime 最后一个断点（终止标记）的时刻
func (p *AccelProfile) EndTime() float64 {
	return p.points[len(p.points)-1].T
}

// AccelAt 获取t时刻生效的加速度
func (p *AccelProfile) AccelAt(t float64) float64 {
	for i := len(p.points) - 2; i >= 0; i-- {
		if t >= p.points[i].T {
			if t < p.points[i+1].T {
				return p.points[i].A
			}
			return 0
		}
	}
	return 0
}

// FinalVelocity 从初速度v0开始执行完整个计划后的速度
// 说明：最后一个断点的加速度不参与积分
func (p *AccelProfile) FinalVelocity(v0 float64) float64 {
	v := v0
	for i := 0; i+1 < len(p.points); i++ {
		v += p.points[i].A * (p.points[i+1].T - p.points[i].T)
	}
	return v
}

// RespectsCeiling 检查计划执行过程中速度是否始终不超过vTop
// 功能：在每个断点处检查速度（分段线性的速度在断点处取得极值）
// 返回：v0或任一断点处的速度超过vTop（考虑误差）时返回false
func (p *AccelProfile) RespectsCeiling(v0, vTop float64) bool {
	if Strict.Greater(v0, vTop) {
		return false
	}
	v := v0
	for i := 0; i+1 < len(p.points); i++ {
		v += p.points[i].A * (p.points[i+1].T - p.points[i].T)
		if Strict.Greater(v, vTop) {
			return false
		}
	}
	return true
}

// forEachSegment 按时间顺序遍历[t1, +∞)上的常加速度区间
// 说明：fn返回false时停止遍历；最后一个区间的右端点为+∞，加速度为0
func (p *AccelProfile) forEachSegment(t1 float64, fn func(begin, end, a float64) bool) {
	begin := t1
	for i, bp := range p.points {
		prevA := 0.
		if i > 0 {
			prevA = p.points[i-1].A
		}
		if bp.T > begin {
			if !fn(begin, bp.T, prevA) {
				return
			}
			begin = bp.T
		}
	}
	fn(begin, math.Inf(1), 0)
}

// stopWithin 速度v以加速度a持续dt时间是否会在段内减到0以下
// 返回：减到0的时刻（相对段起点）与是否停车；恰好减到0（考虑误差）不算停车
func stopWithin(v, a, dt float64) (float64, bool) {
	if a >= 0 || !Strict.Less(v+a*dt, 0) {
		return 0, false
	}
	return math.Max(-v/a, 0), true
}

// Advance 从(t1, v1)出发执行计划到tEnd时刻
// 返回：行驶距离与tEnd时刻的速度
// 说明：车辆不会倒车，减速段内速度降到0后停止积分，此后保持静止
func (p *AccelProfile) Advance(t1, v1, tEnd float64) (distance, v float64) {
	if tEnd < t1 {
		log.Panicf("AccelProfile.Advance: tEnd %v before t1 %v", tEnd, t1)
	}
	v = v1
	p.forEachSegment(t1, func(begin, end, a float64) bool {
		if begin >= tEnd {
			return false
		}
		dt := math.Min(end, tEnd) - begin
		if stop, stops := stopWithin(v, a, dt); stops {
			distance += v * stop / 2
			v = 0
			return false
		}
		distance += v*dt + a*dt*dt/2
		v += a * dt
		return true
	})
	return
}

// DistanceOver 从(t1, v1)出发执行计划到t2时刻的行驶距离
func (p *AccelProfile) DistanceOver(t1, v1, t2 float64) float64 {
	d, _ := p.Advance(t1, v1, t2)
	return d
}

// AdvanceByDistance 从(t1, v1)出发执行计划，求累计行驶距离首次达到dTotal的时刻与速度
// 返回：t-时刻，v-速度，ok-能否达到
// 算法说明：
// 1. 逐段积分，若本段终点前累计距离会达到dTotal，则在段内求解
// 2. 段内加速度为0：t = 剩余距离 / v，速度为0时永远无法到达
// 3. 段内加速度非0：vEnd = sqrt(2*a*剩余距离 + v²)，根号内为负说明车辆在到达前已停下（将倒车）
// 4. 任一减速段内速度降到0时车辆停止，此前未达到dTotal则无法到达
func (p *AccelProfile) AdvanceByDistance(t1, v1, dTotal float64) (t, v float64, ok bool) {
	if dTotal <= 0 {
		return t1, v1, true
	}
	remain := dTotal
	v = v1
	p.forEachSegment(t1, func(begin, end, a float64) bool {
		dt := end - begin
		stop, stops := stopWithin(v, a, dt)
		segD := math.Inf(1)
		switch {
		case stops:
			segD = v * stop / 2
		case !math.IsInf(end, 1):
			segD = v*dt + a*dt*dt/2
		}
		if segD < remain {
			if stops {
				return false
			}
			remain -= segD
			v += a * dt
			return true
		}
		// 在本段内到达
		if Strict.Zero(a) {
			if Strict.Zero(v) || v < 0 {
				return false
			}
			t, ok = begin+remain/v, true
			return false
		}
		radicand := 2*a*remain + v*v
		if radicand < 0 {
			return false
		}
		vEnd := math.Sqrt(radicand)
		t, v, ok = begin+(vEnd-v)/a, vEnd, true
		return false
	})
	return
}

// Consume 丢弃在t时刻之前已经完全执行完毕的断点
// 功能：供车辆运动积分器随仿真时间推进逐段消耗计划
// 说明：始终保留最后一个断点
func (p *AccelProfile) Consume(t float64) {
	i := 0
	for i+1 < len(p.points) && p.points[i+1].T <= t {
		i++
	}
	p.points = p.points[i:]
}

// Extend 在计划末尾接上另一个计划
// 功能：next的起始时刻与本计划的终止断点重合时，用next的第一个断点替换终止断点
// 说明：next的起始时刻不得早于本计划的结束时刻
func (p *AccelProfile) Extend(next *AccelProfile) {
	points := next.points
	if len(points) == 0 {
		return
	}
	if last := len(p.points) - 1; last >= 0 && Strict.Equal(p.points[last].T, points[0].T) {
		p.points = p.points[:last]
	}
	for _, bp := range points {
		p.Push(bp.T, bp.A)
	}
}

// Shift 将所有断点平移dt
func (p *AccelProfile) Shift(dt float64) {
	for i := range p.points {
		p.points[i].T += dt
	}
}

// Finished 判断t时刻计划是否已执行完毕
func (p *AccelProfile) Finished(t float64) bool {
	return t >= p.EndTime()
}

func (p *AccelProfile) String() string {
	parts := make([]string, len(p.points))
	for i, bp := range p.points {
		parts[i] = fmt.Sprintf("(%.3f, %.3f)", bp.T, bp.A)
	}
	return "AccelProfile[" + strings.Join(parts, " ") + "]"
}
