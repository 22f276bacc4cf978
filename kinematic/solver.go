package kinematic

import (
	"errors"
	"fmt"
	"math"
)

// 不可行原因（可恢复的预期结果，调用方总有兜底策略）
var (
	ErrNoTimeToMove           = errors.New("no time to move")
	ErrNoTimeToChangeVelocity = errors.New("no time to change velocity")
	ErrDistanceTooSmall       = errors.New("distance too small")
	ErrDistanceTooLarge       = errors.New("distance too large")
	ErrCannotAccelerate       = errors.New("cannot accelerate to the final velocity in the available time")
	ErrCannotDecelerate       = errors.New("cannot decelerate to the final velocity in the available time")
)

// InfeasibleError 可行性求解失败
// 功能：携带具体的不可行原因（哨兵错误）、几何情形编号与数值细节
type InfeasibleError struct {
	Reason error  // 不可行原因，ErrXXX之一
	Case   int    // 几何情形编号（0表示t1==t2的退化情形）
	Detail string // 数值细节
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("infeasible (case %d): %v: %s", e.Case, e.Reason, e.Detail)
}

func (e *InfeasibleError) Unwrap() error {
	return e.Reason
}

// IsInfeasible 判断err是否为可行性求解失败
func IsInfeasible(err error) bool {
	var ie *InfeasibleError
	return errors.As(err, &ie)
}

func infeasible(c int, reason error, format string, args ...any) error {
	return &InfeasibleError{Reason: reason, Case: c, Detail: fmt.Sprintf(format, args...)}
}

// Solve 运动学可行性求解器
// 功能：给定起点(t1, v1)、终点(t2, v2)、行驶距离dTotal、限速vTop与加减速度上限aMax(>0)/dMax(<0)，
// 构造恰好满足该边界条件的分段常加速度计划，或证明其不存在
// 参数：要求 t1<=t2，0<=v1<=vTop，0<=v2<=vTop，0<=dTotal，aMax>0，dMax<0
// 返回：加速度计划，或*InfeasibleError
// 算法说明：
// 1. t1==t2：仅当dTotal==0且v1==v2时可行
// 2. 计算速度-时间平面上起终点之间的两条极端轨迹：先减后加的下包络(pDown)与先加后减的上包络(pUp)
// 3. 按包络交点相对起点的位置分类：
//   - 情形1：pDown与起点重合，只能全程以最大加速度线性加速，面积必须等于dTotal
//   - 情形2：pUp与起点重合，只能全程以最大减速度线性减速
//   - 情形3/4/5（v1==v2、v1<v2、v1>v2）：将两条包络之间的区域（截取到[0, vTop]）按速度分层为2~3个梯形，
//     在梯形中寻找面积恰为剩余距离的水平切线
//   - 情形6/7：交点在起点之前，无法在给定时间内加速/减速到终点速度
//
// 4. 将水平切线转换为至多4个断点的加速度计划：加(减)速段、匀速段、加(减)速段、终止断点
func Solve(t1, v1, t2, v2, dTotal, vTop, aMax, dMax float64) (*AccelProfile, error) {
	checkSolveInput(t1, v1, t2, v2, dTotal, vTop, aMax, dMax)

	// 1. 零时长
	if Strict.Equal(t1, t2) {
		if !Strict.Zero(dTotal) {
			return nil, infeasible(0, ErrNoTimeToMove, "t1=t2=%v, distance=%v", t1, dTotal)
		}
		if !Strict.Equal(v1, v2) {
			return nil, infeasible(0, ErrNoTimeToChangeVelocity, "t1=t2=%v, v1=%v, v2=%v", t1, v1, v2)
		}
		return NewAccelProfile(Breakpoint{T: t1}), nil
	}

	// 2. 包络交点
	// 上包络：(t1,v1)以aMax加速 与 以dMax减速到达(t2,v2) 的交点
	tUp := (v2 - v1 + aMax*t1 - dMax*t2) / (aMax - dMax)
	vUp := v1 + aMax*(tUp-t1)
	// 下包络：(t1,v1)以dMax减速 与 以aMax加速到达(t2,v2) 的交点
	tDown := (v2 - v1 - aMax*t2 + dMax*t1) / (dMax - aMax)
	vDown := v1 + dMax*(tDown-t1)

	// 3. 分类
	switch {
	case Strict.Less(tDown, t1):
		// 情形6
		return nil, infeasible(6, ErrCannotAccelerate,
			"need %.4fs to accelerate from %v to %v, only %.4fs available", (v2-v1)/aMax, v1, v2, t2-t1)
	case Strict.Less(tUp, t1):
		// 情形7
		return nil, infeasible(7, ErrCannotDecelerate,
			"need %.4fs to decelerate from %v to %v, only %.4fs available", (v2-v1)/dMax, v1, v2, t2-t1)
	case Strict.Equal(tDown, t1):
		return solveLinear(1, t1, v1, t2, v2, dTotal)
	case Strict.Equal(tUp, t1):
		return solveLinear(2, t1, v1, t2, v2, dTotal)
	}

	c := 3
	if Strict.Less(v1, v2) {
		c = 4
	} else if Strict.Greater(v1, v2) {
		c = 5
	}

	// 包络区域的左右边界，按速度给出时刻
	left := func(v float64) float64 {
		if v >= v1 {
			return t1 + (v-v1)/aMax
		}
		return t1 + (v-v1)/dMax
	}
	right := func(v float64) float64 {
		if v >= v2 {
			return t2 + (v-v2)/dMax
		}
		return t2 - (v2-v)/aMax
	}

	// 下包络（截取到速度0）下方的面积，即可达的最小距离
	var base float64
	if vDown >= 0 {
		base = (v1+vDown)/2*(tDown-t1) + (vDown+v2)/2*(t2-tDown)
	} else {
		base = v1*v1/2/(-dMax) + v2*v2/2/aMax
	}
	vLow := math.Max(vDown, 0)
	vHigh := math.Min(vUp, vTop)

	// 按速度分层：[vLow, min(v1,v2)] [min(v1,v2), max(v1,v2)] [max(v1,v2), vHigh]
	levels := []float64{vLow, math.Min(v1, v2), math.Max(v1, v2), vHigh}
	trapezoids := make([]trapezoidSpec, 0, 3)
	for i := 0; i+1 < len(levels); i++ {
		lo, hi := levels[i], levels[i+1]
		if hi-lo <= StrictEps {
			continue
		}
		trapezoids = append(trapezoids, newTrapezoidSpec(
			left(lo), lo, hi-lo,
			right(lo)-left(lo), right(hi)-left(hi),
			left(hi)-left(lo),
		))
	}

	remain := dTotal - base
	if Weak.Less(remain, 0) {
		return nil, infeasible(c, ErrDistanceTooSmall, "distance %v < minimum %v", dTotal, base)
	}
	remain = math.Max(remain, 0)
	total := 0.
	for _, tz := range trapezoids {
		total += tz.area
	}
	if Weak.Greater(remain, total) {
		return nil, infeasible(c, ErrDistanceTooLarge, "distance %v > maximum %v", dTotal, base+total)
	}

	// 4. 寻找切线
	line := cutLine{v: vLow, tA: left(vLow), tB: right(vLow)}
	for i, tz := range trapezoids {
		if remain <= tz.area || i == len(trapezoids)-1 {
			line = tz.cut(remain)
			break
		}
		remain -= tz.area
	}
	log.Tracef("Solve: case %d, trapezoids %v, cut %+v", c, trapezoids, line)

	// 5. 转换为加速度计划
	return profileFromCut(t1, v1, t2, v2, line), nil
}

// solveLinear 情形1/2：全程线性加速或减速，面积必须恰好等于dTotal
func solveLinear(c int, t1, v1, t2, v2, dTotal float64) (*AccelProfile, error) {
	area := (v1 + v2) / 2 * (t2 - t1)
	switch {
	case Weak.Equal(area, dTotal):
		return NewAccelProfile(
			Breakpoint{T: t1, A: (v2 - v1) / (t2 - t1)},
			Breakpoint{T: t2},
		), nil
	case dTotal > area:
		return nil, infeasible(c, ErrDistanceTooLarge, "distance %v != linear ramp distance %v", dTotal, area)
	default:
		return nil, infeasible(c, ErrDistanceTooSmall, "distance %v != linear ramp distance %v", dTotal, area)
	}
}

// profileFromCut 由切线构造加速度计划
// 说明：起点->切线左端点、切线、切线右端点->终点，长度可忽略的段被省略
func profileFromCut(t1, v1, t2, v2 float64, line cutLine) *AccelProfile {
	p := &AccelProfile{points: make([]Breakpoint, 0, 4)}
	cursor := t1
	if line.tA-cursor > StrictEps {
		p.Push(cursor, (line.v-v1)/(line.tA-cursor))
		cursor = line.tA
	}
	if line.tB-cursor > StrictEps {
		p.Push(cursor, 0)
		cursor = line.tB
	}
	if t2-cursor > StrictEps {
		p.Push(cursor, (v2-line.v)/(t2-cursor))
	}
	p.Push(t2, 0)
	return p
}

// checkSolveInput 检查求解器输入是否满足前置条件，违反前置条件属于编程错误
func checkSolveInput(t1, v1, t2, v2, dTotal, vTop, aMax, dMax float64) {
	switch {
	case Strict.Greater(t1, t2):
		log.Panicf("kinematic.Solve: t1 %v > t2 %v", t1, t2)
	case Strict.Less(v1, 0) || Strict.Greater(v1, vTop):
		log.Panicf("kinematic.Solve: v1 %v out of [0, %v]", v1, vTop)
	case Strict.Less(v2, 0) || Strict.Greater(v2, vTop):
		log.Panicf("kinematic.Solve: v2 %v out of [0, %v]", v2, vTop)
	case Strict.Less(dTotal, 0):
		log.Panicf("kinematic.Solve: negative distance %v", dTotal)
	case aMax <= 0 || dMax >= 0:
		log.Panicf("kinematic.Solve: bad acceleration bounds aMax=%v dMax=%v", aMax, dMax)
	}
}
