package kinematic

import (
	"fmt"
	"math"
)

// trapezoidSpec 速度-时间平面上的梯形（上下两边水平）
// 功能：可行性求解器内部的几何图元，仅在一次Solve调用中存在
// 说明：
//
//	         refX+x        refX+x+w2
//	  refY+h   +--------------+
//	          /                \
//	  refY   +-------------------+
//	       refX             refX+w1
type trapezoidSpec struct {
	refX, refY float64 // 左下角
	h          float64 // 高（速度差）
	w1, w2     float64 // 下边、上边长度（时间差）
	x          float64 // 上边左端点相对下边左端点的水平偏移
	area       float64 // 面积，h*(w1+w2)/2
}

func newTrapezoidSpec(refX, refY, h, w1, w2, x float64) trapezoidSpec {
	return trapezoidSpec{
		refX: refX, refY: refY,
		h: h, w1: w1, w2: w2, x: x,
		area: h * (w1 + w2) / 2,
	}
}

func (tz trapezoidSpec) String() string {
	return fmt.Sprintf("trapezoid{ref=(%.4f,%.4f) h=%.4f w1=%.4f w2=%.4f x=%.4f area=%.4f}",
		tz.refX, tz.refY, tz.h, tz.w1, tz.w2, tz.x, tz.area)
}

// cutLine 梯形内的水平切线
type cutLine struct {
	v      float64 // 切线所在速度
	tA, tB float64 // 切线左右端点时刻
}

// cut 求自下边起面积为area0的水平切线
// 算法说明：
// 1. 设切线距下边高度为h0，则切线长度 w(h0) = w1 + (w2-w1)*h0/h
// 2. 下方面积 h0*(w1+w(h0))/2 = area0，整理得 (w2-w1)*h0² + (2*w1*h)*h0 - (2*area0*h) = 0
// 3. w1==w2时退化为一次方程 h0 = area0/w1
// 4. 否则取有理化后的正根 h0 = 4*area0*h / (2*w1*h + sqrt((2*w1*h)² + 8*(w2-w1)*area0*h))，避免除以(w2-w1)
// 5. 切线左端点按上下两边左端点线性插值
func (tz trapezoidSpec) cut(area0 float64) cutLine {
	area0 = math.Max(0, math.Min(area0, tz.area))
	var h0 float64
	switch {
	case Strict.Zero(area0):
		h0 = 0
	case Strict.Equal(tz.w1, tz.w2):
		h0 = area0 / tz.w1
	default:
		b := 2 * tz.w1 * tz.h
		radicand := math.Max(0, b*b+8*(tz.w2-tz.w1)*area0*tz.h)
		if denom := b + math.Sqrt(radicand); denom > 0 {
			h0 = 4 * area0 * tz.h / denom
		}
	}
	h0 = math.Max(0, math.Min(h0, tz.h))
	ratio := h0 / tz.h
	tA := tz.refX + tz.x*ratio
	return cutLine{
		v:  tz.refY + h0,
		tA: tA,
		tB: tA + tz.w1 + (tz.w2-tz.w1)*ratio,
	}
}
