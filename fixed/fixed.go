package fixed

import "strconv"

// Fixed 定点数（Q47.16），服务端与客户端共享同一套整数运算，避免浮点分歧
type Fixed int64

const (
	// FracBits 小数位数
	FracBits = 16
	// One 表示 1.0
	One Fixed = 1 << FracBits
	// Half 表示 0.5
	Half Fixed = One / 2
)

// FromInt 整数转定点
func FromInt(v int64) Fixed { return Fixed(v << FracBits) }

// FromFloat 仅用于配置边界（加载配置/测试），模拟过程中不得使用
func FromFloat(v float64) Fixed {
	if v < 0 {
		return -Fixed(-v*float64(One) + 0.5)
	}
	return Fixed(v*float64(One) + 0.5)
}

// Float 仅用于展示层输出
func (f Fixed) Float() float64 { return float64(f) / float64(One) }

// Int 向零取整
func (f Fixed) Int() int64 {
	if f < 0 {
		return -int64(-f >> FracBits)
	}
	return int64(f >> FracBits)
}

// Mul 定点乘法（结果向零截断）
func (f Fixed) Mul(g Fixed) Fixed {
	p := int64(f) * int64(g)
	if p < 0 {
		return -Fixed(-p >> FracBits)
	}
	return Fixed(p >> FracBits)
}

// Div 定点除法；除数为 0 时返回 0
func (f Fixed) Div(g Fixed) Fixed {
	if g == 0 {
		return 0
	}
	return Fixed((int64(f) << FracBits) / int64(g))
}

// MulInt 乘以整数
func (f Fixed) MulInt(n int64) Fixed { return f * Fixed(n) }

// Abs 绝对值
func (f Fixed) Abs() Fixed {
	if f < 0 {
		return -f
	}
	return f
}

// Clamp 限制在 [lo, hi]
func (f Fixed) Clamp(lo, hi Fixed) Fixed {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}

func (f Fixed) String() string {
	return strconv.FormatFloat(f.Float(), 'f', 4, 64)
}

// Min 较小值
func Min(a, b Fixed) Fixed {
	if a < b {
		return a
	}
	return b
}

// Max 较大值
func Max(a, b Fixed) Fixed {
	if a > b {
		return a
	}
	return b
}

// Lerp 在 a、b 之间按 num/den 插值，全部整数运算
func Lerp(a, b Fixed, num, den int64) Fixed {
	if den <= 0 {
		return b
	}
	return a + Fixed(int64(b-a)*num/den)
}
