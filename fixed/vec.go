package fixed

// Vec 定点二维向量
type Vec struct {
	X Fixed `json:"x" msgpack:"x"`
	Y Fixed `json:"y" msgpack:"y"`
}

// V 由两个定点数构造向量
func V(x, y Fixed) Vec { return Vec{X: x, Y: y} }

// VInt 由整数构造向量
func VInt(x, y int64) Vec { return Vec{X: FromInt(x), Y: FromInt(y)} }

func (v Vec) Add(o Vec) Vec { return Vec{X: v.X + o.X, Y: v.Y + o.Y} }

func (v Vec) Sub(o Vec) Vec { return Vec{X: v.X - o.X, Y: v.Y - o.Y} }

// Scale 按定点系数缩放
func (v Vec) Scale(s Fixed) Vec { return Vec{X: v.X.Mul(s), Y: v.Y.Mul(s)} }

// IsZero 是否零向量
func (v Vec) IsZero() bool { return v.X == 0 && v.Y == 0 }

// DistSq 返回距离平方的原始整数值（未移位），用于半径比较，避免开方
func (v Vec) DistSq(o Vec) int64 {
	dx := int64(v.X - o.X)
	dy := int64(v.Y - o.Y)
	return dx*dx + dy*dy
}

// Within 判断两点距离是否不超过 r
func (v Vec) Within(o Vec, r Fixed) bool {
	return v.DistSq(o) <= int64(r)*int64(r)
}

// Chebyshev 切比雪夫距离（分量差绝对值的最大值），用于容差判断
func (v Vec) Chebyshev(o Vec) Fixed {
	return Max((v.X - o.X).Abs(), (v.Y - o.Y).Abs())
}

// Lerp 按 num/den 在 v、o 之间插值
func (v Vec) Lerp(o Vec, num, den int64) Vec {
	return Vec{X: Lerp(v.X, o.X, num, den), Y: Lerp(v.Y, o.Y, num, den)}
}

// Clamp 将向量限制在矩形 [min, max] 内
func (v Vec) Clamp(min, max Vec) Vec {
	return Vec{X: v.X.Clamp(min.X, max.X), Y: v.Y.Clamp(min.Y, max.Y)}
}

func (v Vec) String() string {
	return "(" + v.X.String() + ", " + v.Y.String() + ")"
}
