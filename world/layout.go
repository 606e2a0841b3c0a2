package world

import "zonearena/fixed"

// Corridor 生成一排首尾相接的正方形区域（i 与 i+1 相邻），两队出生点位于两端。
// owners 按顺序给出各区域初始归属，缺省为中立
func Corridor(n int, size fixed.Fixed, threshold int32, owners ...TeamID) MapSpec {
	spec := MapSpec{
		Width:            size.MulInt(int64(n)),
		Height:           size,
		Teams:            2,
		CaptureThreshold: threshold,
		Zones:            make([]ZoneSpec, n),
		Spawns: []fixed.Vec{
			{X: size / 2, Y: size / 2},
			{X: size.MulInt(int64(n)) - size/2, Y: size / 2},
		},
	}
	for i := 0; i < n; i++ {
		zs := ZoneSpec{
			Min: fixed.Vec{X: size.MulInt(int64(i)), Y: 0},
			Max: fixed.Vec{X: size.MulInt(int64(i + 1)), Y: size},
		}
		if i < len(owners) {
			zs.Owner = owners[i]
		}
		if i > 0 {
			zs.Adjacent = append(zs.Adjacent, ZoneID(i-1))
		}
		if i < n-1 {
			zs.Adjacent = append(zs.Adjacent, ZoneID(i+1))
		}
		spec.Zones[i] = zs
	}
	return spec
}
