package sim

import "zonearena/fixed"

// Rules 移动与战斗参数。全部为定点数/整数 tick，服务端与客户端必须使用同一份
type Rules struct {
	PlayerSpeed      fixed.Fixed `json:"playerSpeed" msgpack:"playerSpeed"`
	SpeedBoost       fixed.Fixed `json:"speedBoost" msgpack:"speedBoost"`
	DashSpeed        fixed.Fixed `json:"dashSpeed" msgpack:"dashSpeed"`
	DashCooldown     uint16      `json:"dashCooldown" msgpack:"dashCooldown"`
	ProjectileSpeed  fixed.Fixed `json:"projectileSpeed" msgpack:"projectileSpeed"`
	ProjectileTTL    uint16      `json:"projectileTTL" msgpack:"projectileTTL"`
	ShootCooldown    uint16      `json:"shootCooldown" msgpack:"shootCooldown"`
	RapidCooldown    uint16      `json:"rapidCooldown" msgpack:"rapidCooldown"`
	PlayerRadius     fixed.Fixed `json:"playerRadius" msgpack:"playerRadius"`
	ProjectileRadius fixed.Fixed `json:"projectileRadius" msgpack:"projectileRadius"`
	PickupRadius     fixed.Fixed `json:"pickupRadius" msgpack:"pickupRadius"`
	RespawnTicks     uint16      `json:"respawnTicks" msgpack:"respawnTicks"`
	ShieldTicks      uint16      `json:"shieldTicks" msgpack:"shieldTicks"`
	UpgradeTicks     uint16      `json:"upgradeTicks" msgpack:"upgradeTicks"`
}

// DefaultRules 默认参数（单位：地图单位/tick）
func DefaultRules() Rules {
	return Rules{
		PlayerSpeed:      fixed.FromInt(4),
		SpeedBoost:       fixed.FromFloat(1.5),
		DashSpeed:        fixed.FromInt(12),
		DashCooldown:     20,
		ProjectileSpeed:  fixed.FromInt(10),
		ProjectileTTL:    30,
		ShootCooldown:    8,
		RapidCooldown:    3,
		PlayerRadius:     fixed.FromInt(8),
		ProjectileRadius: fixed.FromInt(2),
		PickupRadius:     fixed.FromInt(10),
		RespawnTicks:     40,
		ShieldTicks:      60,
		UpgradeTicks:     100,
	}
}
