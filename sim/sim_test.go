package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zonearena/fixed"
	"zonearena/world"
)

func arena(t *testing.T) *world.State {
	t.Helper()
	s, err := world.New(world.Corridor(3, fixed.FromInt(100), 10, 1, 0, 2))
	require.NoError(t, err)
	require.NoError(t, s.SetMatch(world.Match{Phase: world.PhaseRunning}))
	return s
}

func spawnPlayer(t *testing.T, s *world.State, team world.TeamID, x, y int64) world.EntityID {
	t.Helper()
	id, err := s.SpawnEntity(world.Entity{Kind: world.KindPlayer, Team: team, Flags: world.FlagAlive, Pos: fixed.VInt(x, y)})
	require.NoError(t, err)
	return id
}

func TestNormalizeLastCommandWins(t *testing.T) {
	got := Normalize(5, []Command{
		{Tick: 5, Entity: 3, Actions: ActMoveLeft},
		{Tick: 4, Entity: 1, Actions: ActShoot},
		{Tick: 5, Entity: 1, Actions: ActMoveUp},
		{Tick: 5, Entity: 3, Actions: ActMoveRight},
	})
	require.Len(t, got, 2)
	assert.Equal(t, world.EntityID(1), got[0].Entity)
	assert.Equal(t, ActMoveUp, got[0].Actions)
	assert.Equal(t, ActMoveRight, got[1].Actions)
}

func TestParseActions(t *testing.T) {
	a := ParseActions("Left+shoot+bogus")
	assert.True(t, a.Has(ActMoveLeft))
	assert.True(t, a.Has(ActShoot))
	assert.False(t, a.Has(ActMoveRight))
	assert.Equal(t, "left+shoot", a.String())
	assert.Equal(t, "none", ActionSet(0).String())
}

func TestAdvanceDoesNotTouchInput(t *testing.T) {
	s := arena(t)
	id := spawnPlayer(t, s, 1, 50, 50)
	before := s.Hash()

	next, _, err := Advance(s, []Command{{Tick: 0, Entity: id, Actions: ActMoveRight}}, DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, before, s.Hash())
	assert.Equal(t, uint64(1), next.Tick())

	e, _ := next.Entity(id)
	assert.Equal(t, fixed.VInt(54, 50), e.Pos)
}

func TestAdvanceIsDeterministic(t *testing.T) {
	build := func() *world.State {
		s := arena(t)
		spawnPlayer(t, s, 1, 50, 50)
		spawnPlayer(t, s, 2, 250, 50)
		_, err := s.SpawnEntity(world.Entity{Kind: world.KindPickup, Upgrade: world.UpgradeSpeed, Pos: fixed.VInt(150, 50)})
		require.NoError(t, err)
		return s
	}
	var script [][]Command
	for tick := uint64(0); tick < 40; tick++ {
		in := []Command{{Tick: tick, Entity: 1, Actions: ActMoveRight}}
		if tick%5 == 0 {
			in = append(in, Command{Tick: tick, Entity: 2, Actions: ActMoveLeft | ActShoot, AimX: -1})
		}
		if tick == 12 {
			in = append(in, Command{Tick: tick, Entity: 1, Actions: ActJump | ActMoveDown})
		}
		script = append(script, in)
	}

	a, evA, err := Run(build(), script, DefaultRules())
	require.NoError(t, err)
	b, evB, err := Run(build(), script, DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, evA, evB)
	assert.Equal(t, uint64(40), a.Tick())
	require.NoError(t, a.Validate())
}

func TestPlayersClampToMapEdge(t *testing.T) {
	s := arena(t)
	id := spawnPlayer(t, s, 1, 2, 2)
	next, _, err := Advance(s, []Command{{Tick: 0, Entity: id, Actions: ActMoveLeft | ActMoveUp}}, DefaultRules())
	require.NoError(t, err)
	e, _ := next.Entity(id)
	assert.Equal(t, fixed.VInt(0, 0), e.Pos)
	assert.Equal(t, world.ZoneID(0), e.Zone)
}

func TestContestedPickupGoesToLowestID(t *testing.T) {
	s := arena(t)
	low := spawnPlayer(t, s, 2, 146, 50)
	high := spawnPlayer(t, s, 1, 154, 50)
	pk, err := s.SpawnEntity(world.Entity{Kind: world.KindPickup, Upgrade: world.UpgradeRapid, Pos: fixed.VInt(150, 50)})
	require.NoError(t, err)

	next, events, err := Advance(s, nil, DefaultRules())
	require.NoError(t, err)
	_, ok := next.Entity(pk)
	assert.False(t, ok)
	winner, _ := next.Entity(low)
	loser, _ := next.Entity(high)
	assert.Equal(t, world.UpgradeRapid, winner.Upgrade)
	assert.Equal(t, DefaultRules().UpgradeTicks, winner.Timer)
	assert.Equal(t, world.UpgradeNone, loser.Upgrade)

	require.Len(t, events, 1)
	assert.Equal(t, world.EventPickupCollected, events[0].Kind)
	assert.Equal(t, low, events[0].Entity)
	assert.Equal(t, uint64(1), events[0].Tick)
}

func TestProjectileEliminatesEnemy(t *testing.T) {
	s := arena(t)
	shooter := spawnPlayer(t, s, 1, 130, 50)
	target := spawnPlayer(t, s, 2, 145, 50)
	rules := DefaultRules()

	next, events, err := Advance(s, []Command{{Tick: 0, Entity: shooter, Actions: ActShoot, AimX: 1}}, rules)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, world.EventPlayerEliminated, events[0].Kind)
	assert.Equal(t, target, events[0].Entity)
	assert.Equal(t, uint32(shooter), events[0].Other)

	e, _ := next.Entity(target)
	assert.True(t, e.Flags.Has(world.FlagGhost))
	assert.False(t, e.Alive())
	assert.Equal(t, rules.RespawnTicks-1, e.Timer, "respawn countdown starts in the same tick")
	assert.Empty(t, next.EntitiesOf(world.KindProjectile))

	sh, _ := next.Entity(shooter)
	assert.Equal(t, rules.ShootCooldown, sh.Cooldown)
}

func TestShieldAbsorbsHit(t *testing.T) {
	s := arena(t)
	shooter := spawnPlayer(t, s, 1, 130, 50)
	target := spawnPlayer(t, s, 2, 145, 50)
	require.NoError(t, s.UpdateEntity(target, func(e *world.Entity) { e.Upgrade = world.UpgradeShield }))

	next, events, err := Advance(s, []Command{
		{Tick: 0, Entity: shooter, Actions: ActShoot, AimX: 1},
		{Tick: 0, Entity: target, Actions: ActAbility},
	}, DefaultRules())
	require.NoError(t, err)
	assert.Empty(t, events)
	e, _ := next.Entity(target)
	assert.True(t, e.Alive())
	assert.True(t, e.Flags.Has(world.FlagShielded))
	assert.Empty(t, next.EntitiesOf(world.KindProjectile))
}

func TestShieldExpiresAfterPickupWhileShielded(t *testing.T) {
	s := arena(t)
	id := spawnPlayer(t, s, 1, 50, 50)
	require.NoError(t, s.UpdateEntity(id, func(e *world.Entity) { e.Upgrade = world.UpgradeShield }))
	_, err := s.SpawnEntity(world.Entity{Kind: world.KindPickup, Upgrade: world.UpgradeShield, Pos: fixed.VInt(50, 50)})
	require.NoError(t, err)
	rules := DefaultRules()

	cur, _, err := Advance(s, []Command{{Tick: 0, Entity: id, Actions: ActAbility}}, rules)
	require.NoError(t, err)
	e, _ := cur.Entity(id)
	require.True(t, e.Flags.Has(world.FlagShielded))
	require.Equal(t, world.UpgradeShield, e.Upgrade, "picked up a spare shield")
	assert.Equal(t, rules.ShieldTicks, e.Shield)

	cur, _, err = Run(cur, make([][]Command, int(rules.ShieldTicks)), rules)
	require.NoError(t, err)
	e, _ = cur.Entity(id)
	assert.False(t, e.Flags.Has(world.FlagShielded))
	assert.Zero(t, e.Shield)
	assert.Equal(t, world.UpgradeShield, e.Upgrade)
}

func TestShieldAndRapidCountDownIndependently(t *testing.T) {
	s := arena(t)
	id := spawnPlayer(t, s, 1, 50, 50)
	require.NoError(t, s.UpdateEntity(id, func(e *world.Entity) { e.Upgrade = world.UpgradeShield }))
	_, err := s.SpawnEntity(world.Entity{Kind: world.KindPickup, Upgrade: world.UpgradeRapid, Pos: fixed.VInt(50, 50)})
	require.NoError(t, err)
	rules := DefaultRules()
	rules.ShieldTicks = 5
	rules.UpgradeTicks = 10

	cur, _, err := Advance(s, []Command{{Tick: 0, Entity: id, Actions: ActAbility}}, rules)
	require.NoError(t, err)
	cur, _, err = Run(cur, make([][]Command, 5), rules)
	require.NoError(t, err)
	e, _ := cur.Entity(id)
	assert.False(t, e.Flags.Has(world.FlagShielded))
	assert.Equal(t, world.UpgradeRapid, e.Upgrade)

	cur, _, err = Run(cur, make([][]Command, 5), rules)
	require.NoError(t, err)
	e, _ = cur.Entity(id)
	assert.Equal(t, world.UpgradeNone, e.Upgrade)
}

func TestGhostRespawnsAtOwnedZone(t *testing.T) {
	s := arena(t)
	id := spawnPlayer(t, s, 2, 150, 50)
	require.NoError(t, s.UpdateEntity(id, func(e *world.Entity) {
		e.Flags = world.FlagGhost
		e.Timer = 2
	}))

	next, events, err := Run(s, [][]Command{nil, nil}, DefaultRules())
	require.NoError(t, err)
	e, _ := next.Entity(id)
	assert.True(t, e.Alive())
	assert.Equal(t, fixed.VInt(250, 50), e.Pos)
	require.Len(t, events, 1)
	assert.Equal(t, world.EventPlayerRespawned, events[0].Kind)
	assert.Equal(t, uint64(2), events[0].Tick)
}

func TestProjectileExpiresAfterTTL(t *testing.T) {
	s := arena(t)
	shooter := spawnPlayer(t, s, 1, 10, 10)
	rules := DefaultRules()
	rules.ProjectileSpeed = 0
	rules.ProjectileTTL = 3

	cur, _, err := Advance(s, []Command{{Tick: 0, Entity: shooter, Actions: ActShoot}}, rules)
	require.NoError(t, err)
	require.Len(t, cur.EntitiesOf(world.KindProjectile), 1)

	cur, _, err = Run(cur, [][]Command{nil, nil}, rules)
	require.NoError(t, err)
	assert.Empty(t, cur.EntitiesOf(world.KindProjectile))
}

func TestPausedMatchIgnoresActions(t *testing.T) {
	s := arena(t)
	id := spawnPlayer(t, s, 1, 50, 50)
	require.NoError(t, s.SetMatch(world.Match{Phase: world.PhasePaused}))

	next, _, err := Advance(s, []Command{{Tick: 0, Entity: id, Actions: ActMoveRight}}, DefaultRules())
	require.NoError(t, err)
	e, _ := next.Entity(id)
	assert.Equal(t, fixed.VInt(50, 50), e.Pos)
}
