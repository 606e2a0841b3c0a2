package world

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"zonearena/fixed"
)

func newCorridor(t *testing.T, owners ...TeamID) *State {
	t.Helper()
	s, err := New(Corridor(3, fixed.FromInt(100), 10, owners...))
	require.NoError(t, err)
	return s
}

func player(team TeamID, x, y int64) Entity {
	return Entity{Kind: KindPlayer, Team: team, Flags: FlagAlive, Pos: fixed.VInt(x, y)}
}

func TestNewRejectsAsymmetricAdjacency(t *testing.T) {
	spec := Corridor(2, fixed.FromInt(10), 5)
	spec.Zones[1].Adjacent = nil
	_, err := New(spec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariantViolation))
}

func TestSpawnTracksZoneOccupancy(t *testing.T) {
	s := newCorridor(t, 1, 0, 2)
	id, err := s.SpawnEntity(player(1, 150, 50))
	require.NoError(t, err)

	z, _ := s.Zone(1)
	assert.Equal(t, []EntityID{id}, z.Occupants)
	e, _ := s.Entity(id)
	assert.Equal(t, ZoneID(1), e.Zone)

	require.NoError(t, s.ApplyMovement(id, fixed.VInt(250, 50), fixed.Vec{}))
	z1, _ := s.Zone(1)
	z2, _ := s.Zone(2)
	assert.Empty(t, z1.Occupants)
	assert.Equal(t, []EntityID{id}, z2.Occupants)
	require.NoError(t, s.Validate())
}

func TestMovementClampsToMapEdges(t *testing.T) {
	s := newCorridor(t)
	id, err := s.SpawnEntity(player(1, 10, 10))
	require.NoError(t, err)
	require.NoError(t, s.ApplyMovement(id, fixed.VInt(-50, 1000), fixed.VInt(-1, 1)))
	e, _ := s.Entity(id)
	assert.Equal(t, fixed.VInt(0, 100), e.Pos)
	// 右下边界不属于任何区域
	assert.Equal(t, NoZone, e.Zone)
}

func TestIDsAreNeverReused(t *testing.T) {
	s := newCorridor(t)
	id, err := s.SpawnEntity(player(1, 10, 10))
	require.NoError(t, err)
	require.NoError(t, s.RemoveEntity(id))

	err = s.AddEntity(Entity{ID: id, Kind: KindPlayer, Team: 1})
	assert.True(t, errors.Is(err, ErrInvariantViolation))

	next, err := s.SpawnEntity(player(1, 10, 10))
	require.NoError(t, err)
	assert.Greater(t, next, id)
}

func TestRemoveEntityLeavesNoDanglingReferences(t *testing.T) {
	s := newCorridor(t)
	shooter, _ := s.SpawnEntity(player(1, 50, 50))
	shot, err := s.SpawnEntity(Entity{Kind: KindProjectile, Team: 1, Owner: shooter, Pos: fixed.VInt(60, 50)})
	require.NoError(t, err)

	require.NoError(t, s.RemoveEntity(shooter))
	z, _ := s.Zone(0)
	assert.Empty(t, z.Occupants)
	e, _ := s.Entity(shot)
	assert.Zero(t, e.Owner)
	require.NoError(t, s.Validate())

	err = s.RemoveEntity(shooter)
	assert.True(t, errors.Is(err, ErrInvariantViolation))
}

func TestZoneCaptureProgressIsBounded(t *testing.T) {
	s := newCorridor(t)
	require.NoError(t, s.SetZoneCapture(0, 1, 10))
	err := s.SetZoneCapture(0, 1, 11)
	assert.True(t, errors.Is(err, ErrInvariantViolation))
	err = s.SetZoneOwner(0, 3)
	assert.True(t, errors.Is(err, ErrInvariantViolation))
}

func TestUpdateEntityCannotChangeIdentity(t *testing.T) {
	s := newCorridor(t)
	id, _ := s.SpawnEntity(player(1, 50, 50))
	err := s.UpdateEntity(id, func(e *Entity) { e.Kind = KindPickup })
	assert.True(t, errors.Is(err, ErrInvariantViolation))

	require.NoError(t, s.UpdateEntity(id, func(e *Entity) {
		e.Flags = FlagGhost
		e.Pos = fixed.VInt(150, 50)
	}))
	e, _ := s.Entity(id)
	assert.Equal(t, ZoneID(1), e.Zone)
	require.NoError(t, s.Validate())
}

func TestCloneIsIndependent(t *testing.T) {
	s := newCorridor(t)
	id, _ := s.SpawnEntity(player(1, 50, 50))
	c := s.Clone()
	require.NoError(t, c.ApplyMovement(id, fixed.VInt(150, 50), fixed.Vec{}))

	z0, _ := s.Zone(0)
	assert.Equal(t, []EntityID{id}, z0.Occupants)
	assert.NotEqual(t, s.Hash(), c.Hash())
}

func TestValidateAggregatesViolations(t *testing.T) {
	s := newCorridor(t)
	id, _ := s.SpawnEntity(player(1, 50, 50))
	// 直接破坏内部数据，模拟绕过操作的写入
	s.zones[2].Occupants = []EntityID{id, 999}
	s.zones[1].Progress = 50

	err := s.Validate()
	require.Error(t, err)
	assert.GreaterOrEqual(t, len(multierr.Errors(err)), 3)
}

func TestSnapshotRoundTripPreservesHash(t *testing.T) {
	s := newCorridor(t, 1, 0, 2)
	_, _ = s.SpawnEntity(player(1, 50, 50))
	_, _ = s.SpawnEntity(player(2, 250, 50))
	require.NoError(t, s.SetZoneCapture(1, 1, 4))
	s.SetTriggers([]TriggerState{{Kind: 1, Active: true}})
	require.NoError(t, s.AddScore(2, 3))

	r, err := FromSnapshot(s.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, s.Hash(), r.Hash())
}

func TestDiffApplyReproducesState(t *testing.T) {
	before := newCorridor(t, 1, 0, 2)
	a, _ := before.SpawnEntity(player(1, 50, 50))
	b, _ := before.SpawnEntity(player(2, 250, 50))

	after := before.Clone()
	after.StepTick()
	require.NoError(t, after.ApplyMovement(a, fixed.VInt(120, 50), fixed.VInt(1, 0)))
	require.NoError(t, after.RemoveEntity(b))
	c, _ := after.SpawnEntity(Entity{Kind: KindPickup, Pos: fixed.VInt(200, 20)})
	require.NoError(t, after.SetZoneCapture(1, 1, 1))

	d := Diff(before, after, nil)
	assert.Equal(t, []EntityID{b}, d.Removed)
	require.Len(t, d.Upserts, 2)
	assert.Equal(t, a, d.Upserts[0].ID)
	assert.Equal(t, c, d.Upserts[1].ID)

	got, err := ApplyDelta(before, d)
	require.NoError(t, err)
	assert.Equal(t, after.Hash(), got.Hash())

	// 同一增量第二次应用时基准已不匹配
	_, err = ApplyDelta(got, d)
	assert.True(t, errors.Is(err, ErrDeltaBase))
}

func TestFogOfWarHidesEnemyInUnseenZone(t *testing.T) {
	s, err := New(Corridor(4, fixed.FromInt(100), 10, 1, 0, 0, 2))
	require.NoError(t, err)
	mine, _ := s.SpawnEntity(player(1, 50, 50))
	near, _ := s.SpawnEntity(player(2, 150, 50))
	far, _ := s.SpawnEntity(player(2, 250, 50))

	view := s.Filtered(FogOfWar{Team: 1})
	_, ok := view.Entity(mine)
	assert.True(t, ok)
	_, ok = view.Entity(near)
	assert.True(t, ok, "zone 1 is adjacent to an owned zone")
	_, ok = view.Entity(far)
	assert.False(t, ok)
	require.NoError(t, view.Validate())

	// 敌人走出视野时体现在 Removed 中
	after := s.Clone()
	after.StepTick()
	require.NoError(t, after.ApplyMovement(near, fixed.VInt(350, 50), fixed.Vec{}))
	d := Diff(s, after, FogOfWar{Team: 1})
	assert.Equal(t, []EntityID{near}, d.Removed)
	assert.Empty(t, d.Upserts)

	got, err := ApplyDelta(view, d)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EntityCount())
}
