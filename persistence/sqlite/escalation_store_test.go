package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohitkumar/grcflow/model"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *EscalationStore {
	s, err := NewEscalationStore(Config{Path: filepath.Join(t.TempDir(), "escalations.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEscalationStore(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, s *EscalationStore){
		"logs keep append order": testAppendOrder,
		"fields round trip":      testFields,
		"list since":             testListSince,
		"duplicate id rejected":  testDuplicateId,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func testAppendOrder(t *testing.T, s *EscalationStore) {
	ctx := context.Background()
	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.AppendLog(ctx, &model.EscalationLog{Id: id, InstanceId: "i-1", Level: i + 1, Trigger: model.TRIGGER_MANUAL, Reason: "r", CreatedAt: base}))
	}
	require.NoError(t, s.AppendLog(ctx, &model.EscalationLog{Id: "other", InstanceId: "i-2", Level: 1, Trigger: model.TRIGGER_MANUAL, Reason: "r", CreatedAt: base}))

	logs, err := s.ListLogs(ctx, "i-1")
	require.NoError(t, err)
	require.Len(t, logs, 3)
	require.Equal(t, "c", logs[0].Id)
	require.Equal(t, 3, logs[2].Level)

	logs, err = s.ListLogs(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, logs)
}

func testFields(t *testing.T, s *EscalationStore) {
	ctx := context.Background()
	in := &model.EscalationLog{
		Id:                "e-1",
		InstanceId:        "i-1",
		Level:             2,
		Trigger:           model.TRIGGER_SLA_BREACH,
		Rule:              "breach-to-ciso",
		StepName:          "legal review",
		ToRole:            "ciso",
		PreviousPriority:  model.PRIORITY_MEDIUM,
		NewPriority:       model.PRIORITY_CRITICAL,
		Reason:            "sla overdue by 26.0 hours",
		HoursOverdue:      26,
		RecommendedAction: "escalate_to_management",
		CreatedAt:         base,
	}
	require.NoError(t, s.AppendLog(ctx, in))
	logs, err := s.ListLogs(ctx, "i-1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	out := logs[0]
	require.Equal(t, in.Trigger, out.Trigger)
	require.Equal(t, in.Rule, out.Rule)
	require.Equal(t, in.ToRole, out.ToRole)
	require.Empty(t, out.ToActor)
	require.Equal(t, in.NewPriority, out.NewPriority)
	require.Equal(t, in.HoursOverdue, out.HoursOverdue)
	require.True(t, in.CreatedAt.Equal(out.CreatedAt))
}

func testListSince(t *testing.T, s *EscalationStore) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendLog(ctx, &model.EscalationLog{
			Id: string(rune('a' + i)), InstanceId: "i-1", Level: i + 1, Trigger: model.TRIGGER_TIME_ELAPSED, Reason: "r", CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	logs, err := s.ListSince(ctx, base.Add(2*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, "c", logs[0].Id)
	require.Equal(t, "d", logs[1].Id)
}

func testDuplicateId(t *testing.T, s *EscalationStore) {
	ctx := context.Background()
	log := &model.EscalationLog{Id: "e-1", InstanceId: "i-1", Level: 1, Trigger: model.TRIGGER_MANUAL, Reason: "r", CreatedAt: base}
	require.NoError(t, s.AppendLog(ctx, log))
	require.Error(t, s.AppendLog(ctx, log))
}
