package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"go.uber.org/zap"
)

type Config struct {
	Path         string
	MaxOpenConns int
	BusyTimeout  time.Duration
}

var _ persistence.EscalationLogStore = new(EscalationStore)

// EscalationStore keeps the escalation audit trail in an append-only SQLite table.
type EscalationStore struct {
	db *sql.DB
}

func NewEscalationStore(conf Config) (*EscalationStore, error) {
	if conf.MaxOpenConns <= 0 {
		conf.MaxOpenConns = 4
	}
	if conf.BusyTimeout <= 0 {
		conf.BusyTimeout = 5 * time.Second
	}
	db, err := sql.Open("sqlite3", conf.Path)
	if err != nil {
		return nil, storageErr("open", err)
	}
	db.SetMaxOpenConns(conf.MaxOpenConns)
	s := &EscalationStore{db: db}
	if err := s.initialize(conf); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("sqlite escalation store ready", zap.String("path", conf.Path))
	return s, nil
}

func storageErr(op string, err error) error {
	return api.StorageLayerError{Message: fmt.Sprintf("sqlite %s: %s", op, err.Error())}
}

func (s *EscalationStore) initialize(conf Config) error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return storageErr("enable wal", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", conf.BusyTimeout.Milliseconds())); err != nil {
		return storageErr("busy timeout", err)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return storageErr("create schema", err)
	}
	if _, err := s.db.Exec(insertSchemaVersion, SCHEMA_VERSION); err != nil {
		return storageErr("insert schema version", err)
	}
	var version int
	if err := s.db.QueryRow(getSchemaVersion).Scan(&version); err != nil {
		return storageErr("schema version", err)
	}
	if version != SCHEMA_VERSION {
		return storageErr("schema version", fmt.Errorf("expected %d, got %d", SCHEMA_VERSION, version))
	}
	return nil
}

func (s *EscalationStore) AppendLog(ctx context.Context, log *model.EscalationLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_log (
			id, instance_id, level, trigger_kind, rule, step_name, from_actor, to_actor, to_role,
			previous_priority, new_priority, reason, hours_overdue, recommended_action, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.Id, log.InstanceId, log.Level, string(log.Trigger), log.Rule, log.StepName, log.FromActor, log.ToActor, log.ToRole,
		string(log.PreviousPriority), string(log.NewPriority), log.Reason, log.HoursOverdue, log.RecommendedAction, log.CreatedAt.UTC())
	if err != nil {
		return storageErr("append escalation log", err)
	}
	return nil
}

const selectColumns = `id, instance_id, level, trigger_kind, rule, step_name, from_actor, to_actor, to_role,
	previous_priority, new_priority, reason, hours_overdue, recommended_action, created_at`

func (s *EscalationStore) ListLogs(ctx context.Context, instanceId string) ([]*model.EscalationLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM escalation_log WHERE instance_id = ? ORDER BY seq`, instanceId)
	if err != nil {
		return nil, storageErr("list escalation logs", err)
	}
	return scanLogs(rows)
}

// ListSince returns every escalation recorded at or after since, oldest first.
func (s *EscalationStore) ListSince(ctx context.Context, since time.Time, limit int) ([]*model.EscalationLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM escalation_log WHERE created_at >= ? ORDER BY seq LIMIT ?`, since.UTC(), limit)
	if err != nil {
		return nil, storageErr("list escalation logs", err)
	}
	return scanLogs(rows)
}

func scanLogs(rows *sql.Rows) ([]*model.EscalationLog, error) {
	defer rows.Close()
	out := make([]*model.EscalationLog, 0)
	for rows.Next() {
		var (
			log                                     model.EscalationLog
			trigger, previous, next                 string
			rule, step, from, to, role, recommended sql.NullString
			hoursOverdue                            sql.NullFloat64
		)
		if err := rows.Scan(&log.Id, &log.InstanceId, &log.Level, &trigger, &rule, &step, &from, &to, &role,
			&previous, &next, &log.Reason, &hoursOverdue, &recommended, &log.CreatedAt); err != nil {
			return nil, storageErr("scan escalation log", err)
		}
		log.Trigger = model.EscalationTrigger(trigger)
		log.PreviousPriority = model.Priority(previous)
		log.NewPriority = model.Priority(next)
		log.Rule = rule.String
		log.StepName = step.String
		log.FromActor = from.String
		log.ToActor = to.String
		log.ToRole = role.String
		log.RecommendedAction = recommended.String
		log.HoursOverdue = hoursOverdue.Float64
		out = append(out, &log)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan escalation log", err)
	}
	return out, nil
}

func (s *EscalationStore) Close() error {
	return s.db.Close()
}
