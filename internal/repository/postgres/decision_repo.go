package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/guildwarden/internal/audit"
)

// DecisionRepo — durable-хранилище журнала решений (таблица ban_decisions).
type DecisionRepo struct {
	db *sql.DB
}

func NewDecisionRepo(connString string) (*DecisionRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &DecisionRepo{db: db}, nil
}

func (r *DecisionRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *DecisionRepo) Close() error {
	return r.db.Close()
}

// WriteBatch — пакетная вставка решений одним запросом.
// Кратковременные сбои БД ретраятся, журнал не должен терять пачки из-за
// моргнувшего соединения.
func (r *DecisionRepo) WriteBatch(ctx context.Context, events []audit.DecisionEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице ban_decisions
	const numFields = 12
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12)

		vals = append(vals,
			e.ID, e.GuildID, e.GuildName, e.MemberID, e.MemberName,
			e.Outcome, e.Reason, e.MemberRank, e.SelfRank,
			e.Status, e.Error, e.Timestamp,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO ban_decisions (id, guild_id, guild_name, member_id, member_name, outcome, reason, member_rank, self_rank, status, error, timestamp) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	return retry.New(
		retry.Context(ctx),
		retry.Attempts(3),
	).Do(func() error {
		_, err := r.db.ExecContext(ctx, query, vals...)
		return err
	})
}
