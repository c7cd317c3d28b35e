package ledger

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgTransactionRecorder writes the audit trail to Postgres. Inserts are
// fire-and-forget: a failed insert is logged and dropped, it never blocks
// or rolls back the balance change that triggered it.
type PgTransactionRecorder struct {
	pool *pgxpool.Pool
}

func NewPgTransactionRecorder(pool *pgxpool.Pool) *PgTransactionRecorder {
	return &PgTransactionRecorder{pool: pool}
}

func (r *PgTransactionRecorder) RecordTransaction(ctx context.Context, userID string, amount float64, kind, mode string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()

		_, err := r.pool.Exec(ctx,
			`INSERT INTO transactions (user_id, amount, kind, mode, created_at)
			 VALUES ($1, $2, $3, $4, now())`,
			userID, amount, kind, mode)
		if err != nil {
			log.Printf("[LEDGER] Transaction record dropped (user=%s kind=%s): %v", userID, kind, err)
		}
	}()
}
