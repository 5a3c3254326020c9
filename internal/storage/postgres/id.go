package postgres

import (
	"math/rand/v2"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
)

// Entity IDs are drawn at random from a bounded range so URLs do not leak
// creation order or row counts. Not a security control: collisions are
// simply retried on the unique-violation error.
const (
	maxEntityID = 1_000_000_000
	idAttempts  = 5
)

func randomID() int64 {
	return rand.Int64N(maxEntityID) + 1
}

// isIDCollision reports a unique violation on the table's primary key, as
// opposed to some other unique constraint. Only the former warrants
// another draw from the ID range.
func isIDCollision(err error, table string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == table+"_pkey"
}
