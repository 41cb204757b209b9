package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Sequence names in the keys table.
const (
	SeqUsers       = "users"
	SeqSong        = "song"
	SeqSongsList   = "songs_list"
	SeqArtist      = "artist"
	SeqPerformance = "performance"
)

// Sequences lists every counter the service draws identifiers from.
var Sequences = []string{SeqUsers, SeqSong, SeqSongsList, SeqArtist, SeqPerformance}

// NextID returns the current value of the named counter and advances it by
// one. Calls for the same name are serialized in-process and the row is
// locked for the duration of its own short transaction, so ids are unique
// and increasing. Failures are returned as-is; nothing is retried.
func (s *Store) NextID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.locks.Do("minKey:"+name, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			err := tx.QueryRowContext(ctx, `
				SELECT min_key
				FROM keys
				WHERE name = $1
				FOR UPDATE
			`, name).Scan(&id)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrCounterMissing, name)
			}
			if err != nil {
				return fmt.Errorf("read counter %s: %w", name, err)
			}

			res, err := tx.ExecContext(ctx, `
				UPDATE keys
				SET min_key = $1
				WHERE name = $2
			`, id+1, name)
			if err != nil {
				return fmt.Errorf("advance counter %s: %w", name, err)
			}
			if err := expectRows(res, 1, "advance counter"); err != nil {
				return fmt.Errorf("%w: %v", ErrCounterConflict, err)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// EnsureCounter creates the named counter starting at start unless it exists.
func (s *Store) EnsureCounter(ctx context.Context, name string, start int64) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO keys (name, min_key)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, name, start); err != nil {
		return fmt.Errorf("ensure counter %s: %w", name, err)
	}
	return nil
}
