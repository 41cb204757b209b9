package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"
)

// Anonymous is the viewer id used for requests without a session. No account
// has it, so only public entities are visible.
const Anonymous int64 = 0

// Rights lists who may read and edit an entity.
type Rights struct {
	Readers []string `json:"readers"`
	Writers []string `json:"writers"`
	Owner   string   `json:"owner"`
}

type access struct {
	viewer  int64
	ownerID int64
	public  bool
	reader  bool
	writer  bool
	admin   bool
}

func (a access) readable() bool {
	return a.public || a.reader || a.writable()
}

func (a access) writable() bool {
	return a.viewer != Anonymous && (a.ownerID == a.viewer || a.writer || a.admin)
}

// manageable reports whether the viewer may delete the entity or hand it to
// another owner.
func (a access) manageable() bool {
	return a.viewer != Anonymous && (a.ownerID == a.viewer || a.admin)
}

// rightsTables names the tables holding one entity kind and its grants.
type rightsTables struct {
	entity  string
	readers string
	writers string
	fk      string
}

var (
	songTables = rightsTables{entity: "song", readers: "song_reader", writers: "song_writer", fk: "song_id"}
	listTables = rightsTables{entity: "songs_list", readers: "list_reader", writers: "list_writer", fk: "list_id"}
)

// readablePredicate is a SQL condition over alias that holds when viewer $1
// may read the row.
func (t rightsTables) readablePredicate(alias string) string {
	return fmt.Sprintf(`(%[1]s.public OR %[1]s.owner_id = $1
		OR EXISTS (SELECT 1 FROM %[2]s r WHERE r.%[4]s = %[1]s.id AND r.user_id = $1)
		OR EXISTS (SELECT 1 FROM %[3]s w WHERE w.%[4]s = %[1]s.id AND w.user_id = $1)
		OR EXISTS (SELECT 1 FROM users a WHERE a.id = $1 AND a.is_admin))`,
		alias, t.readers, t.writers, t.fk)
}

func (t rightsTables) loadAccess(ctx context.Context, q querier, viewer, id int64, notFound error) (access, error) {
	a := access{viewer: viewer}
	err := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT e.owner_id, e.public,
			EXISTS (SELECT 1 FROM %[2]s WHERE %[4]s = e.id AND user_id = $1),
			EXISTS (SELECT 1 FROM %[3]s WHERE %[4]s = e.id AND user_id = $1),
			COALESCE((SELECT is_admin FROM users WHERE id = $1), FALSE)
		FROM %[1]s e
		WHERE e.id = $2
	`, t.entity, t.readers, t.writers, t.fk), viewer, id).Scan(&a.ownerID, &a.public, &a.reader, &a.writer, &a.admin)
	if errors.Is(err, sql.ErrNoRows) {
		return access{}, notFound
	}
	if err != nil {
		return access{}, fmt.Errorf("load %s %d access: %w", t.entity, id, err)
	}
	return a, nil
}

// loadRights reads the grant lists and owner name for an entity.
func (t rightsTables) loadRights(ctx context.Context, q querier, id int64) (Rights, error) {
	var r Rights
	if err := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT u.username
		FROM %s e
		JOIN users u ON u.id = e.owner_id
		WHERE e.id = $1
	`, t.entity), id).Scan(&r.Owner); err != nil {
		return Rights{}, fmt.Errorf("load %s owner: %w", t.entity, err)
	}

	var err error
	if r.Readers, err = t.grantees(ctx, q, t.readers, id); err != nil {
		return Rights{}, err
	}
	if r.Writers, err = t.grantees(ctx, q, t.writers, id); err != nil {
		return Rights{}, err
	}
	return r, nil
}

func (t rightsTables) grantees(ctx context.Context, q querier, table string, id int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT u.username
		FROM %s g
		JOIN users u ON u.id = g.user_id
		WHERE g.%s = $1
		ORDER BY u.username
	`, table, t.fk), id)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// replaceRights swaps the grant lists and owner of an entity in tx.
func (t rightsTables) replaceRights(ctx context.Context, tx *sql.Tx, id int64, rights Rights) error {
	names := make([]string, 0, len(rights.Readers)+len(rights.Writers)+1)
	names = append(names, rights.Owner)
	names = append(names, rights.Readers...)
	names = append(names, rights.Writers...)
	ids, err := userIDsByUsername(ctx, tx, dedupeStrings(names))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET owner_id = $1 WHERE id = $2`, t.entity), ids[rights.Owner], id); err != nil {
		return fmt.Errorf("update %s owner: %w", t.entity, err)
	}
	if err := t.replaceGrants(ctx, tx, t.readers, id, rights.Readers, ids); err != nil {
		return err
	}
	return t.replaceGrants(ctx, tx, t.writers, id, rights.Writers, ids)
}

func (t rightsTables) replaceGrants(ctx context.Context, tx *sql.Tx, table string, id int64, names []string, ids map[string]int64) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, t.fk), id); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	names = dedupeStrings(names)
	if len(names) == 0 {
		return nil
	}

	userIDs := make([]int64, 0, len(names))
	for _, name := range names {
		userIDs = append(userIDs, ids[name])
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (user_id, %s)
		SELECT unnest($1::bigint[]), $2
	`, table, t.fk), pq.Array(userIDs), id); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// setRights applies a rights update on behalf of editor. Readers of the
// entity get ErrForbidden, everyone else the entity's not-found error. Only
// the current owner or an admin may change the owner.
func (s *Store) setRights(ctx context.Context, t rightsTables, editor, id int64, rights Rights, notFound error) (Rights, error) {
	if rights.Owner == "" {
		return Rights{}, fmt.Errorf("%w: owner is required", ErrUnknownUser)
	}

	var updated Rights
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := t.loadAccess(ctx, tx, editor, id, notFound)
		if err != nil {
			return err
		}
		if !a.readable() {
			return notFound
		}
		if !a.writable() {
			return ErrForbidden
		}

		current, err := t.loadRights(ctx, tx, id)
		if err != nil {
			return err
		}
		if rights.Owner != current.Owner && !a.manageable() {
			return ErrForbidden
		}

		if err := t.replaceRights(ctx, tx, id, rights); err != nil {
			return err
		}
		updated, err = t.loadRights(ctx, tx, id)
		return err
	})
	if err != nil {
		return Rights{}, err
	}
	return updated, nil
}

func (s *Store) getRights(ctx context.Context, t rightsTables, viewer, id int64, notFound error) (Rights, error) {
	a, err := t.loadAccess(ctx, s.db, viewer, id, notFound)
	if err != nil {
		return Rights{}, err
	}
	if !a.readable() {
		return Rights{}, notFound
	}
	if !a.writable() {
		return Rights{}, ErrForbidden
	}
	return t.loadRights(ctx, s.db, id)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func dedupeIDs(in []int64) []int64 {
	seen := make(map[int64]struct{}, len(in))
	out := make([]int64, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
