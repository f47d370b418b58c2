// Package sqlite provides the SQLite-backed world storage implementation.
// It is the durable source of truth on restart.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/tinymud/tinymud/internal/model"
	"github.com/tinymud/tinymud/internal/storage"
)

// Store persists world state in SQLite
type Store struct {
	db *sql.DB
}

// Ensure Store implements the interface
var _ storage.Store = (*Store)(nil)

// Open opens a SQLite world store and applies embedded migrations
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the SQLite handle
func (s *Store) Close() error {
	return s.db.Close()
}

// User operations

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, roles) VALUES (?, ?, ?, ?)`,
		string(user.ID), user.Username, user.PasswordHash, int(user.Roles),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrUsernameTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id model.UserID) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, roles FROM users WHERE id = ?`, string(id))
	return scanUser(row)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, roles FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*model.User, error) {
	var user model.User
	var id string
	var roles int
	err := row.Scan(&id, &user.Username, &user.PasswordHash, &roles)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	user.ID = model.UserID(id)
	user.Roles = model.Roles(roles)
	return &user, nil
}

func (s *Store) UpdateUser(ctx context.Context, user *model.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, roles = ? WHERE id = ?`,
		user.PasswordHash, int(user.Roles), string(user.ID),
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return requireRow(res, model.ErrUserNotFound)
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// Character operations

func (s *Store) CreateCharacter(ctx context.Context, c *model.Character) error {
	inventory, err := marshalInventory(c.Inventory)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO characters (id, user_id, name, place_address, inventory) VALUES (?, ?, ?, ?, ?)`,
		string(c.ID), string(c.UserID), c.Name, string(c.PlaceAddress), inventory,
	)
	if err != nil {
		return fmt.Errorf("create character: %w", err)
	}
	return nil
}

func (s *Store) GetCharacter(ctx context.Context, id model.CharacterID) (*model.Character, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, place_address, inventory FROM characters WHERE id = ?`, string(id))
	var c model.Character
	var cid, uid, addr string
	var inventory sql.NullString
	err := row.Scan(&cid, &uid, &c.Name, &addr, &inventory)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrCharacterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan character: %w", err)
	}
	c.ID = model.CharacterID(cid)
	c.UserID = model.UserID(uid)
	c.PlaceAddress = model.Address(addr)
	if c.Inventory, err = unmarshalInventory(inventory); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateCharacter(ctx context.Context, c *model.Character) error {
	inventory, err := marshalInventory(c.Inventory)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE characters SET name = ?, place_address = ?, inventory = ? WHERE id = ?`,
		c.Name, string(c.PlaceAddress), inventory, string(c.ID),
	)
	if err != nil {
		return fmt.Errorf("update character: %w", err)
	}
	return requireRow(res, model.ErrCharacterNotFound)
}

func (s *Store) ListCharacters(ctx context.Context, filter storage.Filter) ([]*model.Character, error) {
	where, args, err := buildWhere(filter, map[string]string{
		storage.FieldUserID:       "user_id",
		storage.FieldPlaceAddress: "place_address",
	})
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, place_address, inventory FROM characters`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()

	var result []*model.Character
	for rows.Next() {
		var c model.Character
		var cid, uid, addr string
		var inventory sql.NullString
		if err := rows.Scan(&cid, &uid, &c.Name, &addr, &inventory); err != nil {
			return nil, fmt.Errorf("scan character: %w", err)
		}
		c.ID = model.CharacterID(cid)
		c.UserID = model.UserID(uid)
		c.PlaceAddress = model.Address(addr)
		if c.Inventory, err = unmarshalInventory(inventory); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}
	return result, rows.Err()
}

// Place operations

func (s *Store) CreatePlace(ctx context.Context, p *model.Place) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO places (address, title, header) VALUES (?, ?, ?)`,
			string(p.Address), p.Title, p.Header,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return model.ErrPlaceExists
			}
			return fmt.Errorf("create place: %w", err)
		}
		return insertPassages(ctx, tx, p)
	})
}

func (s *Store) GetPlace(ctx context.Context, addr model.Address) (*model.Place, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT address, title, header FROM places WHERE address = ?`, string(addr))
	var p model.Place
	var address string
	err := row.Scan(&address, &p.Title, &p.Header)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrPlaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan place: %w", err)
	}
	p.Address = model.Address(address)
	if p.Passages, err = s.loadPassages(ctx, p.Address); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePlace replaces the place row and its whole passage set in one
// transaction; the passage list is a set, not a diffable sequence.
func (s *Store) UpdatePlace(ctx context.Context, p *model.Place) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE places SET title = ?, header = ? WHERE address = ?`,
			p.Title, p.Header, string(p.Address),
		)
		if err != nil {
			return fmt.Errorf("update place: %w", err)
		}
		if err := requireRow(res, model.ErrPlaceNotFound); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM passages WHERE place_address = ?`, string(p.Address)); err != nil {
			return fmt.Errorf("clear passages: %w", err)
		}
		return insertPassages(ctx, tx, p)
	})
}

func (s *Store) DeletePlace(ctx context.Context, addr model.Address) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM passages WHERE place_address = ?`, string(addr)); err != nil {
			return fmt.Errorf("delete passages: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM places WHERE address = ?`, string(addr))
		if err != nil {
			return fmt.Errorf("delete place: %w", err)
		}
		return requireRow(res, model.ErrPlaceNotFound)
	})
}

func (s *Store) ListPlaces(ctx context.Context, filter storage.Filter) ([]*model.Place, error) {
	where, args, err := buildWhere(filter, map[string]string{
		storage.FieldPlaceAddress: "address",
	})
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT address, title, header FROM places`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list places: %w", err)
	}
	defer rows.Close()

	var result []*model.Place
	for rows.Next() {
		var p model.Place
		var address string
		if err := rows.Scan(&address, &p.Title, &p.Header); err != nil {
			return nil, fmt.Errorf("scan place: %w", err)
		}
		p.Address = model.Address(address)
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, p := range result {
		if p.Passages, err = s.loadPassages(ctx, p.Address); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) loadPassages(ctx context.Context, addr model.Address) ([]model.Passage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_address, name, hidden FROM passages WHERE place_address = ? ORDER BY target_address`,
		string(addr))
	if err != nil {
		return nil, fmt.Errorf("load passages: %w", err)
	}
	defer rows.Close()

	var passages []model.Passage
	for rows.Next() {
		var pass model.Passage
		var target string
		var name sql.NullString
		var hidden int
		if err := rows.Scan(&target, &name, &hidden); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		pass.TargetAddress = model.Address(target)
		pass.Name = name.String
		pass.Hidden = hidden != 0
		passages = append(passages, pass)
	}
	return passages, rows.Err()
}

func insertPassages(ctx context.Context, tx *sql.Tx, p *model.Place) error {
	for _, pass := range p.Passages {
		var name any
		if pass.Name != "" {
			name = pass.Name
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO passages (place_address, target_address, name, hidden) VALUES (?, ?, ?, ?)`,
			string(p.Address), string(pass.TargetAddress), name, boolToInt(pass.Hidden),
		); err != nil {
			return fmt.Errorf("insert passage: %w", err)
		}
	}
	return nil
}

// Helpers

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// buildWhere translates a declarative filter into a parameterized
// WHERE clause. Field names go through the columns allowlist, so they
// never reach SQL as raw input.
func buildWhere(filter storage.Filter, columns map[string]string) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	var clauses []string
	var args []any
	for _, cond := range filter {
		column, ok := columns[cond.Field]
		if !ok {
			return "", nil, storage.ErrBadFilter{Field: cond.Field, Op: cond.Op}
		}
		switch cond.Op {
		case storage.OpEq:
			clauses = append(clauses, column+" = ?")
			args = append(args, flattenValue(cond.Value))
		case storage.OpIn:
			placeholders := make([]string, len(cond.Values))
			for i, v := range cond.Values {
				placeholders[i] = "?"
				args = append(args, flattenValue(v))
			}
			clauses = append(clauses, column+" IN ("+strings.Join(placeholders, ", ")+")")
		default:
			return "", nil, storage.ErrBadFilter{Field: cond.Field, Op: cond.Op}
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func flattenValue(v any) any {
	switch s := v.(type) {
	case model.UserID:
		return string(s)
	case model.CharacterID:
		return string(s)
	case model.Address:
		return string(s)
	default:
		return v
	}
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalInventory(items []model.ItemRef) (any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal inventory: %w", err)
	}
	return string(data), nil
}

func unmarshalInventory(raw sql.NullString) ([]model.ItemRef, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var items []model.ItemRef
	if err := json.Unmarshal([]byte(raw.String), &items); err != nil {
		return nil, fmt.Errorf("unmarshal inventory: %w", err)
	}
	return items, nil
}
