// Package postgres implements the store contract on PostgreSQL via
// pgx. Row locks are plain SELECT ... FOR UPDATE; transactions run at
// repeatable read.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/quotaops/internal/models"
	"github.com/punchamoorthee/quotaops/internal/quota"
	"github.com/punchamoorthee/quotaops/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *pgxpool.Pool
}

// New opens a connection pool and verifies connectivity.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &Store{db: pool}, nil
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, fn)
}

func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, fn func(store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type pgTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.ErrExists
	}
	return err
}

// affected converts a zero-row write into ErrNotFound.
func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func limitArg(l quota.Limit) interface{} {
	if !l.Valid {
		return nil
	}
	return l.Value
}

func limitOf(v *int64) quota.Limit {
	if v == nil {
		return quota.Unlimited()
	}
	return quota.L(*v)
}

func (t *pgTx) GetEntity(name string) (*models.Entity, error) {
	e := models.Entity{Name: name}
	err := t.tx.QueryRow(t.ctx,
		"SELECT owner, key FROM entities WHERE entity = $1", name,
	).Scan(&e.Owner, &e.Key)
	if err != nil {
		return nil, mapErr(err)
	}
	return &e, nil
}

func (t *pgTx) InsertEntity(e *models.Entity) error {
	_, err := t.tx.Exec(t.ctx,
		"INSERT INTO entities (entity, owner, key) VALUES ($1, $2, $3)",
		e.Name, e.Owner, e.Key)
	return mapErr(err)
}

func (t *pgTx) UpdateEntity(e *models.Entity) error {
	return affected(t.tx.Exec(t.ctx,
		"UPDATE entities SET owner = $2, key = $3 WHERE entity = $1",
		e.Name, e.Owner, e.Key))
}

func (t *pgTx) DeleteEntity(name string) error {
	return affected(t.tx.Exec(t.ctx,
		"DELETE FROM entities WHERE entity = $1", name))
}

func (t *pgTx) ListChildren(owner string) ([]string, error) {
	rows, err := t.tx.Query(t.ctx,
		"SELECT entity FROM entities WHERE owner = $1 AND entity <> $1 ORDER BY entity", owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var children []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		children = append(children, name)
	}
	return children, rows.Err()
}

func (t *pgTx) GetPolicy(name string) (*models.Policy, error) {
	p := models.Policy{Name: name}
	var quantity, capacity, importLimit, exportLimit *int64
	err := t.tx.QueryRow(t.ctx,
		"SELECT quantity, capacity, import_limit, export_limit, refcount FROM policies WHERE policy = $1",
		name,
	).Scan(&quantity, &capacity, &importLimit, &exportLimit, &p.RefCount)
	if err != nil {
		return nil, mapErr(err)
	}
	p.Quantity = limitOf(quantity)
	p.Capacity = limitOf(capacity)
	p.ImportLimit = limitOf(importLimit)
	p.ExportLimit = limitOf(exportLimit)
	return &p, nil
}

func (t *pgTx) InsertPolicy(p *models.Policy) error {
	_, err := t.tx.Exec(t.ctx,
		"INSERT INTO policies (policy, quantity, capacity, import_limit, export_limit, refcount) VALUES ($1, $2, $3, $4, $5, $6)",
		p.Name, limitArg(p.Quantity), limitArg(p.Capacity),
		limitArg(p.ImportLimit), limitArg(p.ExportLimit), p.RefCount)
	return mapErr(err)
}

func (t *pgTx) UpdatePolicy(p *models.Policy) error {
	return affected(t.tx.Exec(t.ctx,
		"UPDATE policies SET quantity = $2, capacity = $3, import_limit = $4, export_limit = $5, refcount = $6 WHERE policy = $1",
		p.Name, limitArg(p.Quantity), limitArg(p.Capacity),
		limitArg(p.ImportLimit), limitArg(p.ExportLimit), p.RefCount))
}

func (t *pgTx) DeletePolicy(name string) error {
	return affected(t.tx.Exec(t.ctx,
		"DELETE FROM policies WHERE policy = $1", name))
}

const holdingColumns = `policy, flags, imported, importing, exported, exporting, returned, "returning", released, releasing`

func (t *pgTx) GetHolding(entity, resource string, lock bool) (*models.Holding, error) {
	q := "SELECT " + holdingColumns + " FROM holdings WHERE entity = $1 AND resource = $2"
	if lock {
		q += " FOR UPDATE"
	}
	h := models.Holding{Entity: entity, Resource: resource}
	err := t.tx.QueryRow(t.ctx, q, entity, resource).Scan(
		&h.Policy, &h.Flags,
		&h.Imported, &h.Importing, &h.Exported, &h.Exporting,
		&h.Returned, &h.Returning, &h.Released, &h.Releasing)
	if err != nil {
		return nil, mapErr(err)
	}
	return &h, nil
}

func (t *pgTx) InsertHolding(h *models.Holding) error {
	_, err := t.tx.Exec(t.ctx,
		"INSERT INTO holdings (entity, resource, "+holdingColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)",
		h.Entity, h.Resource, h.Policy, h.Flags,
		h.Imported, h.Importing, h.Exported, h.Exporting,
		h.Returned, h.Returning, h.Released, h.Releasing)
	return mapErr(err)
}

func (t *pgTx) UpdateHolding(h *models.Holding) error {
	return affected(t.tx.Exec(t.ctx,
		`UPDATE holdings SET policy = $3, flags = $4,
		   imported = $5, importing = $6, exported = $7, exporting = $8,
		   returned = $9, "returning" = $10, released = $11, releasing = $12
		 WHERE entity = $1 AND resource = $2`,
		h.Entity, h.Resource, h.Policy, h.Flags,
		h.Imported, h.Importing, h.Exported, h.Exporting,
		h.Returned, h.Returning, h.Released, h.Releasing))
}

func (t *pgTx) DeleteHolding(entity, resource string) error {
	return affected(t.tx.Exec(t.ctx,
		"DELETE FROM holdings WHERE entity = $1 AND resource = $2", entity, resource))
}

func (t *pgTx) ListHoldings(entity string) ([]models.Holding, error) {
	rows, err := t.tx.Query(t.ctx,
		"SELECT resource, "+holdingColumns+" FROM holdings WHERE entity = $1 ORDER BY resource", entity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []models.Holding
	for rows.Next() {
		h := models.Holding{Entity: entity}
		err := rows.Scan(&h.Resource, &h.Policy, &h.Flags,
			&h.Imported, &h.Importing, &h.Exported, &h.Exporting,
			&h.Returned, &h.Returning, &h.Released, &h.Releasing)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (t *pgTx) EntityHasHoldings(entity string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(t.ctx,
		"SELECT EXISTS(SELECT 1 FROM holdings WHERE entity = $1)", entity).Scan(&exists)
	return exists, err
}

func (t *pgTx) ResourceHeldBy(entities []string, resource string) (bool, error) {
	if len(entities) == 0 {
		return false, nil
	}
	var exists bool
	err := t.tx.QueryRow(t.ctx,
		"SELECT EXISTS(SELECT 1 FROM holdings WHERE entity = ANY($1) AND resource = $2)",
		entities, resource).Scan(&exists)
	return exists, err
}

func (t *pgTx) NextSerial() (int64, error) {
	var serial int64
	err := t.tx.QueryRow(t.ctx, "SELECT nextval('commission_serial')").Scan(&serial)
	return serial, err
}

func (t *pgTx) InsertCommission(c *models.Commission) error {
	_, err := t.tx.Exec(t.ctx,
		"INSERT INTO commissions (serial, target, clientkey, name, issue_time) VALUES ($1, $2, $3, $4, $5)",
		c.Serial, c.Target, c.ClientKey, c.Name, c.IssueTime)
	return mapErr(err)
}

func (t *pgTx) GetCommission(serial int64) (*models.Commission, error) {
	c := models.Commission{Serial: serial}
	err := t.tx.QueryRow(t.ctx,
		"SELECT target, clientkey, name, issue_time FROM commissions WHERE serial = $1",
		serial,
	).Scan(&c.Target, &c.ClientKey, &c.Name, &c.IssueTime)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (t *pgTx) DeleteCommission(serial int64) error {
	return affected(t.tx.Exec(t.ctx,
		"DELETE FROM commissions WHERE serial = $1", serial))
}

func (t *pgTx) PendingSerials(clientKey string) ([]int64, error) {
	rows, err := t.tx.Query(t.ctx,
		"SELECT serial FROM commissions WHERE clientkey = $1 ORDER BY serial", clientKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var serials []int64
	for rows.Next() {
		var serial int64
		if err := rows.Scan(&serial); err != nil {
			return nil, err
		}
		serials = append(serials, serial)
	}
	return serials, rows.Err()
}

func (t *pgTx) InsertProvision(p *models.Provision) error {
	_, err := t.tx.Exec(t.ctx,
		"INSERT INTO provisions (serial, entity, resource, quantity) VALUES ($1, $2, $3, $4)",
		p.Serial, p.Source, p.Resource, p.Quantity)
	return mapErr(err)
}

func (t *pgTx) Provisions(serial int64) ([]models.Provision, error) {
	rows, err := t.tx.Query(t.ctx,
		"SELECT entity, resource, quantity FROM provisions WHERE serial = $1", serial)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var provs []models.Provision
	for rows.Next() {
		p := models.Provision{Serial: serial}
		if err := rows.Scan(&p.Source, &p.Resource, &p.Quantity); err != nil {
			return nil, err
		}
		provs = append(provs, p)
	}
	return provs, rows.Err()
}

func (t *pgTx) DeleteProvisions(serial int64) error {
	_, err := t.tx.Exec(t.ctx, "DELETE FROM provisions WHERE serial = $1", serial)
	return err
}

func (t *pgTx) AppendLog(l *models.ProvisionLog) error {
	source, err := json.Marshal(l.Source)
	if err != nil {
		return err
	}
	target, err := json.Marshal(l.Target)
	if err != nil {
		return err
	}
	return t.tx.QueryRow(t.ctx,
		`INSERT INTO provision_log (serial, name, resource, quantity, source, target, issue_time, log_time, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		l.Serial, l.Name, l.Resource, l.Quantity, source, target,
		l.IssueTime, l.LogTime, l.Reason,
	).Scan(&l.ID)
}

func (t *pgTx) ScanLog(after, before time.Time, offset, limit int) ([]models.ProvisionLog, error) {
	rows, err := t.tx.Query(t.ctx,
		`SELECT id, serial, name, resource, quantity, source, target, issue_time, log_time, reason
		 FROM provision_log WHERE log_time > $1 AND log_time <= $2
		 ORDER BY log_time, id OFFSET $3 LIMIT $4`,
		after, before, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ProvisionLog
	for rows.Next() {
		var l models.ProvisionLog
		var source, target []byte
		err := rows.Scan(&l.ID, &l.Serial, &l.Name, &l.Resource, &l.Quantity,
			&source, &target, &l.IssueTime, &l.LogTime, &l.Reason)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(source, &l.Source); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(target, &l.Target); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (t *pgTx) GetCallSerial(clientKey string, serial int64) (*models.CallSerial, error) {
	cs := models.CallSerial{ClientKey: clientKey, Serial: serial}
	var args []byte
	err := t.tx.QueryRow(t.ctx,
		"SELECT args, applied FROM call_serials WHERE clientkey = $1 AND serial = $2",
		clientKey, serial,
	).Scan(&args, &cs.Applied)
	if err != nil {
		return nil, mapErr(err)
	}
	cs.Args = args
	return &cs, nil
}

func (t *pgTx) InsertCallSerial(cs *models.CallSerial) error {
	_, err := t.tx.Exec(t.ctx,
		"INSERT INTO call_serials (clientkey, serial, args, applied) VALUES ($1, $2, $3, $4)",
		cs.ClientKey, cs.Serial, []byte(cs.Args), cs.Applied)
	return mapErr(err)
}

func (t *pgTx) DeleteCallSerial(clientKey string, serial int64) error {
	return affected(t.tx.Exec(t.ctx,
		"DELETE FROM call_serials WHERE clientkey = $1 AND serial = $2", clientKey, serial))
}
