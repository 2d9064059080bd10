package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/rl1809/pcb-inventory/internal/core/domain"
	"github.com/rl1809/pcb-inventory/internal/port"
)

//go:embed schema.sql
var schema string

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the tables if they do not exist.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) GetBoard(ctx context.Context, boardID int64) (*domain.Board, error) {
	var b domain.Board
	err := m.db.QueryRowContext(ctx, `SELECT id, name FROM boards WHERE id = ?`, boardID).Scan(&b.ID, &b.Name)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query board: %w", err)
	}
	return &b, nil
}

func (m *MySQLAdapter) ListProductionEntries(ctx context.Context, limit int) ([]domain.ProductionEntry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT pe.id, pe.board_id, COALESCE(b.name, ''), pe.quantity_produced, pe.created_at
		FROM production_entries pe
		LEFT JOIN boards b ON b.id = pe.board_id
		ORDER BY pe.created_at DESC, pe.id DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query production entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.ProductionEntry
	for rows.Next() {
		var e domain.ProductionEntry
		if err := rows.Scan(&e.ID, &e.BoardID, &e.BoardName, &e.QuantityProduced, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan production entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate production entries: %w", err)
	}
	return entries, nil
}

// WithinTx runs fn in a READ COMMITTED transaction. Component holds are
// InnoDB row locks taken by SELECT ... FOR UPDATE and released on commit or
// rollback.
func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) BOMEntries(ctx context.Context, boardID int64) ([]domain.BOMEntry, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT board_id, component_id, quantity_required
		FROM bom_entries WHERE board_id = ?
		ORDER BY id`, boardID,
	)
	if err != nil {
		return nil, fmt.Errorf("query bom: %w", err)
	}
	defer rows.Close()

	var entries []domain.BOMEntry
	for rows.Next() {
		var e domain.BOMEntry
		if err := rows.Scan(&e.BoardID, &e.ComponentID, &e.QuantityRequired); err != nil {
			return nil, fmt.Errorf("scan bom: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bom: %w", err)
	}
	return entries, nil
}

func (t *mysqlTx) LockComponent(ctx context.Context, componentID int64) (*domain.Component, error) {
	var c domain.Component
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, part_number, current_stock, monthly_required_quantity, created_at, updated_at
		FROM components WHERE id = ? FOR UPDATE`, componentID,
	).Scan(&c.ID, &c.Name, &c.PartNumber, &c.CurrentStock, &c.MonthlyRequiredQuantity, &c.CreatedAt, &c.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock component: %w", err)
	}
	return &c, nil
}

// DeductStock relies on the row lock taken by LockComponent. A zero quantity
// writes nothing: the driver reports changed rows, and an UPDATE that changes
// nothing would look like a failed stock guard.
func (t *mysqlTx) DeductStock(ctx context.Context, componentID int64, quantity int) error {
	if quantity < 0 {
		return ErrNegativeQty
	}
	if quantity == 0 {
		return nil
	}

	result, err := t.tx.ExecContext(ctx, `
		UPDATE components
		SET current_stock = current_stock - ?, updated_at = NOW()
		WHERE id = ? AND current_stock >= ?`,
		quantity, componentID, quantity,
	)
	if err != nil {
		return fmt.Errorf("update component: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrStockGuard
	}
	return nil
}

func (t *mysqlTx) InsertProductionEntry(ctx context.Context, entry domain.ProductionEntry) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO production_entries (board_id, quantity_produced, created_at)
		VALUES (?, ?, ?)`,
		entry.BoardID, entry.QuantityProduced, entry.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert production entry: %w", err)
	}
	return result.LastInsertId()
}

func (t *mysqlTx) InsertConsumptionRecord(ctx context.Context, record domain.ConsumptionRecord) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO consumption_records (production_entry_id, component_id, board_id, quantity_used, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		record.ProductionEntryID, record.ComponentID, record.BoardID, record.QuantityUsed, record.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert consumption record: %w", err)
	}
	return result.LastInsertId()
}

func (t *mysqlTx) HasOpenTrigger(ctx context.Context, componentID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM procurement_triggers WHERE component_id = ? AND status = 'OPEN')`,
		componentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query open trigger: %w", err)
	}
	return exists, nil
}

func (t *mysqlTx) OpenTrigger(ctx context.Context, componentID int64) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO procurement_triggers (component_id, status) VALUES (?, 'OPEN')`,
		componentID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert trigger: %w", err)
	}
	return result.LastInsertId()
}
