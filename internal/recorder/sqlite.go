package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"index-rebalancer/rebalance"
)

// SQLiteRecorder 把回执写入 trades 表。数量以十进制整数字符串保存，避免精度损失。
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id              TEXT PRIMARY KEY,
			index_addr      TEXT NOT NULL,
			component       TEXT NOT NULL,
			is_sell         INTEGER NOT NULL,
			sent_token      TEXT NOT NULL,
			sent_amount     TEXT NOT NULL,
			received_token  TEXT NOT NULL,
			received_amount TEXT NOT NULL,
			exchange        TEXT NOT NULL,
			remaining       TEXT NOT NULL,
			timestamp       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_index_ts ON trades(index_addr, timestamp)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:30], err)
		}
	}
	return nil
}

// OnTrade 写入一条回执。
func (r *SQLiteRecorder) OnTrade(ctx context.Context, t rebalance.TradeReceipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT INTO trades
		(id, index_addr, component, is_sell, sent_token, sent_amount,
		 received_token, received_amount, exchange, remaining, timestamp)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Index.Hex(), t.Component.Hex(), t.IsSell,
		t.SentToken.Hex(), amount(t.SentAmount),
		t.ReceivedToken.Hex(), amount(t.ReceivedAmount),
		t.Exchange, amount(t.Remaining), t.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record trade %s: %w", t.ID, err)
	}
	return nil
}

// Trades 按时间倒序返回指数最近的 limit 条回执。
func (r *SQLiteRecorder) Trades(ctx context.Context, index common.Address, limit int) ([]rebalance.TradeReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `SELECT
		id, index_addr, component, is_sell, sent_token, sent_amount,
		received_token, received_amount, exchange, remaining, timestamp
		FROM trades WHERE index_addr = ? ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		index.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []rebalance.TradeReceipt
	for rows.Next() {
		var (
			t                           rebalance.TradeReceipt
			idx, comp, sentTok, recvTok string
			sentAmt, recvAmt, remaining string
			ts                          int64
		)
		if err := rows.Scan(&t.ID, &idx, &comp, &t.IsSell, &sentTok, &sentAmt,
			&recvTok, &recvAmt, &t.Exchange, &remaining, &ts); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Index = common.HexToAddress(idx)
		t.Component = common.HexToAddress(comp)
		t.SentToken = common.HexToAddress(sentTok)
		t.ReceivedToken = common.HexToAddress(recvTok)
		if t.SentAmount, err = parseAmount(sentAmt); err != nil {
			return nil, err
		}
		if t.ReceivedAmount, err = parseAmount(recvAmt); err != nil {
			return nil, err
		}
		if t.Remaining, err = parseAmount(remaining); err != nil {
			return nil, err
		}
		t.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt amount %q", s)
	}
	return v, nil
}
