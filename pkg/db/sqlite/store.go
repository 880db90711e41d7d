package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/polydash/ingestion/pkg/db/models"
)

// DefaultPath is where the database file lives when SQLITE_PATH is unset.
const DefaultPath = "data/polymarket.db"

// Store persists stream records in a single SQLite file running in WAL mode, which lets the
// initial sync tasks write concurrently while readers keep working.
type Store struct {
	Logger *zap.Logger
	Db     *sql.DB
	Path   string
}

// Open creates the parent directory if needed, opens the database in WAL mode and ensures the schema.
func Open(ctx context.Context, logger *zap.Logger, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	conn.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{Logger: logger, Db: conn, Path: path}
	if err := s.InitializeDB(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Info("SQLite store ready", zap.String("path", path))
	return s, nil
}

// InitializeDB creates the stream tables when missing.
func (s *Store) InitializeDB(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.Db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS question_initialized_events (
		question_id TEXT PRIMARY KEY,
		request_timestamp TEXT,
		creator TEXT,
		ancillary_data TEXT,
		ancillary_data_decoded TEXT,
		reward_token TEXT,
		reward TEXT,
		proposal_bond TEXT,
		block_time TEXT NOT NULL,
		block_number INTEGER NOT NULL,
		transaction_hash TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS condition_preparation_events (
		condition_id TEXT PRIMARY KEY,
		question_id TEXT NOT NULL,
		outcome_slot_count TEXT,
		oracle TEXT,
		block_time TEXT NOT NULL,
		block_number INTEGER NOT NULL,
		transaction_hash TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_condition_preparation_question ON condition_preparation_events(question_id)`,
	`CREATE TABLE IF NOT EXISTS token_registered_events (
		condition_id TEXT NOT NULL,
		token0 TEXT NOT NULL DEFAULT '',
		token1 TEXT,
		block_time TEXT NOT NULL,
		block_number INTEGER NOT NULL,
		transaction_hash TEXT NOT NULL,
		PRIMARY KEY (condition_id, token0)
	)`,
	`CREATE TABLE IF NOT EXISTS order_filled_events (
		order_hash TEXT PRIMARY KEY,
		maker TEXT NOT NULL,
		taker TEXT NOT NULL,
		maker_asset_id TEXT NOT NULL,
		taker_asset_id TEXT NOT NULL,
		maker_amount_filled TEXT NOT NULL,
		taker_amount_filled TEXT NOT NULL,
		fee TEXT,
		block_time TEXT NOT NULL,
		block_number INTEGER NOT NULL,
		transaction_hash TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_filled_block ON order_filled_events(block_number)`,
}

func (s *Store) InsertTokenRegistered(ctx context.Context, rec *models.TokenRegistration) error {
	_, err := s.Db.ExecContext(ctx, `
		INSERT INTO token_registered_events (
			condition_id, token0, token1, block_time, block_number, transaction_hash
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (condition_id, token0) DO UPDATE SET
			token1 = excluded.token1,
			block_time = excluded.block_time,
			block_number = excluded.block_number,
			transaction_hash = excluded.transaction_hash`,
		rec.ConditionID, rec.Token0, rec.Token1, rec.BlockTime, rec.BlockNumber, rec.TransactionHash,
	)
	if err != nil {
		return fmt.Errorf("upsert token registration %s: %w", rec.ConditionID, err)
	}
	return nil
}

func (s *Store) InsertOrderFilled(ctx context.Context, rec *models.OrderFill) error {
	_, err := s.Db.ExecContext(ctx, `
		INSERT INTO order_filled_events (
			order_hash, maker, taker, maker_asset_id, taker_asset_id,
			maker_amount_filled, taker_amount_filled, fee,
			block_time, block_number, transaction_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_hash) DO UPDATE SET
			maker = excluded.maker,
			taker = excluded.taker,
			maker_asset_id = excluded.maker_asset_id,
			taker_asset_id = excluded.taker_asset_id,
			maker_amount_filled = excluded.maker_amount_filled,
			taker_amount_filled = excluded.taker_amount_filled,
			fee = excluded.fee,
			block_time = excluded.block_time,
			block_number = excluded.block_number,
			transaction_hash = excluded.transaction_hash`,
		rec.OrderHash, rec.Maker, rec.Taker, rec.MakerAssetID, rec.TakerAssetID,
		rec.MakerAmountFilled, rec.TakerAmountFilled, rec.Fee,
		rec.BlockTime, rec.BlockNumber, rec.TransactionHash,
	)
	if err != nil {
		return fmt.Errorf("upsert order fill %s: %w", rec.OrderHash, err)
	}
	return nil
}

func (s *Store) InsertConditionPreparation(ctx context.Context, rec *models.ConditionPreparation) error {
	_, err := s.Db.ExecContext(ctx, `
		INSERT INTO condition_preparation_events (
			condition_id, question_id, outcome_slot_count, oracle,
			block_time, block_number, transaction_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (condition_id) DO UPDATE SET
			question_id = excluded.question_id,
			outcome_slot_count = excluded.outcome_slot_count,
			oracle = excluded.oracle,
			block_time = excluded.block_time,
			block_number = excluded.block_number,
			transaction_hash = excluded.transaction_hash`,
		rec.ConditionID, rec.QuestionID, rec.OutcomeSlotCount, rec.Oracle,
		rec.BlockTime, rec.BlockNumber, rec.TransactionHash,
	)
	if err != nil {
		return fmt.Errorf("upsert condition preparation %s: %w", rec.ConditionID, err)
	}
	return nil
}

func (s *Store) InsertQuestionInitialized(ctx context.Context, rec *models.QuestionInitialization) error {
	_, err := s.Db.ExecContext(ctx, `
		INSERT INTO question_initialized_events (
			question_id, request_timestamp, creator, ancillary_data, ancillary_data_decoded,
			reward_token, reward, proposal_bond,
			block_time, block_number, transaction_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (question_id) DO UPDATE SET
			request_timestamp = excluded.request_timestamp,
			creator = excluded.creator,
			ancillary_data = excluded.ancillary_data,
			ancillary_data_decoded = excluded.ancillary_data_decoded,
			reward_token = excluded.reward_token,
			reward = excluded.reward,
			proposal_bond = excluded.proposal_bond,
			block_time = excluded.block_time,
			block_number = excluded.block_number,
			transaction_hash = excluded.transaction_hash`,
		rec.QuestionID, rec.RequestTimestamp, rec.Creator, rec.AncillaryData, rec.AncillaryDataDecoded,
		rec.RewardToken, rec.Reward, rec.ProposalBond,
		rec.BlockTime, rec.BlockNumber, rec.TransactionHash,
	)
	if err != nil {
		return fmt.Errorf("upsert question %s: %w", rec.QuestionID, err)
	}
	return nil
}

// Counts returns the row count of every stream table.
func (s *Store) Counts(ctx context.Context) (models.StreamCounts, error) {
	var out models.StreamCounts
	targets := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM token_registered_events", &out.TokenRegistered},
		{"SELECT COUNT(*) FROM order_filled_events", &out.OrderFilled},
		{"SELECT COUNT(*) FROM condition_preparation_events", &out.ConditionPreparation},
		{"SELECT COUNT(*) FROM question_initialized_events", &out.QuestionInitialized},
		{`SELECT COUNT(*) FROM question_initialized_events
			WHERE ancillary_data_decoded IS NOT NULL
				AND ancillary_data_decoded != ''
				AND ancillary_data_decoded != 'null'`, &out.QuestionsDecoded},
	}
	for _, t := range targets {
		if err := s.Db.QueryRowContext(ctx, t.query).Scan(t.dest); err != nil {
			return models.StreamCounts{}, fmt.Errorf("count rows: %w", err)
		}
	}
	return out, nil
}

func (s *Store) AreAllStreamsPopulated(ctx context.Context) (bool, error) {
	for _, table := range models.Tables {
		has, err := s.hasRows(ctx, table)
		if err != nil {
			return false, err
		}
		if !has {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) AreStreamsEmpty(ctx context.Context) (bool, error) {
	for _, table := range models.Tables {
		has, err := s.hasRows(ctx, table)
		if err != nil {
			return false, err
		}
		if has {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) hasRows(ctx context.Context, table string) (bool, error) {
	var exists int
	// table names come from models.Tables, never from input
	err := s.Db.QueryRowContext(ctx, fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s LIMIT 1)", table)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check rows in %s: %w", table, err)
	}
	return exists == 1, nil
}

// Checkpoint folds the WAL into the main database file. TRUNCATE is tried first; when readers
// keep it busy, RESTART is used as a fallback.
func (s *Store) Checkpoint(ctx context.Context) (string, error) {
	busy, err := s.walCheckpoint(ctx, "TRUNCATE")
	if err != nil {
		return "error", err
	}
	if busy == 0 {
		return "success", nil
	}

	s.Logger.Warn("WAL checkpoint busy, retrying in RESTART mode", zap.Int("busy", busy))
	restartBusy, err := s.walCheckpoint(ctx, "RESTART")
	if err != nil {
		return "error", err
	}
	if restartBusy == 0 {
		return "restart_success", nil
	}
	return fmt.Sprintf("failed_%d", busy), fmt.Errorf("wal checkpoint busy (%d)", restartBusy)
}

func (s *Store) walCheckpoint(ctx context.Context, mode string) (int, error) {
	var busy, logFrames, checkpointed int
	row := s.Db.QueryRowContext(ctx, fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode))
	if err := row.Scan(&busy, &logFrames, &checkpointed); err != nil {
		return 0, fmt.Errorf("wal_checkpoint(%s): %w", mode, err)
	}
	return busy, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.Db.PingContext(ctx) }

func (s *Store) Driver() string { return "sqlite" }

func (s *Store) Location() string { return s.Path }

func (s *Store) Close() error { return s.Db.Close() }
