package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/polydash/ingestion/pkg/db/models"
)

// Store persists stream records in ReplacingMergeTree tables ordered by natural key. Writes are
// plain inserts; duplicates collapse to the row with the newest updated_at on merge, and reads
// use FINAL so callers never observe them.
type Store struct {
	Client
}

// NewStore connects using CLICKHOUSE_ADDR and ensures the database and stream tables exist.
func NewStore(ctx context.Context, logger *zap.Logger, dbName string) (*Store, error) {
	client, err := New(ctx, logger, dbName, DefaultPoolConfig())
	if err != nil {
		return nil, err
	}

	s := &Store{Client: client}
	if err := s.InitializeDB(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) InitializeDB(ctx context.Context) error {
	if err := s.CreateDbIfNotExists(ctx); err != nil {
		return fmt.Errorf("create database %s: %w", s.Database, err)
	}
	for _, stmt := range s.schema() {
		if err := s.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init clickhouse schema: %w", err)
		}
	}
	return nil
}

const provenanceColumns = `
		block_time String,
		block_number Int64,
		transaction_hash String,
		updated_at DateTime64(6)`

func (s *Store) schema() []string {
	engine := "ENGINE = ReplacingMergeTree(updated_at)"
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		question_id String,
		request_timestamp Nullable(String),
		creator Nullable(String),
		ancillary_data Nullable(String),
		ancillary_data_decoded Nullable(String),
		reward_token Nullable(String),
		reward Nullable(String),
		proposal_bond Nullable(String),%s
	) %s ORDER BY question_id`, s.Table(models.QuestionInitializedTable), provenanceColumns, engine),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		condition_id String,
		question_id String,
		outcome_slot_count Nullable(String),
		oracle Nullable(String),%s
	) %s ORDER BY condition_id`, s.Table(models.ConditionPreparationTable), provenanceColumns, engine),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		condition_id String,
		token0 String,
		token1 Nullable(String),%s
	) %s ORDER BY (condition_id, token0)`, s.Table(models.TokenRegisteredTable), provenanceColumns, engine),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		order_hash String,
		maker String,
		taker String,
		maker_asset_id String,
		taker_asset_id String,
		maker_amount_filled String,
		taker_amount_filled String,
		fee Nullable(String),%s
	) %s ORDER BY order_hash`, s.Table(models.OrderFilledTable), provenanceColumns, engine),
	}
}

func (s *Store) InsertTokenRegistered(ctx context.Context, rec *models.TokenRegistration) error {
	err := s.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (
		condition_id, token0, token1, block_time, block_number, transaction_hash, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`, s.Table(models.TokenRegisteredTable)),
		rec.ConditionID, rec.Token0, rec.Token1, rec.BlockTime, rec.BlockNumber, rec.TransactionHash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert token registration %s: %w", rec.ConditionID, err)
	}
	return nil
}

func (s *Store) InsertOrderFilled(ctx context.Context, rec *models.OrderFill) error {
	err := s.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (
		order_hash, maker, taker, maker_asset_id, taker_asset_id,
		maker_amount_filled, taker_amount_filled, fee,
		block_time, block_number, transaction_hash, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.Table(models.OrderFilledTable)),
		rec.OrderHash, rec.Maker, rec.Taker, rec.MakerAssetID, rec.TakerAssetID,
		rec.MakerAmountFilled, rec.TakerAmountFilled, rec.Fee,
		rec.BlockTime, rec.BlockNumber, rec.TransactionHash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert order fill %s: %w", rec.OrderHash, err)
	}
	return nil
}

func (s *Store) InsertConditionPreparation(ctx context.Context, rec *models.ConditionPreparation) error {
	err := s.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (
		condition_id, question_id, outcome_slot_count, oracle,
		block_time, block_number, transaction_hash, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.Table(models.ConditionPreparationTable)),
		rec.ConditionID, rec.QuestionID, rec.OutcomeSlotCount, rec.Oracle,
		rec.BlockTime, rec.BlockNumber, rec.TransactionHash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert condition preparation %s: %w", rec.ConditionID, err)
	}
	return nil
}

func (s *Store) InsertQuestionInitialized(ctx context.Context, rec *models.QuestionInitialization) error {
	err := s.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (
		question_id, request_timestamp, creator, ancillary_data, ancillary_data_decoded,
		reward_token, reward, proposal_bond,
		block_time, block_number, transaction_hash, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.Table(models.QuestionInitializedTable)),
		rec.QuestionID, rec.RequestTimestamp, rec.Creator, rec.AncillaryData, rec.AncillaryDataDecoded,
		rec.RewardToken, rec.Reward, rec.ProposalBond,
		rec.BlockTime, rec.BlockNumber, rec.TransactionHash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert question %s: %w", rec.QuestionID, err)
	}
	return nil
}

func (s *Store) count(ctx context.Context, table, where string) (int64, error) {
	var n uint64
	query := fmt.Sprintf("SELECT count() FROM %s FINAL %s", s.Table(table), where)
	if err := s.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return int64(n), nil
}

func (s *Store) Counts(ctx context.Context) (models.StreamCounts, error) {
	var out models.StreamCounts
	targets := []struct {
		table string
		where string
		dest  *int64
	}{
		{models.TokenRegisteredTable, "", &out.TokenRegistered},
		{models.OrderFilledTable, "", &out.OrderFilled},
		{models.ConditionPreparationTable, "", &out.ConditionPreparation},
		{models.QuestionInitializedTable, "", &out.QuestionInitialized},
		{models.QuestionInitializedTable,
			"WHERE ancillary_data_decoded IS NOT NULL AND ancillary_data_decoded NOT IN ('', 'null')",
			&out.QuestionsDecoded},
	}
	for _, t := range targets {
		n, err := s.count(ctx, t.table, t.where)
		if err != nil {
			return models.StreamCounts{}, err
		}
		*t.dest = n
	}
	return out, nil
}

func (s *Store) AreAllStreamsPopulated(ctx context.Context) (bool, error) {
	counts, err := s.Counts(ctx)
	if err != nil {
		return false, err
	}
	return counts.AllPopulated(), nil
}

func (s *Store) AreStreamsEmpty(ctx context.Context) (bool, error) {
	counts, err := s.Counts(ctx)
	if err != nil {
		return false, err
	}
	return counts.AllEmpty(), nil
}

// Checkpoint forces a merge of every stream table so replaced rows are physically collapsed.
func (s *Store) Checkpoint(ctx context.Context) (string, error) {
	failed := 0
	var lastErr error
	for _, table := range models.Tables {
		if err := s.Exec(ctx, fmt.Sprintf("OPTIMIZE TABLE %s FINAL", s.Table(table))); err != nil {
			s.Logger.Warn("OPTIMIZE FINAL failed", zap.String("table", table), zap.Error(err))
			failed++
			lastErr = err
		}
	}
	if failed > 0 {
		return fmt.Sprintf("failed_%d", failed), fmt.Errorf("optimize tables: %w", lastErr)
	}
	return "success", nil
}

func (s *Store) Ping(ctx context.Context) error { return s.Db.Ping(ctx) }

func (s *Store) Driver() string { return "clickhouse" }

func (s *Store) Location() string { return s.Database }
