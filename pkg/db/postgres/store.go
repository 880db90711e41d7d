package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/polydash/ingestion/pkg/db/models"
)

// Store persists stream records in PostgreSQL. Amounts and block times stay TEXT so values the
// source emits in unexpected shapes are stored rather than rejected.
type Store struct {
	Client
}

// NewStore connects using POSTGRES_URL and ensures the stream tables exist.
func NewStore(ctx context.Context, logger *zap.Logger) (*Store, error) {
	client, err := New(ctx, logger, DefaultPoolConfig())
	if err != nil {
		return nil, err
	}

	s := &Store{Client: client}
	if err := s.InitializeDB(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// InitializeDB creates tables and indexes inside a single transaction.
func (s *Store) InitializeDB(ctx context.Context) error {
	return s.BeginFunc(ctx, func(tx pgx.Tx) error {
		txCtx := s.WithTx(ctx, tx)
		for _, stmt := range schema {
			if err := s.Exec(txCtx, stmt); err != nil {
				return fmt.Errorf("init postgres schema: %w", err)
			}
		}
		return nil
	})
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS question_initialized_events (
		question_id TEXT PRIMARY KEY,
		request_timestamp TEXT,
		creator TEXT,
		ancillary_data TEXT,
		ancillary_data_decoded JSONB,
		reward_token TEXT,
		reward TEXT,
		proposal_bond TEXT,
		block_time TEXT NOT NULL,
		block_number BIGINT NOT NULL,
		transaction_hash TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS condition_preparation_events (
		condition_id TEXT PRIMARY KEY,
		question_id TEXT NOT NULL,
		outcome_slot_count TEXT,
		oracle TEXT,
		block_time TEXT NOT NULL,
		block_number BIGINT NOT NULL,
		transaction_hash TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_condition_preparation_question ON condition_preparation_events(question_id)`,
	`CREATE TABLE IF NOT EXISTS token_registered_events (
		condition_id TEXT NOT NULL,
		token0 TEXT NOT NULL DEFAULT '',
		token1 TEXT,
		block_time TEXT NOT NULL,
		block_number BIGINT NOT NULL,
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
		block_number BIGINT NOT NULL,
		transaction_hash TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_filled_block ON order_filled_events(block_number)`,
}

func (s *Store) InsertTokenRegistered(ctx context.Context, rec *models.TokenRegistration) error {
	err := s.Exec(ctx, `
		INSERT INTO token_registered_events (
			condition_id, token0, token1, block_time, block_number, transaction_hash
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (condition_id, token0) DO UPDATE SET
			token1 = EXCLUDED.token1,
			block_time = EXCLUDED.block_time,
			block_number = EXCLUDED.block_number,
			transaction_hash = EXCLUDED.transaction_hash`,
		rec.ConditionID, rec.Token0, rec.Token1, rec.BlockTime, rec.BlockNumber, rec.TransactionHash,
	)
	if err != nil {
		return fmt.Errorf("upsert token registration %s: %w", rec.ConditionID, err)
	}
	return nil
}

func (s *Store) InsertOrderFilled(ctx context.Context, rec *models.OrderFill) error {
	err := s.Exec(ctx, `
		INSERT INTO order_filled_events (
			order_hash, maker, taker, maker_asset_id, taker_asset_id,
			maker_amount_filled, taker_amount_filled, fee,
			block_time, block_number, transaction_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (order_hash) DO UPDATE SET
			maker = EXCLUDED.maker,
			taker = EXCLUDED.taker,
			maker_asset_id = EXCLUDED.maker_asset_id,
			taker_asset_id = EXCLUDED.taker_asset_id,
			maker_amount_filled = EXCLUDED.maker_amount_filled,
			taker_amount_filled = EXCLUDED.taker_amount_filled,
			fee = EXCLUDED.fee,
			block_time = EXCLUDED.block_time,
			block_number = EXCLUDED.block_number,
			transaction_hash = EXCLUDED.transaction_hash`,
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
	err := s.Exec(ctx, `
		INSERT INTO condition_preparation_events (
			condition_id, question_id, outcome_slot_count, oracle,
			block_time, block_number, transaction_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (condition_id) DO UPDATE SET
			question_id = EXCLUDED.question_id,
			outcome_slot_count = EXCLUDED.outcome_slot_count,
			oracle = EXCLUDED.oracle,
			block_time = EXCLUDED.block_time,
			block_number = EXCLUDED.block_number,
			transaction_hash = EXCLUDED.transaction_hash`,
		rec.ConditionID, rec.QuestionID, rec.OutcomeSlotCount, rec.Oracle,
		rec.BlockTime, rec.BlockNumber, rec.TransactionHash,
	)
	if err != nil {
		return fmt.Errorf("upsert condition preparation %s: %w", rec.ConditionID, err)
	}
	return nil
}

func (s *Store) InsertQuestionInitialized(ctx context.Context, rec *models.QuestionInitialization) error {
	err := s.Exec(ctx, `
		INSERT INTO question_initialized_events (
			question_id, request_timestamp, creator, ancillary_data, ancillary_data_decoded,
			reward_token, reward, proposal_bond,
			block_time, block_number, transaction_hash
		) VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (question_id) DO UPDATE SET
			request_timestamp = EXCLUDED.request_timestamp,
			creator = EXCLUDED.creator,
			ancillary_data = EXCLUDED.ancillary_data,
			ancillary_data_decoded = EXCLUDED.ancillary_data_decoded,
			reward_token = EXCLUDED.reward_token,
			reward = EXCLUDED.reward,
			proposal_bond = EXCLUDED.proposal_bond,
			block_time = EXCLUDED.block_time,
			block_number = EXCLUDED.block_number,
			transaction_hash = EXCLUDED.transaction_hash`,
		rec.QuestionID, rec.RequestTimestamp, rec.Creator, rec.AncillaryData, rec.AncillaryDataDecoded,
		rec.RewardToken, rec.Reward, rec.ProposalBond,
		rec.BlockTime, rec.BlockNumber, rec.TransactionHash,
	)
	if err != nil {
		return fmt.Errorf("upsert question %s: %w", rec.QuestionID, err)
	}
	return nil
}

// Counts returns the row count of every stream table in one round trip.
func (s *Store) Counts(ctx context.Context) (models.StreamCounts, error) {
	var out models.StreamCounts
	err := s.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM token_registered_events),
			(SELECT COUNT(*) FROM order_filled_events),
			(SELECT COUNT(*) FROM condition_preparation_events),
			(SELECT COUNT(*) FROM question_initialized_events),
			(SELECT COUNT(*) FROM question_initialized_events
				WHERE ancillary_data_decoded IS NOT NULL AND ancillary_data_decoded != 'null'::jsonb)`,
	).Scan(&out.TokenRegistered, &out.OrderFilled, &out.ConditionPreparation, &out.QuestionInitialized, &out.QuestionsDecoded)
	if err != nil {
		return models.StreamCounts{}, fmt.Errorf("count rows: %w", err)
	}
	return out, nil
}

func (s *Store) AreAllStreamsPopulated(ctx context.Context) (bool, error) {
	var populated bool
	err := s.Pool.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM token_registered_events)
			AND EXISTS (SELECT 1 FROM order_filled_events)
			AND EXISTS (SELECT 1 FROM condition_preparation_events)
			AND EXISTS (SELECT 1 FROM question_initialized_events)`,
	).Scan(&populated)
	if err != nil {
		return false, fmt.Errorf("check populated streams: %w", err)
	}
	return populated, nil
}

func (s *Store) AreStreamsEmpty(ctx context.Context) (bool, error) {
	var empty bool
	err := s.Pool.QueryRow(ctx, `
		SELECT NOT (
			EXISTS (SELECT 1 FROM token_registered_events)
			OR EXISTS (SELECT 1 FROM order_filled_events)
			OR EXISTS (SELECT 1 FROM condition_preparation_events)
			OR EXISTS (SELECT 1 FROM question_initialized_events)
		)`,
	).Scan(&empty)
	if err != nil {
		return false, fmt.Errorf("check empty streams: %w", err)
	}
	return empty, nil
}

// Checkpoint issues CHECKPOINT. Roles without pg_checkpoint get "skipped" since the server
// checkpoints on its own schedule anyway.
func (s *Store) Checkpoint(ctx context.Context) (string, error) {
	if err := s.Exec(ctx, "CHECKPOINT"); err != nil {
		if IsInsufficientPrivilege(err) {
			return "skipped", nil
		}
		return "error", fmt.Errorf("checkpoint: %w", err)
	}
	return "success", nil
}

func (s *Store) Ping(ctx context.Context) error { return s.Pool.Ping(ctx) }

func (s *Store) Driver() string { return "postgres" }

func (s *Store) Location() string { return s.Database }

func (s *Store) Close() error {
	s.Client.Close()
	return nil
}
