package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/polydash/ingestion/pkg/db/models"
)

const decodedQuestion = `q.ancillary_data_decoded IS NOT NULL AND q.ancillary_data_decoded != 'null'::jsonb`

var marketsQuery = fmt.Sprintf(`
	SELECT DISTINCT
		q.question_id,
		q.ancillary_data_decoded::text,
		q.block_time AS question_time,
		c.condition_id,
		c.outcome_slot_count,
		t.token0,
		t.token1
	FROM question_initialized_events q
	INNER JOIN condition_preparation_events c ON q.question_id = c.question_id
	LEFT JOIN token_registered_events t ON c.condition_id = t.condition_id
	WHERE %s
	ORDER BY question_time DESC
	LIMIT %d`, decodedQuestion, models.MarketsQueryLimit)

// MarketDiagnostics runs the dashboard's market join and samples one row of each parent stream.
func (s *Store) MarketDiagnostics(ctx context.Context) (models.MarketDiagnostics, error) {
	var out models.MarketDiagnostics

	err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT q.question_id)
		FROM question_initialized_events q
		INNER JOIN condition_preparation_events c ON q.question_id = c.question_id
		WHERE `+decodedQuestion).Scan(&out.WithDecodedAndConditions)
	if err != nil {
		return out, fmt.Errorf("count decoded questions with conditions: %w", err)
	}

	rows, err := s.Pool.Query(ctx, marketsQuery)
	if err != nil {
		return out, fmt.Errorf("markets query: %w", err)
	}
	markets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Market, error) {
		var m models.Market
		err := row.Scan(&m.QuestionID, &m.AncillaryDataDecoded, &m.QuestionTime, &m.ConditionID,
			&m.OutcomeSlotCount, &m.Token0, &m.Token1)
		return m, err
	})
	if err != nil {
		return out, fmt.Errorf("markets query: %w", err)
	}
	out.MarketsQueryCount = int64(len(markets))
	if len(markets) > 0 {
		out.SampleMarket = &markets[0]
	}

	var q models.QuestionInitialization
	err = s.Pool.QueryRow(ctx, `
		SELECT question_id, request_timestamp, creator, ancillary_data, ancillary_data_decoded::text,
			reward_token, reward, proposal_bond, block_time, block_number, transaction_hash
		FROM question_initialized_events LIMIT 1`).Scan(
		&q.QuestionID, &q.RequestTimestamp, &q.Creator, &q.AncillaryData, &q.AncillaryDataDecoded,
		&q.RewardToken, &q.Reward, &q.ProposalBond, &q.BlockTime, &q.BlockNumber, &q.TransactionHash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return out, fmt.Errorf("sample question: %w", err)
	default:
		out.SampleQuestion = &q
	}

	var c models.ConditionPreparation
	err = s.Pool.QueryRow(ctx, `
		SELECT condition_id, question_id, outcome_slot_count, oracle, block_time, block_number, transaction_hash
		FROM condition_preparation_events LIMIT 1`).Scan(
		&c.ConditionID, &c.QuestionID, &c.OutcomeSlotCount, &c.Oracle, &c.BlockTime, &c.BlockNumber, &c.TransactionHash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return out, fmt.Errorf("sample condition: %w", err)
	default:
		out.SampleCondition = &c
	}
	return out, nil
}
