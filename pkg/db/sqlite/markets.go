package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/polydash/ingestion/pkg/db/models"
)

const decodedQuestion = `q.ancillary_data_decoded IS NOT NULL
	AND q.ancillary_data_decoded != ''
	AND q.ancillary_data_decoded != 'null'`

var marketsQuery = fmt.Sprintf(`
	SELECT DISTINCT
		q.question_id,
		q.ancillary_data_decoded,
		q.block_time AS question_time,
		c.condition_id,
		c.outcome_slot_count,
		t.token0,
		t.token1
	FROM question_initialized_events q
	INNER JOIN condition_preparation_events c ON q.question_id = c.question_id
	LEFT JOIN token_registered_events t ON c.condition_id = t.condition_id
	WHERE %s
	ORDER BY q.block_time DESC
	LIMIT %d`, decodedQuestion, models.MarketsQueryLimit)

// MarketDiagnostics runs the dashboard's market join and samples one row of each parent stream.
func (s *Store) MarketDiagnostics(ctx context.Context) (models.MarketDiagnostics, error) {
	var out models.MarketDiagnostics

	err := s.Db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT q.question_id)
		FROM question_initialized_events q
		INNER JOIN condition_preparation_events c ON q.question_id = c.question_id
		WHERE `+decodedQuestion).Scan(&out.WithDecodedAndConditions)
	if err != nil {
		return out, fmt.Errorf("count decoded questions with conditions: %w", err)
	}

	rows, err := s.Db.QueryContext(ctx, marketsQuery)
	if err != nil {
		return out, fmt.Errorf("markets query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var m models.Market
		if err := rows.Scan(&m.QuestionID, &m.AncillaryDataDecoded, &m.QuestionTime, &m.ConditionID,
			&m.OutcomeSlotCount, &m.Token0, &m.Token1); err != nil {
			return out, fmt.Errorf("scan market: %w", err)
		}
		if out.SampleMarket == nil {
			out.SampleMarket = &m
		}
		out.MarketsQueryCount++
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("markets query: %w", err)
	}

	if out.SampleQuestion, err = s.sampleQuestion(ctx); err != nil {
		return out, err
	}
	if out.SampleCondition, err = s.sampleCondition(ctx); err != nil {
		return out, err
	}
	return out, nil
}

func (s *Store) sampleQuestion(ctx context.Context) (*models.QuestionInitialization, error) {
	var q models.QuestionInitialization
	err := s.Db.QueryRowContext(ctx, `
		SELECT question_id, request_timestamp, creator, ancillary_data, ancillary_data_decoded,
			reward_token, reward, proposal_bond, block_time, block_number, transaction_hash
		FROM question_initialized_events LIMIT 1`).Scan(
		&q.QuestionID, &q.RequestTimestamp, &q.Creator, &q.AncillaryData, &q.AncillaryDataDecoded,
		&q.RewardToken, &q.Reward, &q.ProposalBond, &q.BlockTime, &q.BlockNumber, &q.TransactionHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sample question: %w", err)
	}
	return &q, nil
}

func (s *Store) sampleCondition(ctx context.Context) (*models.ConditionPreparation, error) {
	var c models.ConditionPreparation
	err := s.Db.QueryRowContext(ctx, `
		SELECT condition_id, question_id, outcome_slot_count, oracle, block_time, block_number, transaction_hash
		FROM condition_preparation_events LIMIT 1`).Scan(
		&c.ConditionID, &c.QuestionID, &c.OutcomeSlotCount, &c.Oracle, &c.BlockTime, &c.BlockNumber, &c.TransactionHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sample condition: %w", err)
	}
	return &c, nil
}
