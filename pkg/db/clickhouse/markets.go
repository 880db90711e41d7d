package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/polydash/ingestion/pkg/db/models"
)

const decodedQuestion = `q.ancillary_data_decoded IS NOT NULL AND q.ancillary_data_decoded NOT IN ('', 'null')`

// joinedQuestions is the question ⋈ condition join shared by both market queries. Each side is
// deduplicated with FINAL before joining.
func (s *Store) joinedQuestions() string {
	return fmt.Sprintf(`(SELECT question_id, ancillary_data_decoded, block_time FROM %s FINAL) AS q
	INNER JOIN (SELECT condition_id, question_id, outcome_slot_count FROM %s FINAL) AS c
		ON q.question_id = c.question_id`,
		s.Table(models.QuestionInitializedTable), s.Table(models.ConditionPreparationTable))
}

func (s *Store) withDecodedAndConditionsQuery() string {
	return fmt.Sprintf(`SELECT uniqExact(q.question_id) FROM %s WHERE %s`, s.joinedQuestions(), decodedQuestion)
}

// marketsQuery left-joins tokens; a condition without tokens yields '' from the join, which
// nullIf maps back to NULL.
func (s *Store) marketsQuery() string {
	return fmt.Sprintf(`
	SELECT DISTINCT
		q.question_id,
		q.ancillary_data_decoded,
		q.block_time AS question_time,
		c.condition_id,
		c.outcome_slot_count,
		nullIf(t.token0, '') AS token0,
		t.token1
	FROM %s
	LEFT JOIN (SELECT condition_id, token0, token1 FROM %s FINAL) AS t ON c.condition_id = t.condition_id
	WHERE %s
	ORDER BY question_time DESC
	LIMIT %d`, s.joinedQuestions(), s.Table(models.TokenRegisteredTable), decodedQuestion, models.MarketsQueryLimit)
}

// MarketDiagnostics runs the dashboard's market join and samples one row of each parent stream.
func (s *Store) MarketDiagnostics(ctx context.Context) (models.MarketDiagnostics, error) {
	var out models.MarketDiagnostics

	var n uint64
	if err := s.QueryRow(ctx, s.withDecodedAndConditionsQuery()).Scan(&n); err != nil {
		return out, fmt.Errorf("count decoded questions with conditions: %w", err)
	}
	out.WithDecodedAndConditions = int64(n)

	rows, err := s.Db.Query(ctx, s.marketsQuery())
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

	var q models.QuestionInitialization
	err = s.QueryRow(ctx, fmt.Sprintf(`
		SELECT question_id, request_timestamp, creator, ancillary_data, ancillary_data_decoded,
			reward_token, reward, proposal_bond, block_time, block_number, transaction_hash
		FROM %s FINAL LIMIT 1`, s.Table(models.QuestionInitializedTable))).Scan(
		&q.QuestionID, &q.RequestTimestamp, &q.Creator, &q.AncillaryData, &q.AncillaryDataDecoded,
		&q.RewardToken, &q.Reward, &q.ProposalBond, &q.BlockTime, &q.BlockNumber, &q.TransactionHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return out, fmt.Errorf("sample question: %w", err)
	default:
		out.SampleQuestion = &q
	}

	var c models.ConditionPreparation
	err = s.QueryRow(ctx, fmt.Sprintf(`
		SELECT condition_id, question_id, outcome_slot_count, oracle, block_time, block_number, transaction_hash
		FROM %s FINAL LIMIT 1`, s.Table(models.ConditionPreparationTable))).Scan(
		&c.ConditionID, &c.QuestionID, &c.OutcomeSlotCount, &c.Oracle, &c.BlockTime, &c.BlockNumber, &c.TransactionHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return out, fmt.Errorf("sample condition: %w", err)
	default:
		out.SampleCondition = &c
	}
	return out, nil
}
