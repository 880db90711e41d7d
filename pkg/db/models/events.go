// Package models holds the relational records produced from the four ingested event streams.
// Every record carries on-chain provenance (block time, block number, transaction hash) and
// is identified by a natural key derived from on-chain identifiers.
package models

// Table names shared by every storage backend.
const (
	TokenRegisteredTable      = "token_registered_events"
	OrderFilledTable          = "order_filled_events"
	ConditionPreparationTable = "condition_preparation_events"
	QuestionInitializedTable  = "question_initialized_events"
)

// Tables lists every stream table in a stable order.
var Tables = []string{
	QuestionInitializedTable,
	ConditionPreparationTable,
	TokenRegisteredTable,
	OrderFilledTable,
}

// Provenance identifies where on chain an event was observed.
type Provenance struct {
	BlockTime       string `json:"block_time"`
	BlockNumber     int64  `json:"block_number"`
	TransactionHash string `json:"transaction_hash"`
}

// TokenRegistration is keyed by (ConditionID, Token0). The exchange registers each outcome
// token against its complement, so a binary condition yields two rows with swapped tokens.
type TokenRegistration struct {
	ConditionID string  `json:"condition_id"`
	Token0      string  `json:"token0"`
	Token1      *string `json:"token1,omitempty"`
	Provenance
}

// OrderFill is keyed by OrderHash. Amounts are decimal strings to avoid precision loss.
type OrderFill struct {
	OrderHash         string  `json:"order_hash"`
	Maker             string  `json:"maker"`
	Taker             string  `json:"taker"`
	MakerAssetID      string  `json:"maker_asset_id"`
	TakerAssetID      string  `json:"taker_asset_id"`
	MakerAmountFilled string  `json:"maker_amount_filled"`
	TakerAmountFilled string  `json:"taker_amount_filled"`
	Fee               *string `json:"fee,omitempty"`
	Provenance
}

// ConditionPreparation is keyed by ConditionID and references a question through QuestionID.
type ConditionPreparation struct {
	ConditionID      string  `json:"condition_id"`
	QuestionID       string  `json:"question_id"`
	OutcomeSlotCount *string `json:"outcome_slot_count,omitempty"`
	Oracle           *string `json:"oracle,omitempty"`
	Provenance
}

// QuestionInitialization is keyed by QuestionID. AncillaryDataDecoded holds the JSON form of
// the decoded payload and stays nil when the payload is absent or undecodable.
type QuestionInitialization struct {
	QuestionID           string  `json:"question_id"`
	RequestTimestamp     *string `json:"request_timestamp,omitempty"`
	Creator              *string `json:"creator,omitempty"`
	AncillaryData        *string `json:"ancillary_data,omitempty"`
	AncillaryDataDecoded *string `json:"ancillary_data_decoded,omitempty"`
	RewardToken          *string `json:"reward_token,omitempty"`
	Reward               *string `json:"reward,omitempty"`
	ProposalBond         *string `json:"proposal_bond,omitempty"`
	Provenance
}

// StreamCounts is the number of stored rows per stream table.
type StreamCounts struct {
	TokenRegistered      int64 `json:"token_registered_events"`
	OrderFilled          int64 `json:"order_filled_events"`
	ConditionPreparation int64 `json:"condition_preparation_events"`
	QuestionInitialized  int64 `json:"question_initialized_events"`
	// QuestionsDecoded counts questions whose ancillary data decoded successfully.
	QuestionsDecoded int64 `json:"questions_decoded"`
}

// AllPopulated reports whether every stream has at least one row.
func (c StreamCounts) AllPopulated() bool {
	return c.TokenRegistered > 0 && c.OrderFilled > 0 && c.ConditionPreparation > 0 && c.QuestionInitialized > 0
}

// AllEmpty reports whether no stream has any row.
func (c StreamCounts) AllEmpty() bool {
	return c.TokenRegistered == 0 && c.OrderFilled == 0 && c.ConditionPreparation == 0 && c.QuestionInitialized == 0
}

// MarketsQueryLimit caps the question/condition/token join used for market diagnostics.
const MarketsQueryLimit = 500

// Market is one row of the question ⋈ condition ⟕ token join a dashboard lists markets from.
type Market struct {
	QuestionID           string  `json:"question_id"`
	AncillaryDataDecoded *string `json:"ancillary_data_decoded,omitempty"`
	QuestionTime         string  `json:"question_time"`
	ConditionID          string  `json:"condition_id"`
	OutcomeSlotCount     *string `json:"outcome_slot_count,omitempty"`
	Token0               *string `json:"token0,omitempty"`
	Token1               *string `json:"token1,omitempty"`
}

// MarketDiagnostics checks that the streams join up: questions reach their conditions through
// question_id and conditions reach their tokens through condition_id.
type MarketDiagnostics struct {
	// WithDecodedAndConditions counts distinct decoded questions with at least one condition.
	WithDecodedAndConditions int64 `json:"withDecodedAndConditions"`
	// MarketsQueryCount is the number of join rows, capped at MarketsQueryLimit.
	MarketsQueryCount int64                   `json:"marketsQueryCount"`
	SampleMarket      *Market                 `json:"sampleMarket"`
	SampleQuestion    *QuestionInitialization `json:"sampleQuestion"`
	SampleCondition   *ConditionPreparation   `json:"sampleCondition"`
}
