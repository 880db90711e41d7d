package ingest

import (
	"github.com/shopspring/decimal"

	"github.com/polydash/ingestion/pkg/bitquery"
	"github.com/polydash/ingestion/pkg/db/models"
	"github.com/polydash/ingestion/pkg/utils"
)

// Required argument names per stream. Events missing any of them are skipped.
var (
	tokenRegisteredRequired      = []string{"conditionId"}
	orderFilledRequired          = []string{"orderHash", "maker", "taker", "makerAssetId", "takerAssetId"}
	conditionPreparationRequired = []string{"conditionId", "questionId"}
	questionInitializedRequired  = []string{"questionID"}
)

func provenance(ev bitquery.Event) models.Provenance {
	return models.Provenance{
		BlockTime:       ev.Block.Time,
		BlockNumber:     ev.BlockNumber(),
		TransactionHash: ev.Transaction.Hash,
	}
}

func arg(ev bitquery.Event, name string) string {
	v, _ := bitquery.GetArgumentValue(ev.Arguments, name)
	return v
}

func optionalArg(ev bitquery.Event, name string) *string {
	return utils.OptionalString(arg(ev, name))
}

// amount normalises an integer amount to its canonical decimal text; values that do not parse
// are kept verbatim. Absent amounts become "0".
func amount(raw string) string {
	if raw == "" {
		return "0"
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	return d.String()
}

func optionalAmount(raw string) *string {
	if raw == "" {
		return nil
	}
	s := amount(raw)
	return &s
}

func buildTokenRegistration(ev bitquery.Event) *models.TokenRegistration {
	return &models.TokenRegistration{
		ConditionID: arg(ev, "conditionId"),
		Token0:      arg(ev, "token0"),
		Token1:      optionalArg(ev, "token1"),
		Provenance:  provenance(ev),
	}
}

func buildOrderFill(ev bitquery.Event) *models.OrderFill {
	return &models.OrderFill{
		OrderHash:         arg(ev, "orderHash"),
		Maker:             arg(ev, "maker"),
		Taker:             arg(ev, "taker"),
		MakerAssetID:      arg(ev, "makerAssetId"),
		TakerAssetID:      arg(ev, "takerAssetId"),
		MakerAmountFilled: amount(arg(ev, "makerAmountFilled")),
		TakerAmountFilled: amount(arg(ev, "takerAmountFilled")),
		Fee:               optionalAmount(arg(ev, "fee")),
		Provenance:        provenance(ev),
	}
}

// buildConditionPreparation keeps conditions whose outcome slot count or oracle is absent.
func buildConditionPreparation(ev bitquery.Event) *models.ConditionPreparation {
	return &models.ConditionPreparation{
		ConditionID:      arg(ev, "conditionId"),
		QuestionID:       arg(ev, "questionId"),
		OutcomeSlotCount: optionalArg(ev, "outcomeSlotCount"),
		Oracle:           optionalArg(ev, "oracle"),
		Provenance:       provenance(ev),
	}
}

func buildQuestionInitialization(ev bitquery.Event) *models.QuestionInitialization {
	return &models.QuestionInitialization{
		QuestionID:       arg(ev, "questionID"),
		RequestTimestamp: optionalArg(ev, "requestTimestamp"),
		Creator:          optionalArg(ev, "creator"),
		AncillaryData:    optionalArg(ev, "ancillaryData"),
		RewardToken:      optionalArg(ev, "rewardToken"),
		Reward:           optionalArg(ev, "reward"),
		ProposalBond:     optionalArg(ev, "proposalBond"),
		Provenance:       provenance(ev),
	}
}

// decodeAncillary fills AncillaryDataDecoded. A panicking decoder leaves it nil.
func decodeAncillary(decode Decoder) func(*models.QuestionInitialization) {
	return func(rec *models.QuestionInitialization) {
		rec.AncillaryDataDecoded = nil
		if rec.AncillaryData == nil || decode == nil {
			return
		}
		defer func() {
			if recover() != nil {
				rec.AncillaryDataDecoded = nil
			}
		}()
		rec.AncillaryDataDecoded = decode(*rec.AncillaryData)
	}
}

// NewProcessors builds the processor of every stream, in Streams order.
func NewProcessors(fetcher Fetcher, store Store, decode Decoder, opts ProcessorOptions) []Runner {
	return []Runner{
		NewProcessor(StreamQuestionInitialized, Spec[models.QuestionInitialization]{
			Required:  questionInitializedRequired,
			Fetch:     fetcher.FetchQuestionInitialized,
			Build:     buildQuestionInitialization,
			Transform: decodeAncillary(decode),
			Write:     store.InsertQuestionInitialized,
		}, opts),
		NewProcessor(StreamConditionPreparation, Spec[models.ConditionPreparation]{
			Required: conditionPreparationRequired,
			Fetch:    fetcher.FetchConditionPreparation,
			Build:    buildConditionPreparation,
			Write:    store.InsertConditionPreparation,
		}, opts),
		NewProcessor(StreamTokenRegistered, Spec[models.TokenRegistration]{
			Required: tokenRegisteredRequired,
			Fetch:    fetcher.FetchTokenRegistered,
			Build:    buildTokenRegistration,
			Write:    store.InsertTokenRegistered,
		}, opts),
		NewProcessor(StreamOrderFilled, Spec[models.OrderFill]{
			Required: orderFilledRequired,
			Fetch:    fetcher.FetchOrderFilled,
			Build:    buildOrderFill,
			Write:    store.InsertOrderFilled,
		}, opts),
	}
}
