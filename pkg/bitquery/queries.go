package bitquery

import "github.com/polydash/ingestion/pkg/utils"

// Event signature names as indexed by Bitquery.
const (
	SignatureTokenRegistered      = "TokenRegistered"
	SignatureOrderFilled          = "OrderFilled"
	SignatureConditionPreparation = "ConditionPreparation"
	SignatureQuestionInitialized  = "QuestionInitialized"
)

const (
	DefaultEndpoint          = "https://streaming.bitquery.io/graphql"
	DefaultNetwork           = "matic"
	DefaultCTFExchange       = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	DefaultConditionalTokens = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	DefaultUMAAdapter        = "0x6A9D222616C90FcA5754cd1333cFD9b7fb6a4F74"
)

// Config selects the endpoint, network and contracts queried.
type Config struct {
	Endpoint          string
	Network           string
	CTFExchange       string
	ConditionalTokens string
	UMAAdapter        string
}

func ConfigFromEnv() Config {
	return Config{
		Endpoint:          utils.Env("BITQUERY_ENDPOINT", DefaultEndpoint),
		Network:           utils.Env("BITQUERY_NETWORK", DefaultNetwork),
		CTFExchange:       utils.Env("CTF_EXCHANGE_ADDRESS", DefaultCTFExchange),
		ConditionalTokens: utils.Env("CONDITIONAL_TOKENS_ADDRESS", DefaultConditionalTokens),
		UMAAdapter:        utils.Env("UMA_ADAPTER_ADDRESS", DefaultUMAAdapter),
	}
}

// eventsQuery returns the newest events of one signature emitted by one contract.
const eventsQuery = `query ($network: evm_network!, $contract: String!, $signature: String!, $limit: Int!) {
  EVM(dataset: combined, network: $network) {
    Events(
      where: {Log: {SmartContract: {is: $contract}, Signature: {Name: {is: $signature}}}}
      limit: {count: $limit}
      orderBy: {descending: Block_Number}
    ) {
      Block {
        Time
        Number
      }
      Transaction {
        Hash
      }
      Arguments {
        Name
        Value {
          ... on EVM_ABI_Integer_Value_Arg {
            integer
          }
          ... on EVM_ABI_String_Value_Arg {
            string
          }
          ... on EVM_ABI_Address_Value_Arg {
            address
          }
          ... on EVM_ABI_BigInt_Value_Arg {
            bigInteger
          }
          ... on EVM_ABI_Bytes_Value_Arg {
            hex
          }
          ... on EVM_ABI_Boolean_Value_Arg {
            bool
          }
        }
      }
    }
  }
}`
