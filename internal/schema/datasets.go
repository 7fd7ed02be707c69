package schema

// Dataset names.
const (
	DatasetTrade            = "trade"
	DatasetClient           = "client"
	DatasetTradeDetail      = "trade_detail"
	DatasetClientInvestment = "client_investment"
)

// Column names shared across datasets.
const (
	ColTradeID         = "trade_id"
	ColClientID        = "client_id"
	ColInstrument      = "instrument"
	ColQuantity        = "quantity"
	ColPrice           = "price"
	ColTradeDate       = "trade_date"
	ColClientName      = "client_name"
	ColRegion          = "region"
	ColTotalInvestment = "total_investment"
	ColTradeCount      = "trade_count"
)

// Trade is the raw trade contract. Raw rows keep source text untouched, so
// the raw layer stores every column as a string; typing happens in the
// cleaner.
var Trade = Contract{
	Name: DatasetTrade,
	Fields: []Field{
		{Name: ColTradeID, Type: KindString, Key: true},
		{Name: ColClientID, Type: KindString, Required: true},
		{Name: ColInstrument, Type: KindString, Required: true},
		{Name: ColQuantity, Type: KindString, Required: true},
		{Name: ColPrice, Type: KindString, Required: true},
		{Name: ColTradeDate, Type: KindString, Required: true},
	},
}

// Client is the raw client reference-data contract.
var Client = Contract{
	Name: DatasetClient,
	Fields: []Field{
		{Name: ColClientID, Type: KindString, Key: true, Required: true},
		{Name: ColClientName, Type: KindString},
		{Name: ColRegion, Type: KindString},
	},
}

// TradeDetail is the cleaned-layer contract: trade fields typed and joined
// with client attributes. A trade without an id is still a trade, so
// trade_id stays optional here as in the raw contract.
var TradeDetail = Contract{
	Name: DatasetTradeDetail,
	Fields: []Field{
		{Name: ColTradeID, Type: KindString, Key: true},
		{Name: ColClientID, Type: KindString, Required: true},
		{Name: ColInstrument, Type: KindString, Required: true},
		{Name: ColQuantity, Type: KindDecimal, Required: true},
		{Name: ColPrice, Type: KindDecimal, Required: true},
		{Name: ColTradeDate, Type: KindDate, Required: true},
		{Name: ColClientName, Type: KindString},
		{Name: ColRegion, Type: KindString},
	},
}

// ClientInvestment is the summary-layer contract.
var ClientInvestment = Contract{
	Name: DatasetClientInvestment,
	Fields: []Field{
		{Name: ColClientID, Type: KindString, Key: true, Required: true},
		{Name: ColClientName, Type: KindString},
		{Name: ColRegion, Type: KindString},
		{Name: ColTotalInvestment, Type: KindDecimal, Required: true},
		{Name: ColTradeCount, Type: KindInt, Required: true},
	},
}

var registry = map[string]Contract{
	DatasetTrade:            Trade,
	DatasetClient:           Client,
	DatasetTradeDetail:      TradeDetail,
	DatasetClientInvestment: ClientInvestment,
}

// Lookup returns the built-in contract for a dataset name.
func Lookup(dataset string) (Contract, bool) {
	c, ok := registry[dataset]
	return c, ok
}

// Ingestible lists datasets accepted by the raw-layer ingestor.
func Ingestible() []string { return []string{DatasetTrade, DatasetClient} }
