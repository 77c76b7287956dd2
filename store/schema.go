package store

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Primary key attributes.
const (
	AttrPartitionKey = "partition_key"
	AttrSortKey      = "sort_key"
)

// Attributes common to every product row.
// Physical names contain dots, so expressions must reference them with
// expression.NameNoDotSplit rather than expression.Name.
const (
	AttrProductCategory     = "product.category"
	AttrProductID           = "product.id"
	AttrProductInstrumentID = "product.instrument_id"
	AttrProductColor        = "product.color"
	AttrProductIsMinted     = "product.is_minted"
	AttrProductStatus       = "product.status"

	AttrProductsPartitionKey      = "product.partition_key"
	AttrProductsSortKey           = "product.sort_key"
	AttrProductStatusPartitionKey = "product.status.partition_key"
	AttrProductStatusSortKey      = "product.status.sort_key"
)

// Instrument attributes.
const (
	AttrInstrumentID            = "instrument.id"
	AttrInstrumentName          = "instrument.name"
	AttrInstrumentDecimalPlaces = "instrument.number_of_decimal_places"
	AttrInstrumentStatus        = "instrument.status"

	AttrInstrumentsPartitionKey      = "instrument.partition_key"
	AttrInstrumentsSortKey           = "instrument.sort_key"
	AttrInstrumentStatusPartitionKey = "instrument.status.partition_key"
	AttrInstrumentStatusSortKey      = "instrument.status.sort_key"
)

// Crypto attributes.
const (
	AttrCryptoExternalAssetID = "crypto.external_assetId"
)

// Share token attributes.
const (
	AttrShareTokenName                   = "share_token.name"
	AttrShareTokenTicker                 = "share_token.ticker"
	AttrShareTokenDocumentURL            = "share_token.document_url"
	AttrShareTokenIsDeployed             = "share_token.is_deployed"
	AttrShareTokenIsFrozen               = "share_token.is_frozen"
	AttrShareTokenBlockchainErrorMessage = "share_token.blockchain_error_message"
	AttrShareTokenTotalSupply            = "share_token.total_supply"
	AttrShareTokenExternalAssetID        = "share_token.external_assetId"
	AttrShareTokenDecimalPlaces          = "share_token.number_of_decimal_places"
)

// Copyright token attributes.
const (
	AttrCopyrightExternalMusicID        = "copyright_token.external_music_id"
	AttrCopyrightCreatorID              = "copyright_token.creator_id"
	AttrCopyrightIcon                   = "copyright_token.icon"
	AttrCopyrightSubType                = "copyright_token.sub_type"
	AttrCopyrightOwnership              = "copyright_token.ownership"
	AttrCopyrightAmount                 = "copyright_token.amount"
	AttrCopyrightAlreadyAuctionedAmount = "copyright_token.already_auctioned_amount"
	AttrCopyrightSongDetails            = "copyright_token.song_details"
	AttrCopyrightAvailable              = "copyright_token.is_available_for_secondary_market"
	AttrCopyrightTradingVolume          = "copyright_token.trading_volume"

	AttrCopyrightCreatorPartitionKey       = "copyright_token.creator_id_partition_key"
	AttrCopyrightCreatorSortKey            = "copyright_token.creator_id_sort_key"
	AttrCopyrightExternalMusicPartitionKey = "copyright_token.external_music_id_partition_key"
	AttrCopyrightExternalMusicSortKey      = "copyright_token.external_music_id_sort_key"
	AttrCopyrightMarketPartitionKey        = "copyright_token.secondary_market_avilability_partition_key"
	AttrCopyrightMarketSortKey             = "copyright_token.secondary_market_avilability_sort_key"
	AttrCopyrightTradingVolumeSortKey      = "copyright_token.secondary_market_availability_trading_volume_sort_key"
)

// Index names.
const (
	IndexProducts                         = "products"
	IndexProductStatus                    = "product_status"
	IndexInstruments                      = "instruments"
	IndexInstrumentStatus                 = "instrument_status"
	IndexCopyrightTokensByCreatorID       = "copyright_tokens_by_creator_id"
	IndexCopyrightTokensByExternalMusicID = "copyright_tokens_by_external_music_id"
	IndexCopyrightTokensBySecondaryMarket = "copyright_tokens_by_secondary_market_availability"
	IndexCopyrightTokensByTradingVolume   = "copyright_tokens_by_trading_volume"
)

// IndexDef describes a global secondary index of the catalog table.
type IndexDef struct {
	Name         string
	PartitionKey string
	SortKey      string
}

var indexes = []IndexDef{
	{IndexProducts, AttrProductsPartitionKey, AttrProductsSortKey},
	{IndexProductStatus, AttrProductStatusPartitionKey, AttrProductStatusSortKey},
	{IndexInstruments, AttrInstrumentsPartitionKey, AttrInstrumentsSortKey},
	{IndexInstrumentStatus, AttrInstrumentStatusPartitionKey, AttrInstrumentStatusSortKey},
	{IndexCopyrightTokensByCreatorID, AttrCopyrightCreatorPartitionKey, AttrCopyrightCreatorSortKey},
	{IndexCopyrightTokensByExternalMusicID, AttrCopyrightExternalMusicPartitionKey, AttrCopyrightExternalMusicSortKey},
	{IndexCopyrightTokensBySecondaryMarket, AttrCopyrightMarketPartitionKey, AttrCopyrightMarketSortKey},
	{IndexCopyrightTokensByTradingVolume, AttrCopyrightMarketPartitionKey, AttrCopyrightTradingVolumeSortKey},
}

// Indexes returns the definitions of every index the catalog table must carry.
func Indexes() []IndexDef {
	out := make([]IndexDef, len(indexes))
	copy(out, indexes)
	return out
}

// LookupIndex returns the definition of the named index.
func LookupIndex(name string) (IndexDef, bool) {
	for _, idx := range indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDef{}, false
}

// GlobalSecondaryIndex renders the index for CreateTable.
func (d IndexDef) GlobalSecondaryIndex() types.GlobalSecondaryIndex {
	return types.GlobalSecondaryIndex{
		IndexName:  aws.String(d.Name),
		KeySchema:  d.keySchema(),
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

// CreateAction renders the index for an UpdateTable create.
func (d IndexDef) CreateAction() *types.CreateGlobalSecondaryIndexAction {
	return &types.CreateGlobalSecondaryIndexAction{
		IndexName:  aws.String(d.Name),
		KeySchema:  d.keySchema(),
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

// AttributeDefinitions declares the key attributes of the index.
func (d IndexDef) AttributeDefinitions() []types.AttributeDefinition {
	return []types.AttributeDefinition{
		{AttributeName: aws.String(d.PartitionKey), AttributeType: types.ScalarAttributeTypeS},
		{AttributeName: aws.String(d.SortKey), AttributeType: types.ScalarAttributeTypeS},
	}
}

func (d IndexDef) keySchema() []types.KeySchemaElement {
	return []types.KeySchemaElement{
		{AttributeName: aws.String(d.PartitionKey), KeyType: types.KeyTypeHash},
		{AttributeName: aws.String(d.SortKey), KeyType: types.KeyTypeRange},
	}
}

// AttributeDefinitions returns the definitions of the primary key and every index key.
func AttributeDefinitions() []types.AttributeDefinition {
	seen := map[string]bool{AttrPartitionKey: true, AttrSortKey: true}
	defs := []types.AttributeDefinition{
		{AttributeName: aws.String(AttrPartitionKey), AttributeType: types.ScalarAttributeTypeS},
		{AttributeName: aws.String(AttrSortKey), AttributeType: types.ScalarAttributeTypeS},
	}
	for _, idx := range indexes {
		for _, def := range idx.AttributeDefinitions() {
			if seen[*def.AttributeName] {
				continue
			}
			seen[*def.AttributeName] = true
			defs = append(defs, def)
		}
	}
	return defs
}

// CreateTableInput returns the canonical definition of the catalog table.
func CreateTableInput(tableName string) *dynamodb.CreateTableInput {
	gsis := make([]types.GlobalSecondaryIndex, 0, len(indexes))
	for _, idx := range indexes {
		gsis = append(gsis, idx.GlobalSecondaryIndex())
	}
	return &dynamodb.CreateTableInput{
		TableName: aws.String(tableName),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(AttrPartitionKey), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(AttrSortKey), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions:   AttributeDefinitions(),
		GlobalSecondaryIndexes: gsis,
		BillingMode:            types.BillingModePayPerRequest,
	}
}

// primaryKey builds the key map of a row.
func primaryKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPartitionKey: &types.AttributeValueMemberS{Value: pk},
		AttrSortKey:      &types.AttributeValueMemberS{Value: sk},
	}
}

// KeyOf extracts the primary key of a raw row.
func KeyOf(raw map[string]types.AttributeValue) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPartitionKey: raw[AttrPartitionKey],
		AttrSortKey:      raw[AttrSortKey],
	}
}
