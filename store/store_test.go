package store_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jacentio/lyra/internal/ddbfake"
	"github.com/jacentio/lyra/internal/keys"
	"github.com/jacentio/lyra/store"
)

const (
	testTable  = "lyra-products-test"
	testTenant = "acme"
)

var _ store.Client = (*ddbfake.Client)(nil)

func newTestStore(t *testing.T) (*store.Store, *ddbfake.Client) {
	t.Helper()
	return newTestStoreWithLogger(t, zaptest.NewLogger(t))
}

func newTestStoreWithLogger(t *testing.T, logger *zap.Logger) (*store.Store, *ddbfake.Client) {
	t.Helper()
	fake := ddbfake.New()
	_, err := fake.CreateTable(context.Background(), store.CreateTableInput(testTable))
	require.NoError(t, err)

	cfg := store.DefaultConfig()
	cfg.TableName = testTable
	return store.New(fake, cfg, logger), fake
}

func ptr[T any](v T) *T { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func shareToken(id string) store.ShareToken {
	return store.ShareToken{
		ProductInfo:            store.ProductInfo{ProductID: id, Color: "#112233"},
		Name:                   "Lyra Shares",
		Ticker:                 "LYS",
		DocumentURL:            "https://example.com/prospectus.pdf",
		IsDeployed:             true,
		BlockchainErrorMessage: "",
		TotalSupply:            dec("1000000.5"),
		NumberOfDecimalPlaces:  6,
		ExternalAssetID:        "asset-1",
	}
}

func copyrightToken(id, creator, music string, subType store.CopyrightSubType, volume string, available bool) store.CopyrightToken {
	return store.CopyrightToken{
		ProductInfo:                 store.ProductInfo{ProductID: id, Color: "#abcdef"},
		ExternalMusicID:             music,
		CreatorID:                   creator,
		Icon:                        "https://example.com/icon.png",
		SubType:                     subType,
		Ownership:                   "50%",
		Amount:                      dec("250"),
		AlreadyAuctionedAmount:      dec("10.25"),
		TradingVolume:               dec(volume),
		AvailableForSecondaryMarket: available,
		SongDetails: &store.SongDetails{
			Name:              "Night Drive",
			ArtistName:        "The Lyras",
			AlbumName:         "Roads",
			Genre:             "synthwave",
			MiningByStreaming: dec("0.5"),
			MiningByCuration:  dec("1.5"),
			Contributors: store.Contributors{
				Owners: []store.Contributor{{ProfileID: "p1", Email: "owner@example.com", Percentage: dec("60")}},
				Producers: []store.Contributor{
					{ProfileID: "p2", TrackingAccountID: "t2", Percentage: dec("40")},
				},
			},
		},
	}
}

// --- Config Tests ---

func TestDefaultConfig(t *testing.T) {
	cfg := store.DefaultConfig()

	assert.Equal(t, "lyra-products-v2", cfg.TableName)
	assert.Equal(t, 20, cfg.DefaultPageSize)
	assert.Equal(t, 100, cfg.MaxPageSize)
}

func TestNew_ClampsConfig(t *testing.T) {
	s := store.New(ddbfake.New(), store.Config{DefaultPageSize: 5000, MaxPageSize: 5000}, nil)

	cfg := s.Config()
	assert.Equal(t, "lyra-products-v2", cfg.TableName)
	assert.Equal(t, 1000, cfg.MaxPageSize)
	assert.Equal(t, 1000, cfg.DefaultPageSize)
}

// --- Add / Get Tests ---

func TestAcmeFiatScenario(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	usd := store.Instrument{ID: "currency.fiat.USD", Name: "United States Dollar", NumberOfDecimalPlaces: 2}
	require.NoError(t, s.AddInstrument(ctx, "acme", usd, ""))
	require.NoError(t, s.AddProduct(ctx, "acme", store.Fiat{
		ProductInfo: store.ProductInfo{ProductID: "currency.fiat.USD", InstrumentID: "currency.fiat.USD"},
	}, ""))

	inst, found, err := s.GetInstrument(ctx, "acme", "currency.fiat.USD")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, store.Instrument{
		ID:                    "currency.fiat.USD",
		Name:                  "United States Dollar",
		NumberOfDecimalPlaces: 2,
		Status:                store.StatusEnabled,
	}, inst)

	fiat, found, err := store.GetProductAs[store.Fiat](ctx, s, "acme", "currency.fiat.USD")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "currency.fiat.USD", fiat.ProductID)
	assert.Equal(t, inst.ID, fiat.InstrumentID)
	assert.Equal(t, store.StatusEnabled, fiat.Status)
}

func TestAddProduct_GetReturnsEqualProduct(t *testing.T) {
	tests := []struct {
		name    string
		product store.Product
	}{
		{"crypto", store.Crypto{
			ProductInfo:     store.ProductInfo{ProductID: "crypto.coin.BTC", Color: "#f7931a", Status: store.StatusEnabled},
			ExternalAssetID: "btc-asset",
		}},
		{"fiat", store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency.fiat.EUR", Status: store.StatusDisabled}}},
		{"simple", store.Simple{ProductInfo: store.ProductInfo{ProductID: "currency.simple.PTS", IsMinted: true, Status: store.StatusEnabled}}},
		{"share token", func() store.Product {
			st := shareToken("share.token.LYS")
			st.Status = store.StatusEnabled
			return st
		}()},
		{"copyright token", func() store.Product {
			ct := copyrightToken("copyright.golden.SONG1", "creator-1", "music-1", store.SubTypeGolden, "42.5", true)
			ct.Status = store.StatusEnabled
			return ct
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			ctx := context.Background()

			require.NoError(t, s.AddProduct(ctx, testTenant, tt.product, ""))

			got, found, err := s.GetProduct(ctx, testTenant, tt.product.Info().ProductID)
			require.NoError(t, err)
			require.True(t, found)

			want := tt.product
			info := want.Info()
			assert.Equal(t, tt.product.Category(), got.Category())
			assert.Equal(t, info.ProductID, got.Info().InstrumentID, "instrument ID defaults to the product ID")

			// The stored instrument ID was defaulted to the product ID.
			switch v := want.(type) {
			case store.Crypto:
				v.InstrumentID = info.ProductID
				want = v
			case store.Fiat:
				v.InstrumentID = info.ProductID
				want = v
			case store.Simple:
				v.InstrumentID = info.ProductID
				want = v
			case store.ShareToken:
				v.InstrumentID = info.ProductID
				want = v
			case store.CopyrightToken:
				v.InstrumentID = info.ProductID
				want = v
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestAddProduct_NormalisesIDsAndStatus(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddProduct(ctx, testTenant, &store.Crypto{
		ProductInfo: store.ProductInfo{ProductID: " Crypto.Coin.eth ", InstrumentID: "crypto.eth"},
	}, ""))

	got, found, err := store.GetProductAs[store.Crypto](ctx, s, testTenant, "crypto.coin.ETH")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "crypto.coin.ETH", got.ProductID)
	assert.Equal(t, "crypto.ETH", got.InstrumentID)
	assert.Equal(t, store.StatusEnabled, got.Status)
}

func TestGet_Missing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.GetInstrument(ctx, testTenant, "currency.fiat.GBP")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.GetProduct(ctx, testTenant, "currency.fiat.GBP")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetProduct_SameIDUnderTwoCategories(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	info := store.ProductInfo{ProductID: "currency.crypto.BTC"}
	require.NoError(t, s.AddProduct(ctx, testTenant, store.Fiat{ProductInfo: info}, ""))
	require.NoError(t, s.AddProduct(ctx, testTenant, store.Crypto{ProductInfo: info, ExternalAssetID: "btc"}, ""))

	got, found, err := s.GetProduct(ctx, testTenant, "currency.crypto.BTC")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, store.CategoryCrypto, got.Category())
}

func TestGetProductAs_WrongVariant(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddProduct(ctx, testTenant, store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency.fiat.USD"}}, ""))

	_, found, err := store.GetProductAs[store.Crypto](ctx, s, testTenant, "currency.fiat.USD")
	assert.ErrorIs(t, err, store.ErrUnexpectedVariant)
	assert.False(t, found)
}

func TestAdd_ValidationFailsBeforeIO(t *testing.T) {
	tests := []struct {
		name    string
		tenant  string
		product store.Product
		wantErr error
	}{
		{"malformed product ID", testTenant, store.Fiat{ProductInfo: store.ProductInfo{ProductID: "usd"}}, store.ErrInvalidID},
		{"blank ID part", testTenant, store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency..USD"}}, store.ErrInvalidID},
		{"malformed instrument ID", testTenant, store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency.fiat.USD", InstrumentID: "usd"}}, store.ErrInvalidID},
		{"tenant with separator", "ac#me", store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency.fiat.USD"}}, store.ErrInvalidTenant},
		{"blank tenant", " ", store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency.fiat.USD"}}, store.ErrInvalidTenant},
		{"bad color", testTenant, store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency.fiat.USD", Color: "red"}}, store.ErrInvalidEntity},
		{"bad status", testTenant, store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency.fiat.USD", Status: store.Status(7)}}, store.ErrInvalidStatus},
		{"negative supply", testTenant, func() store.Product {
			st := shareToken("share.token.LYS")
			st.TotalSupply = dec("-1")
			return st
		}(), store.ErrInvalidEntity},
		{"bad sub type", testTenant, copyrightToken("copyright.golden.SONG1", "c", "m", "Platinum", "0", false), store.ErrInvalidEntity},
		{"nil product", testTenant, (*store.Fiat)(nil), store.ErrInvalidEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fake := newTestStore(t)

			err := s.AddProduct(context.Background(), tt.tenant, tt.product, "")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, fake.Calls("TransactWriteItems"))
		})
	}
}

func TestAddInstrument_DuplicateLeavesFirstRow(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddInstrument(ctx, testTenant, store.Instrument{ID: "currency.fiat.USD", Name: "Dollar", NumberOfDecimalPlaces: 2}, ""))

	err := s.AddInstrument(ctx, testTenant, store.Instrument{ID: "currency.fiat.usd", Name: "Other", NumberOfDecimalPlaces: 4}, "")
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	inst, found, err := s.GetInstrument(ctx, testTenant, "currency.fiat.USD")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Dollar", inst.Name)
	assert.Equal(t, 2, inst.NumberOfDecimalPlaces)
}

func TestAddInstrument_TenantsAreIsolated(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	inst := store.Instrument{ID: "currency.fiat.USD", Name: "Dollar", NumberOfDecimalPlaces: 2}

	require.NoError(t, s.AddInstrument(ctx, "acme", inst, ""))
	require.NoError(t, s.AddInstrument(ctx, "globex", inst, ""))

	_, found, err := s.GetInstrument(ctx, "initech", "currency.fiat.USD")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAddProductWithInstrument(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	btc := store.Crypto{ProductInfo: store.ProductInfo{ProductID: "crypto.coin.BTC"}}
	inst := store.Instrument{ID: "crypto.coin.BTC", Name: "Bitcoin", NumberOfDecimalPlaces: 8}

	require.NoError(t, s.AddProductWithInstrument(ctx, testTenant, btc, inst, ""))

	p, found, err := store.GetProductAs[store.Crypto](ctx, s, testTenant, "crypto.coin.BTC")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "crypto.coin.BTC", p.InstrumentID)

	_, found, err = s.GetInstrument(ctx, testTenant, "crypto.coin.BTC")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestAddProductWithInstrument_ExistingInstrumentWritesNothing(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()
	inst := store.Instrument{ID: "crypto.coin.BTC", Name: "Bitcoin", NumberOfDecimalPlaces: 8}
	require.NoError(t, s.AddInstrument(ctx, testTenant, inst, ""))
	rows := len(fake.Items(testTable))

	err := s.AddProductWithInstrument(ctx, testTenant, store.Crypto{ProductInfo: store.ProductInfo{ProductID: "crypto.coin.BTC"}}, inst, "")
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	_, found, err := s.GetProduct(ctx, testTenant, "crypto.coin.BTC")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Len(t, fake.Items(testTable), rows)
}

func TestAddProductWithInstrument_MismatchedInstrument(t *testing.T) {
	s, fake := newTestStore(t)

	err := s.AddProductWithInstrument(context.Background(), testTenant,
		store.Crypto{ProductInfo: store.ProductInfo{ProductID: "crypto.coin.BTC", InstrumentID: "crypto.coin.ETH"}},
		store.Instrument{ID: "crypto.coin.BTC", Name: "Bitcoin"}, "")
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.Empty(t, fake.Items(testTable))
}

func TestAddInstrument_IdempotencyToken(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()
	inst := store.Instrument{ID: "currency.fiat.USD", Name: "Dollar", NumberOfDecimalPlaces: 2}

	require.NoError(t, s.AddInstrument(ctx, testTenant, inst, "req-1"))
	require.NoError(t, s.AddInstrument(ctx, testTenant, inst, "req-1"), "a retried request succeeds")
	assert.ErrorIs(t, s.AddInstrument(ctx, testTenant, inst, "req-2"), store.ErrAlreadyExists)
	assert.Equal(t, 3, fake.Calls("TransactWriteItems"))
}

// --- Update Tests ---

func TestUpdateProduct_PartialShareTokenPatch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	original := shareToken("share.token.LYS")
	require.NoError(t, s.AddProduct(ctx, testTenant, original, ""))

	require.NoError(t, s.UpdateProduct(ctx, testTenant, "share.token.LYS", store.ShareTokenPatch{
		IsFrozen:               ptr(true),
		BlockchainErrorMessage: ptr("paused by issuer"),
	}, ""))

	got, found, err := store.GetProductAs[store.ShareToken](ctx, s, testTenant, "share.token.LYS")
	require.NoError(t, err)
	require.True(t, found)

	want := original
	want.InstrumentID = "share.token.LYS"
	want.Status = store.StatusEnabled
	want.IsFrozen = true
	want.BlockchainErrorMessage = "paused by issuer"
	assert.Equal(t, want, got)
}

func TestUpdateProduct_MissingRow(t *testing.T) {
	s, fake := newTestStore(t)

	err := s.UpdateProduct(context.Background(), testTenant, "share.token.LYS", &store.ShareTokenPatch{Name: ptr("x")}, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, fake.Items(testTable))
}

func TestUpdateProduct_WrongVariantIsNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddProduct(ctx, testTenant, store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency.fiat.USD"}}, ""))

	err := s.UpdateProduct(ctx, testTenant, "currency.fiat.USD", store.CryptoPatch{Color: ptr("#000000")}, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateProduct_EmptyPatchWritesNothing(t *testing.T) {
	s, fake := newTestStore(t)

	require.NoError(t, s.UpdateProduct(context.Background(), testTenant, "currency.fiat.USD", store.FiatPatch{}, ""))
	assert.Zero(t, fake.Calls("TransactWriteItems"))
}

func TestUpdateProduct_InvalidPatch(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	err := s.UpdateProduct(ctx, testTenant, "currency.fiat.USD", store.FiatPatch{Color: ptr("blue")}, "")
	assert.ErrorIs(t, err, store.ErrInvalidEntity)

	err = s.UpdateProduct(ctx, testTenant, "copyright.golden.SONG1", store.CopyrightTokenPatch{TradingVolume: ptr(dec("-3"))}, "")
	assert.ErrorIs(t, err, store.ErrInvalidEntity)

	err = s.UpdateProduct(ctx, testTenant, "currency.fiat.USD", (*store.FiatPatch)(nil), "")
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.Zero(t, fake.Calls("TransactWriteItems"))
}

func TestUpdateProduct_InstrumentIDAndMintedFlag(t *testing.T) {
	tests := []struct {
		name    string
		product store.Product
		patch   func(instrumentID *string, minted *bool) store.ProductPatch
	}{
		{"crypto", store.Crypto{ProductInfo: store.ProductInfo{ProductID: "currency.crypto.BTC"}},
			func(i *string, m *bool) store.ProductPatch { return store.CryptoPatch{InstrumentID: i, IsMinted: m} }},
		{"fiat", store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency.fiat.USD"}},
			func(i *string, m *bool) store.ProductPatch { return store.FiatPatch{InstrumentID: i, IsMinted: m} }},
		{"simple", store.Simple{ProductInfo: store.ProductInfo{ProductID: "currency.simple.PTS"}},
			func(i *string, m *bool) store.ProductPatch { return &store.SimplePatch{InstrumentID: i, IsMinted: m} }},
		{"share token", shareToken("share.token.LYS"),
			func(i *string, m *bool) store.ProductPatch { return store.ShareTokenPatch{InstrumentID: i, IsMinted: m} }},
		{"copyright token", copyrightToken("copyright.golden.SONG1", "creator-1", "music-1", store.SubTypeGolden, "1", true),
			func(i *string, m *bool) store.ProductPatch { return store.CopyrightTokenPatch{InstrumentID: i, IsMinted: m} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			ctx := context.Background()
			require.NoError(t, s.AddProduct(ctx, testTenant, tt.product, ""))
			id := tt.product.Info().ProductID

			require.NoError(t, s.UpdateProduct(ctx, testTenant, id, tt.patch(ptr(" currency.USDT "), ptr(true)), ""))

			got, found, err := s.GetProduct(ctx, testTenant, id)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "currency.USDT", got.Info().InstrumentID)
			assert.True(t, got.Info().IsMinted)
			assert.Equal(t, tt.product.Category(), got.Category())

			require.NoError(t, s.UpdateProduct(ctx, testTenant, id, tt.patch(nil, ptr(false)), ""))
			got, _, err = s.GetProduct(ctx, testTenant, id)
			require.NoError(t, err)
			assert.Equal(t, "currency.USDT", got.Info().InstrumentID)
			assert.False(t, got.Info().IsMinted)
		})
	}
}

func TestUpdateProduct_MalformedInstrumentID(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddProduct(ctx, testTenant, store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency.fiat.USD"}}, ""))

	err := s.UpdateProduct(ctx, testTenant, "currency.fiat.USD", store.FiatPatch{InstrumentID: ptr("not-an-id")}, "")
	assert.ErrorIs(t, err, store.ErrInvalidID)
	assert.Equal(t, 1, fake.Calls("TransactWriteItems"))

	got, _, err := s.GetProduct(ctx, testTenant, "currency.fiat.USD")
	require.NoError(t, err)
	assert.Equal(t, "currency.fiat.USD", got.Info().InstrumentID)
}

func TestTradingVolumeAboveIndexRangeIsRejected(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()
	huge := dec("1e20")

	ct := copyrightToken("copyright.golden.SONG1", "creator-1", "music-1", store.SubTypeGolden, "0", true)
	ct.TradingVolume = huge
	assert.ErrorIs(t, s.AddProduct(ctx, testTenant, ct, ""), store.ErrInvalidEntity)

	err := s.UpdateProduct(ctx, testTenant, "copyright.golden.SONG1", store.CopyrightTokenPatch{TradingVolume: &huge}, "")
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.Zero(t, fake.Calls("TransactWriteItems"))

	ct.TradingVolume = keys.MaxTradingVolume
	assert.NoError(t, s.AddProduct(ctx, testTenant, ct, ""))
}

func TestUpdateProduct_CopyrightMarketIndexesFollow(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()
	ct := copyrightToken("copyright.golden.SONG1", "creator-1", "music-1", store.SubTypeGolden, "1", false)
	require.NoError(t, s.AddProduct(ctx, testTenant, ct, ""))

	available, err := s.CopyrightTokensAvailableForSecondaryMarket(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, available)

	require.NoError(t, s.UpdateProduct(ctx, testTenant, "copyright.golden.SONG1", store.CopyrightTokenPatch{
		AvailableForSecondaryMarket: ptr(true),
		TradingVolume:               ptr(dec("99.5")),
	}, "patch-1"))

	ranked, err := s.CopyrightTokensRankedByTradingVolume(ctx, testTenant, 0)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.True(t, ranked[0].TradingVolume.Equal(dec("99.5")))
	assert.True(t, ranked[0].AvailableForSecondaryMarket)

	for _, row := range fake.Items(testTable) {
		drift, err := store.IndexDrift(row)
		require.NoError(t, err)
		assert.Empty(t, drift)
	}
}

func TestUpdateProductStatus(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddProduct(ctx, testTenant, store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency.fiat.USD"}}, ""))
	require.NoError(t, s.AddProduct(ctx, testTenant, store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency.fiat.EUR"}}, ""))

	require.NoError(t, s.UpdateProductStatus(ctx, testTenant, "currency.fiat.USD", store.CategoryFiat, store.StatusDisabled))

	page, err := s.ListEnabledProductsPaginated(ctx, testTenant, 10, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "currency.fiat.EUR", page.Items[0].Info().ProductID)

	usd, _, err := s.GetProduct(ctx, testTenant, "currency.fiat.USD")
	require.NoError(t, err)
	assert.Equal(t, store.StatusDisabled, usd.Info().Status)

	assert.ErrorIs(t, s.UpdateProductStatus(ctx, testTenant, "currency.fiat.USD", store.CategoryFiat, store.Status(9)), store.ErrInvalidStatus)
	assert.ErrorIs(t, s.UpdateProductStatus(ctx, testTenant, "currency.fiat.GBP", store.CategoryFiat, store.StatusEnabled), store.ErrNotFound)
}

func TestUpdateInstrumentStatusAndFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddInstrument(ctx, testTenant, store.Instrument{ID: "currency.fiat.USD", Name: "Dollar", NumberOfDecimalPlaces: 2}, ""))

	require.NoError(t, s.UpdateInstrumentStatus(ctx, testTenant, "currency.fiat.USD", store.StatusDisabled))
	require.NoError(t, s.UpdateInstrument(ctx, testTenant, "currency.fiat.USD", store.InstrumentPatch{Name: ptr("US Dollar")}))

	inst, found, err := s.GetInstrument(ctx, testTenant, "currency.fiat.USD")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, store.Instrument{ID: "currency.fiat.USD", Name: "US Dollar", NumberOfDecimalPlaces: 2, Status: store.StatusDisabled}, inst)

	enabled, err := s.ListEnabledInstrumentsPaginated(ctx, testTenant, 10, "")
	require.NoError(t, err)
	assert.Empty(t, enabled.Items)

	assert.ErrorIs(t, s.UpdateInstrument(ctx, testTenant, "currency.fiat.GBP", store.InstrumentPatch{NumberOfDecimalPlaces: ptr(2)}), store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateInstrument(ctx, testTenant, "currency.fiat.USD", store.InstrumentPatch{NumberOfDecimalPlaces: ptr(40)}), store.ErrInvalidEntity)
}

func TestMarkProductMinted(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	ct := copyrightToken("copyright.golden.SONG1", "creator-1", "music-1", store.SubTypeGolden, "0", false)
	require.NoError(t, s.AddProduct(ctx, testTenant, ct, ""))

	require.NoError(t, s.MarkProductMinted(ctx, testTenant, "copyright.golden.SONG1", store.CategoryCopyrightToken))

	got, _, err := store.GetProductAs[store.CopyrightToken](ctx, s, testTenant, "copyright.golden.SONG1")
	require.NoError(t, err)
	assert.True(t, got.IsMinted)

	err = s.MarkProductMinted(ctx, testTenant, "copyright.golden.SONG1", store.CategoryCopyrightToken)
	assert.ErrorIs(t, err, store.ErrAlreadyMinted)

	err = s.MarkProductMinted(ctx, testTenant, "copyright.golden.SONG2", store.CategoryCopyrightToken)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Remove Tests ---

func TestRemove(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()
	btc := store.Crypto{ProductInfo: store.ProductInfo{ProductID: "crypto.coin.BTC"}}
	require.NoError(t, s.AddProductWithInstrument(ctx, testTenant, btc, store.Instrument{ID: "crypto.coin.BTC", Name: "Bitcoin"}, ""))
	require.NoError(t, s.AddProduct(ctx, testTenant, store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency.fiat.USD"}}, ""))
	require.NoError(t, s.AddInstrument(ctx, testTenant, store.Instrument{ID: "currency.fiat.USD", Name: "Dollar"}, ""))

	require.NoError(t, s.RemoveProductWithInstrument(ctx, testTenant, "crypto.coin.BTC", store.CategoryCrypto, "crypto.coin.BTC"))
	require.NoError(t, s.RemoveProduct(ctx, testTenant, "currency.fiat.USD", store.CategoryFiat))
	require.NoError(t, s.RemoveInstrument(ctx, testTenant, "currency.fiat.USD"))
	assert.Empty(t, fake.Items(testTable))

	require.NoError(t, s.RemoveProduct(ctx, testTenant, "currency.fiat.USD", store.CategoryFiat), "removing a missing product succeeds")
	assert.ErrorIs(t, s.RemoveProduct(ctx, testTenant, "currency.fiat.USD", "GOLD"), store.ErrInvalidEntity)
}

// --- Scan / Query Tests ---

func TestListAllAndByType(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddProduct(ctx, testTenant, store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency.fiat.USD"}}, ""))
	require.NoError(t, s.AddProduct(ctx, testTenant, store.Crypto{ProductInfo: store.ProductInfo{ProductID: "crypto.coin.BTC"}}, ""))
	require.NoError(t, s.AddProduct(ctx, testTenant, store.Crypto{ProductInfo: store.ProductInfo{ProductID: "crypto.coin.ADA"}}, ""))
	require.NoError(t, s.AddProduct(ctx, "globex", store.Crypto{ProductInfo: store.ProductInfo{ProductID: "crypto.coin.XRP"}}, ""))
	require.NoError(t, s.AddInstrument(ctx, testTenant, store.Instrument{ID: "currency.fiat.USD", Name: "Dollar"}, ""))

	all, err := s.ListAllProducts(ctx, testTenant)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	instruments, err := s.ListAllInstruments(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, instruments, 1)
	assert.Equal(t, "currency.fiat.USD", instruments[0].ID)

	cryptos, err := store.ListProductsOf[store.Crypto](ctx, s, testTenant)
	require.NoError(t, err)
	assert.Len(t, cryptos, 2)

	byType, err := s.ListProductsByType(ctx, testTenant, "crypto")
	require.NoError(t, err)
	require.Len(t, byType, 2)
	assert.Equal(t, "crypto.coin.ADA", byType[0].Info().ProductID)
	assert.Equal(t, "crypto.coin.BTC", byType[1].Info().ProductID)

	_, err = s.ListProductsByType(ctx, testTenant, "bond")
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}

func TestUnmappedRecordsAreSkippedAndLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s, fake := newTestStoreWithLogger(t, zap.New(core))
	ctx := context.Background()
	require.NoError(t, s.AddProduct(ctx, testTenant, store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency.fiat.USD"}}, ""))
	require.NoError(t, fake.Put(testTable, map[string]types.AttributeValue{
		store.AttrPartitionKey:         &types.AttributeValueMemberS{Value: keys.ProductPK(testTenant, "bond.gov.UST")},
		store.AttrSortKey:              &types.AttributeValueMemberS{Value: "BOND"},
		store.AttrProductCategory:      &types.AttributeValueMemberS{Value: "BOND"},
		store.AttrProductID:            &types.AttributeValueMemberS{Value: "bond.gov.UST"},
		store.AttrProductsPartitionKey: &types.AttributeValueMemberS{Value: keys.Tenant(testTenant)},
		store.AttrProductsSortKey:      &types.AttributeValueMemberS{Value: "BOND#bond.gov.UST"},
	}))

	all, err := s.ListAllProducts(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "currency.fiat.USD", all[0].Info().ProductID)

	page, err := s.ListProductsPaginated(ctx, testTenant, "", 10, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	assert.Equal(t, 2, logs.FilterMessage("skipping unmapped record").Len())

	_, _, err = s.GetProduct(ctx, testTenant, "bond.gov.UST")
	assert.ErrorIs(t, err, store.ErrUnmapped)
	assert.True(t, store.IsUnmapped(err))
}

func TestCopyrightTokenQueries(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	tokens := []store.CopyrightToken{
		copyrightToken("copyright.golden.SONG1", "creator-1", "music-1", store.SubTypeGolden, "5", true),
		copyrightToken("copyright.diamond.SONG1", "creator-1", "music-1", store.SubTypeDiamond, "100", true),
		copyrightToken("copyright.golden.SONG2", "creator-2", "music-2", store.SubTypeGolden, "20.5", true),
		copyrightToken("copyright.golden.SONG3", "creator-2", "music-3", store.SubTypeGolden, "1000", false),
	}
	for _, ct := range tokens {
		require.NoError(t, s.AddProduct(ctx, testTenant, ct, ""))
	}

	ids := func(tokens []store.CopyrightToken) []string {
		out := make([]string, len(tokens))
		for i, ct := range tokens {
			out[i] = ct.ProductID
		}
		return out
	}

	byCreator, err := s.CopyrightTokensByCreator(ctx, testTenant, "creator-2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"copyright.golden.SONG2", "copyright.golden.SONG3"}, ids(byCreator))

	byMusic, err := s.CopyrightTokensByExternalMusicID(ctx, testTenant, "music-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"copyright.diamond.SONG1", "copyright.golden.SONG1"}, ids(byMusic))

	byMusicIDs, err := s.CopyrightTokensByExternalMusicIDs(ctx, testTenant, []string{"music-2", "music-1", "music-2", "music-9"})
	require.NoError(t, err)
	assert.Equal(t, []string{"copyright.golden.SONG2", "copyright.diamond.SONG1", "copyright.golden.SONG1"}, ids(byMusicIDs))

	available, err := s.CopyrightTokensAvailableForSecondaryMarket(ctx, testTenant)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"copyright.golden.SONG1", "copyright.diamond.SONG1", "copyright.golden.SONG2"}, ids(available))

	ranked, err := s.CopyrightTokensRankedByTradingVolume(ctx, testTenant, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"copyright.diamond.SONG1", "copyright.golden.SONG2", "copyright.golden.SONG1"}, ids(ranked))

	top, err := s.CopyrightTokensRankedByTradingVolume(ctx, testTenant, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"copyright.diamond.SONG1"}, ids(top))

	first, err := s.CopyrightTokensRankedByTradingVolumePaginated(ctx, testTenant, 2, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"copyright.diamond.SONG1", "copyright.golden.SONG2"}, ids(first.Items))
	require.True(t, first.HasNext)

	second, err := s.CopyrightTokensRankedByTradingVolumePaginated(ctx, testTenant, 2, first.Next)
	require.NoError(t, err)
	assert.Equal(t, []string{"copyright.golden.SONG1"}, ids(second.Items))
	assert.False(t, second.HasNext)
	assert.True(t, second.HasPrevious)

	back, err := s.CopyrightTokensRankedByTradingVolumePaginated(ctx, testTenant, 2, second.Previous)
	require.NoError(t, err)
	assert.Equal(t, ids(first.Items), ids(back.Items))
	assert.False(t, back.HasPrevious)
}

// --- Repair Tests ---

func TestRepairIndexKeys(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddProduct(ctx, testTenant, store.Fiat{ProductInfo: store.ProductInfo{ProductID: "currency.fiat.USD"}}, ""))

	key := map[string]types.AttributeValue{
		store.AttrPartitionKey: &types.AttributeValueMemberS{Value: keys.ProductPK(testTenant, "currency.fiat.USD")},
		store.AttrSortKey:      &types.AttributeValueMemberS{Value: "FIAT"},
	}
	row := fake.Item(testTable, key)
	delete(row, store.AttrProductsSortKey)
	row[store.AttrProductStatusPartitionKey] = &types.AttributeValueMemberS{Value: keys.TenantStatus(testTenant, 2)}
	require.NoError(t, fake.Put(testTable, row))

	repaired, err := s.RepairIndexKeys(ctx, row)
	require.NoError(t, err)
	assert.Equal(t, []string{store.AttrProductStatusPartitionKey, store.AttrProductsSortKey}, repaired)

	fixed := fake.Item(testTable, key)
	drift, err := store.IndexDrift(fixed)
	require.NoError(t, err)
	assert.Empty(t, drift)

	repaired, err = s.RepairIndexKeys(ctx, fixed)
	require.NoError(t, err)
	assert.Empty(t, repaired)

	require.NoError(t, s.RemoveProduct(ctx, testTenant, "currency.fiat.USD", store.CategoryFiat))
	_, err = s.RepairIndexKeys(ctx, row)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
