package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/jacentio/lyra/internal/keys"
)

// AddInstrument creates an instrument. An instrument with the same ID yields ErrAlreadyExists.
func (s *Store) AddInstrument(ctx context.Context, tenant string, inst Instrument, idempotencyToken string) error {
	inst, err := normalizeInstrument(tenant, inst)
	if err != nil {
		return err
	}
	put, err := s.conditionalPut(encodeInstrument(tenant, inst))
	if err != nil {
		return err
	}
	return s.transact(ctx, "add_instrument", idempotencyToken, ErrAlreadyExists, put)
}

// AddProduct creates a product of any variant. A product with the same ID and
// category yields ErrAlreadyExists.
func (s *Store) AddProduct(ctx context.Context, tenant string, p Product, idempotencyToken string) error {
	p, err := normalizeProduct(tenant, p)
	if err != nil {
		return err
	}
	item, err := encodeProduct(tenant, p)
	if err != nil {
		return err
	}
	put, err := s.conditionalPut(item)
	if err != nil {
		return err
	}
	return s.transact(ctx, "add_product", idempotencyToken, ErrAlreadyExists, put)
}

// AddProductWithInstrument creates a product and its instrument in one
// transaction. Either both rows are written or neither is.
// A product without an instrument ID is linked to inst.
func (s *Store) AddProductWithInstrument(ctx context.Context, tenant string, p Product, inst Instrument, idempotencyToken string) error {
	inst, err := normalizeInstrument(tenant, inst)
	if err != nil {
		return err
	}
	if p = derefProduct(p); p != nil && p.Info().InstrumentID == "" {
		info := p.Info()
		info.InstrumentID = inst.ID
		if p, err = withInfo(p, info); err != nil {
			return err
		}
	}
	p, err = normalizeProduct(tenant, p)
	if err != nil {
		return err
	}
	if p.Info().InstrumentID != inst.ID {
		return fmt.Errorf("%w: product %s references instrument %s, not %s",
			ErrInvalidEntity, p.Info().ProductID, p.Info().InstrumentID, inst.ID)
	}

	instPut, err := s.conditionalPut(encodeInstrument(tenant, inst))
	if err != nil {
		return err
	}
	item, err := encodeProduct(tenant, p)
	if err != nil {
		return err
	}
	productPut, err := s.conditionalPut(item)
	if err != nil {
		return err
	}
	return s.transact(ctx, "add_product_with_instrument", idempotencyToken, ErrAlreadyExists, instPut, productPut)
}

// UpdateProduct applies the supplied fields of patch to an existing product.
// The patch variant selects the row; a missing row yields ErrNotFound.
// An empty patch writes nothing.
func (s *Store) UpdateProduct(ctx context.Context, tenant, productID string, patch ProductPatch, idempotencyToken string) error {
	if err := keys.ValidateTenant(tenant); err != nil {
		return err
	}
	id, err := keys.ParseProductID(productID)
	if err != nil {
		return err
	}
	patch = derefPatch(patch)
	if patch == nil {
		return fmt.Errorf("%w: nil patch", ErrInvalidEntity)
	}
	if err := validateStruct(patch); err != nil {
		return err
	}
	attrs, err := patch.Writes()
	if err != nil {
		return err
	}
	if len(attrs) == 0 {
		return nil
	}
	if ct, ok := patch.(CopyrightTokenPatch); ok {
		if ct.AvailableForSecondaryMarket != nil {
			maps.Copy(attrs, marketKeyAttributes(tenant, id.String(), *ct.AvailableForSecondaryMarket))
		}
		if ct.TradingVolume != nil {
			attrs[AttrCopyrightTradingVolumeSortKey] = strAttr(keys.TradingVolumeSK(*ct.TradingVolume))
		}
	}

	key := primaryKey(keys.ProductPK(tenant, id.String()), keys.ProductSK(string(patch.Category())))
	expr, err := expression.NewBuilder().
		WithCondition(existsCondition()).
		WithUpdate(SetAll(expression.UpdateBuilder{}, attrs)).
		Build()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	update := types.TransactWriteItem{Update: &types.Update{
		TableName:                 aws.String(s.config.TableName),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}}
	return s.transact(ctx, "update_product", idempotencyToken, ErrNotFound, update)
}

// UpdateProductStatus sets the status of a product and moves it within the status index.
func (s *Store) UpdateProductStatus(ctx context.Context, tenant, productID string, category Category, status Status) error {
	if err := keys.ValidateTenant(tenant); err != nil {
		return err
	}
	id, err := keys.ParseProductID(productID)
	if err != nil {
		return err
	}
	cat, ok := ParseCategory(string(category))
	if !ok {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidEntity, category)
	}
	if !status.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, status)
	}
	status = status.Normalize()
	attrs := map[string]types.AttributeValue{
		AttrProductStatus:             intAttr(int(status)),
		AttrProductStatusPartitionKey: strAttr(keys.TenantStatus(tenant, int(status))),
		AttrProductStatusSortKey:      strAttr(keys.ProductIndexSK(string(cat), id.String())),
	}
	key := primaryKey(keys.ProductPK(tenant, id.String()), keys.ProductSK(string(cat)))
	return s.updateExisting(ctx, "update_product_status", key, attrs)
}

// UpdateInstrumentStatus sets the status of an instrument and moves it within the status index.
func (s *Store) UpdateInstrumentStatus(ctx context.Context, tenant, instrumentID string, status Status) error {
	if err := keys.ValidateTenant(tenant); err != nil {
		return err
	}
	id, err := keys.ParseInstrumentID(instrumentID)
	if err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, status)
	}
	status = status.Normalize()
	attrs := map[string]types.AttributeValue{
		AttrInstrumentStatus:             intAttr(int(status)),
		AttrInstrumentStatusPartitionKey: strAttr(keys.TenantStatus(tenant, int(status))),
		AttrInstrumentStatusSortKey:      strAttr(keys.InstrumentIndexSK(id.String())),
	}
	key := primaryKey(keys.InstrumentPK(tenant, id.String()), keys.InstrumentSortKey)
	return s.updateExisting(ctx, "update_instrument_status", key, attrs)
}

// UpdateInstrument applies the supplied fields of patch to an existing instrument.
func (s *Store) UpdateInstrument(ctx context.Context, tenant, instrumentID string, patch InstrumentPatch) error {
	if err := keys.ValidateTenant(tenant); err != nil {
		return err
	}
	id, err := keys.ParseInstrumentID(instrumentID)
	if err != nil {
		return err
	}
	if err := validateStruct(patch); err != nil {
		return err
	}
	attrs := patch.Writes()
	if len(attrs) == 0 {
		return nil
	}
	key := primaryKey(keys.InstrumentPK(tenant, id.String()), keys.InstrumentSortKey)
	return s.updateExisting(ctx, "update_instrument", key, attrs)
}

// MarkProductMinted flags a product as minted. A product that is already
// minted yields ErrAlreadyMinted; a missing one yields ErrNotFound.
func (s *Store) MarkProductMinted(ctx context.Context, tenant, productID string, category Category) error {
	if err := keys.ValidateTenant(tenant); err != nil {
		return err
	}
	id, err := keys.ParseProductID(productID)
	if err != nil {
		return err
	}
	cat, ok := ParseCategory(string(category))
	if !ok {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidEntity, category)
	}

	notMinted := expression.AttributeNotExists(expression.NameNoDotSplit(AttrProductIsMinted)).
		Or(expression.NameNoDotSplit(AttrProductIsMinted).NotEqual(expression.Value(true)))
	cond := existsCondition().And(notMinted)
	expr, err := expression.NewBuilder().
		WithCondition(cond).
		WithUpdate(expression.Set(expression.NameNoDotSplit(AttrProductIsMinted), expression.Value(true))).
		Build()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.config.TableName),
		Key:                                 primaryKey(keys.ProductPK(tenant, id.String()), keys.ProductSK(string(cat))),
		UpdateExpression:                    expr.Update(),
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		if len(condErr.Item) > 0 {
			return ErrAlreadyMinted
		}
		return ErrNotFound
	}
	if err != nil {
		s.logAPIError("mark_product_minted", err)
	}
	return err
}

// RemoveProduct deletes a product. Removing a missing product succeeds.
func (s *Store) RemoveProduct(ctx context.Context, tenant, productID string, category Category) error {
	key, err := productKey(tenant, productID, category)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.TableName),
		Key:       key,
	})
	if err != nil {
		s.logAPIError("delete_item", err)
	}
	return err
}

// RemoveInstrument deletes an instrument. Removing a missing instrument succeeds.
func (s *Store) RemoveInstrument(ctx context.Context, tenant, instrumentID string) error {
	key, err := instrumentKey(tenant, instrumentID)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.TableName),
		Key:       key,
	})
	if err != nil {
		s.logAPIError("delete_item", err)
	}
	return err
}

// RemoveProductWithInstrument deletes a product and an instrument in one transaction.
func (s *Store) RemoveProductWithInstrument(ctx context.Context, tenant, productID string, category Category, instrumentID string) error {
	pKey, err := productKey(tenant, productID, category)
	if err != nil {
		return err
	}
	iKey, err := instrumentKey(tenant, instrumentID)
	if err != nil {
		return err
	}
	return s.transact(ctx, "remove_product_with_instrument", "", nil,
		types.TransactWriteItem{Delete: &types.Delete{TableName: aws.String(s.config.TableName), Key: pKey}},
		types.TransactWriteItem{Delete: &types.Delete{TableName: aws.String(s.config.TableName), Key: iKey}},
	)
}

// RepairIndexKeys rewrites the derived index attributes of raw that no longer
// match its fields and returns their names. A consistent row is left alone.
// A row deleted in the meantime yields ErrNotFound.
func (s *Store) RepairIndexKeys(ctx context.Context, raw map[string]types.AttributeValue) ([]string, error) {
	drift, err := IndexDrift(raw)
	if err != nil {
		return nil, err
	}
	if len(drift) == 0 {
		return nil, nil
	}
	if err := s.updateExisting(ctx, "repair_index_keys", KeyOf(raw), drift); err != nil {
		return nil, err
	}
	names := slices.Sorted(maps.Keys(drift))
	s.logger.Info("repaired index keys",
		zap.String("partition_key", getString(raw, AttrPartitionKey)),
		zap.String("sort_key", getString(raw, AttrSortKey)),
		zap.Strings("attributes", names))
	return names, nil
}

// updateExisting sets attrs on an existing row. A missing row yields ErrNotFound.
func (s *Store) updateExisting(ctx context.Context, op string, key, attrs map[string]types.AttributeValue) error {
	expr, err := expression.NewBuilder().
		WithCondition(existsCondition()).
		WithUpdate(SetAll(expression.UpdateBuilder{}, attrs)).
		Build()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.TableName),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return s.mapConditionError(op, err, ErrNotFound)
}

// conditionalPut builds a transactional put that requires the row to be absent.
func (s *Store) conditionalPut(item map[string]types.AttributeValue) (types.TransactWriteItem, error) {
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.NameNoDotSplit(AttrPartitionKey))).
		Build()
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("build condition: %w", err)
	}
	return types.TransactWriteItem{Put: &types.Put{
		TableName:                aws.String(s.config.TableName),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	}}, nil
}

// transact runs items as one transaction. A failed condition is returned as
// onConditionFailed when it is set.
func (s *Store) transact(ctx context.Context, op, token string, onConditionFailed error, items ...types.TransactWriteItem) error {
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:      items,
		ClientRequestToken: clientRequestToken(token),
	})
	if err == nil {
		return nil
	}
	if onConditionFailed != nil && isConditionFailure(err) {
		return onConditionFailed
	}
	s.logAPIError(op, err)
	return err
}

func existsCondition() expression.ConditionBuilder {
	return expression.AttributeExists(expression.NameNoDotSplit(AttrPartitionKey))
}

func productKey(tenant, productID string, category Category) (map[string]types.AttributeValue, error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	id, err := keys.ParseProductID(productID)
	if err != nil {
		return nil, err
	}
	cat, ok := ParseCategory(string(category))
	if !ok {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidEntity, category)
	}
	return primaryKey(keys.ProductPK(tenant, id.String()), keys.ProductSK(string(cat))), nil
}

func instrumentKey(tenant, instrumentID string) (map[string]types.AttributeValue, error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	id, err := keys.ParseInstrumentID(instrumentID)
	if err != nil {
		return nil, err
	}
	return primaryKey(keys.InstrumentPK(tenant, id.String()), keys.InstrumentSortKey), nil
}
