package ddbfake

import (
	"context"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func (c *Client) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	if err := c.begin(ctx, "CreateTable", in); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	name := aws.ToString(in.TableName)
	if _, exists := c.tables[name]; exists {
		return nil, &types.ResourceInUseException{Message: aws.String("Table already exists: " + name)}
	}
	key, err := newKeyDef(in.KeySchema)
	if err != nil {
		return nil, err
	}
	t := &table{
		name:     name,
		key:      key,
		schema:   in.KeySchema,
		attrDefs: in.AttributeDefinitions,
		billing:  in.BillingMode,
		rows:     make(map[string]item),
	}
	if t.billing == "" {
		t.billing = types.BillingModeProvisioned
	}
	for _, attr := range key.names {
		if t.attrType(attr) == "" {
			return nil, validationError("One or more parameter values were invalid: Missing attribute definition for " + attr)
		}
	}
	for _, gsi := range in.GlobalSecondaryIndexes {
		idx, err := t.newIndex(gsi.IndexName, gsi.KeySchema, gsi.Projection)
		if err != nil {
			return nil, err
		}
		idx.status = types.IndexStatusActive
		t.indexes = append(t.indexes, idx)
	}
	c.tables[name] = t
	return &dynamodb.CreateTableOutput{TableDescription: t.describe()}, nil
}

func (t *table) newIndex(name *string, schema []types.KeySchemaElement, projection *types.Projection) (*index, error) {
	if aws.ToString(name) == "" {
		return nil, validationError("IndexName is required")
	}
	if t.index(aws.ToString(name)) != nil {
		return nil, validationError("Attempting to create an index which already exists: " + aws.ToString(name))
	}
	key, err := newKeyDef(schema)
	if err != nil {
		return nil, err
	}
	for _, attr := range key.names {
		if t.attrType(attr) == "" {
			return nil, validationError("One or more parameter values were invalid: Missing attribute definition for " + attr)
		}
	}
	return &index{name: aws.ToString(name), key: key, schema: schema, projection: projection}, nil
}

func (c *Client) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if err := c.begin(ctx, "DescribeTable", in); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	desc := t.describe()
	t.advanceIndexes()
	return &dynamodb.DescribeTableOutput{Table: desc}, nil
}

// advanceIndexes moves pending index creations and deletions one poll forward.
func (t *table) advanceIndexes() {
	kept := t.indexes[:0]
	for _, idx := range t.indexes {
		if idx.pending > 0 {
			idx.pending--
		}
		if idx.pending == 0 {
			switch idx.status {
			case types.IndexStatusCreating:
				idx.status = types.IndexStatusActive
			case types.IndexStatusDeleting:
				continue
			}
		}
		kept = append(kept, idx)
	}
	t.indexes = kept
}

func (t *table) describe() *types.TableDescription {
	desc := &types.TableDescription{
		TableName:            aws.String(t.name),
		TableArn:             aws.String("arn:aws:dynamodb:local:000000000000:table/" + t.name),
		TableStatus:          types.TableStatusActive,
		KeySchema:            t.schema,
		AttributeDefinitions: t.attrDefs,
		ItemCount:            aws.Int64(int64(len(t.rows))),
		CreationDateTime:     aws.Time(time.Unix(0, 0).UTC()),
		BillingModeSummary:   &types.BillingModeSummary{BillingMode: t.billing},
	}
	for _, idx := range t.indexes {
		desc.GlobalSecondaryIndexes = append(desc.GlobalSecondaryIndexes, types.GlobalSecondaryIndexDescription{
			IndexName:   aws.String(idx.name),
			KeySchema:   idx.schema,
			Projection:  idx.projection,
			IndexStatus: idx.status,
		})
	}
	return desc
}

func (c *Client) UpdateTable(ctx context.Context, in *dynamodb.UpdateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	if err := c.begin(ctx, "UpdateTable", in); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	if len(in.GlobalSecondaryIndexUpdates) > 1 {
		return nil, &types.LimitExceededException{Message: aws.String("Subscriber limit exceeded: Only 1 online index can be created or deleted simultaneously per table")}
	}
	if len(in.GlobalSecondaryIndexUpdates) == 1 {
		for _, idx := range t.indexes {
			if idx.status != types.IndexStatusActive {
				return nil, &types.LimitExceededException{Message: aws.String("Subscriber limit exceeded: Only 1 online index can be created or deleted simultaneously per table")}
			}
		}
	}

	defs := append([]types.AttributeDefinition(nil), t.attrDefs...)
	for _, d := range in.AttributeDefinitions {
		if t.attrType(aws.ToString(d.AttributeName)) == "" {
			defs = append(defs, d)
		}
	}
	t.attrDefs = defs

	for _, u := range in.GlobalSecondaryIndexUpdates {
		switch {
		case u.Create != nil:
			idx, err := t.newIndex(u.Create.IndexName, u.Create.KeySchema, u.Create.Projection)
			if err != nil {
				return nil, err
			}
			idx.status = types.IndexStatusActive
			if c.IndexActivationPolls > 0 {
				idx.status = types.IndexStatusCreating
				idx.pending = c.IndexActivationPolls
			}
			t.indexes = append(t.indexes, idx)
		case u.Delete != nil:
			name := aws.ToString(u.Delete.IndexName)
			idx := t.index(name)
			if idx == nil {
				return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: Index: " + name)}
			}
			if c.IndexActivationPolls > 0 {
				idx.status = types.IndexStatusDeleting
				idx.pending = c.IndexActivationPolls
			} else {
				t.indexes = slices.DeleteFunc(t.indexes, func(i *index) bool { return i == idx })
			}
		}
	}
	if in.BillingMode != "" {
		t.billing = in.BillingMode
	}
	return &dynamodb.UpdateTableOutput{TableDescription: t.describe()}, nil
}

func (c *Client) DeleteTable(ctx context.Context, in *dynamodb.DeleteTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	if err := c.begin(ctx, "DeleteTable", in); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	delete(c.tables, t.name)
	return &dynamodb.DeleteTableOutput{TableDescription: t.describe()}, nil
}
