// Package ddbfake is an in-memory DynamoDB for tests.
//
// It implements the table, item, query, scan and transaction calls used by
// the catalog store and migrator, evaluating condition, key condition,
// filter and update expressions the way DynamoDB does for top-level
// attributes. Rows are ordered by key so pagination is deterministic.
package ddbfake

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Client is an in-memory DynamoDB. The zero value is not usable; call New.
type Client struct {
	// PageSize caps the rows one Query or Scan call evaluates, standing in for
	// the 1 MB page limit. Zero means no cap.
	PageSize int

	// IndexActivationPolls is how many DescribeTable calls a new index stays
	// CREATING, or a deleted one stays DELETING.
	IndexActivationPolls int

	// Intercept runs before every call. A non-nil error is returned in place
	// of the call's result.
	Intercept func(op string, input any) error

	mu     sync.Mutex
	tables map[string]*table
	tokens map[string]bool
	calls  map[string]int
}

// New returns an empty Client.
func New() *Client {
	return &Client{
		tables: make(map[string]*table),
		tokens: make(map[string]bool),
		calls:  make(map[string]int),
	}
}

type keyDef struct {
	hash  string
	rng   string
	names []string
}

func newKeyDef(schema []types.KeySchemaElement) (keyDef, error) {
	var k keyDef
	for _, e := range schema {
		switch e.KeyType {
		case types.KeyTypeHash:
			k.hash = aws.ToString(e.AttributeName)
		case types.KeyTypeRange:
			k.rng = aws.ToString(e.AttributeName)
		}
	}
	if k.hash == "" {
		return keyDef{}, validationError("key schema has no HASH element")
	}
	k.names = []string{k.hash}
	if k.rng != "" {
		k.names = append(k.names, k.rng)
	}
	return k, nil
}

type index struct {
	name       string
	key        keyDef
	schema     []types.KeySchemaElement
	projection *types.Projection
	status     types.IndexStatus
	pending    int
}

type table struct {
	name     string
	key      keyDef
	schema   []types.KeySchemaElement
	attrDefs []types.AttributeDefinition
	billing  types.BillingMode
	indexes  []*index
	rows     map[string]item
}

func (t *table) index(name string) *index {
	for _, idx := range t.indexes {
		if idx.name == name {
			return idx
		}
	}
	return nil
}

func (t *table) rowID(key item) (string, error) {
	var id string
	for _, name := range t.key.names {
		v, ok := key[name]
		if !ok {
			return "", validationError("The provided key element does not match the schema")
		}
		id += scalarString(v) + "\x00"
	}
	return id, nil
}

func (t *table) keyOf(it item, idx *index) item {
	out := item{}
	for _, name := range t.key.names {
		out[name] = it[name]
	}
	if idx != nil {
		for _, name := range idx.key.names {
			out[name] = it[name]
		}
	}
	return out
}

func scalarString(v types.AttributeValue) string {
	switch x := v.(type) {
	case *types.AttributeValueMemberS:
		return "S" + x.Value
	case *types.AttributeValueMemberN:
		return "N" + x.Value
	case *types.AttributeValueMemberB:
		return "B" + base64.StdEncoding.EncodeToString(x.Value)
	}
	return "?"
}

func validationError(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg}
}

func notFound(name string) error {
	return &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: Table: " + name + " not found")}
}

func copyItem(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func (c *Client) begin(ctx context.Context, op string, input any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Intercept != nil {
		if err := c.Intercept(op, input); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.calls[op]++
	c.mu.Unlock()
	return nil
}

func (c *Client) table(name *string) (*table, error) {
	t, ok := c.tables[aws.ToString(name)]
	if !ok {
		return nil, notFound(aws.ToString(name))
	}
	return t, nil
}

// Calls reports how many times op was invoked, e.g. "UpdateItem".
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Put stores a row as-is, bypassing conditions and index validation.
func (c *Client) Put(tableName string, row map[string]types.AttributeValue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.table(&tableName)
	if err != nil {
		return err
	}
	id, err := t.rowID(row)
	if err != nil {
		return err
	}
	t.rows[id] = copyItem(row)
	return nil
}

// Item returns a copy of the row with the given primary key, or nil.
func (c *Client) Item(tableName string, key map[string]types.AttributeValue) map[string]types.AttributeValue {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.table(&tableName)
	if err != nil {
		return nil
	}
	id, err := t.rowID(key)
	if err != nil {
		return nil
	}
	return copyItem(t.rows[id])
}

// Items returns copies of every row ordered by primary key.
func (c *Client) Items(tableName string) []map[string]types.AttributeValue {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.table(&tableName)
	if err != nil {
		return nil
	}
	rows := t.sorted(nil)
	out := make([]map[string]types.AttributeValue, len(rows))
	for i, r := range rows {
		out[i] = copyItem(r)
	}
	return out
}

// sorted returns the rows of the table, or of the index when idx is set,
// in ascending key order. Index rows lacking a key attribute are omitted.
func (t *table) sorted(idx *index) []item {
	order := []string{t.key.hash, t.key.rng}
	var rows []item
	for _, r := range t.rows {
		if idx != nil {
			if r[idx.key.hash] == nil || (idx.key.rng != "" && r[idx.key.rng] == nil) {
				continue
			}
		}
		rows = append(rows, r)
	}
	if idx != nil {
		order = []string{idx.key.hash, idx.key.rng, t.key.hash, t.key.rng}
	}
	slices.SortFunc(rows, func(a, b item) int { return compareTuple(a, b, order) })
	return rows
}

func compareTuple(a, b item, order []string) int {
	for _, name := range order {
		if name == "" {
			continue
		}
		av, bv := a[name], b[name]
		switch {
		case av == nil && bv == nil:
			continue
		case av == nil:
			return -1
		case bv == nil:
			return 1
		}
		if c, ok := compare(av, bv); ok && c != 0 {
			return c
		}
	}
	return 0
}

func (c *Client) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if err := c.begin(ctx, "GetItem", in); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	id, err := t.rowID(in.Key)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: copyItem(t.rows[id])}, nil
}

func (c *Client) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if err := c.begin(ctx, "PutItem", in); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	w, err := t.preparePut(in.Item, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !w.passed {
		return nil, conditionFailed(w.old, in.ReturnValuesOnConditionCheckFailure)
	}
	w.apply()
	return &dynamodb.PutItemOutput{}, nil
}

func (c *Client) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if err := c.begin(ctx, "UpdateItem", in); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	w, err := t.prepareUpdate(in.Key, in.UpdateExpression, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !w.passed {
		return nil, conditionFailed(w.old, in.ReturnValuesOnConditionCheckFailure)
	}
	w.apply()
	out := &dynamodb.UpdateItemOutput{}
	switch in.ReturnValues {
	case types.ReturnValueAllNew:
		out.Attributes = copyItem(w.next)
	case types.ReturnValueAllOld:
		out.Attributes = copyItem(w.old)
	}
	return out, nil
}

func (c *Client) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if err := c.begin(ctx, "DeleteItem", in); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	w, err := t.prepareDelete(in.Key, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !w.passed {
		return nil, conditionFailed(w.old, in.ReturnValuesOnConditionCheckFailure)
	}
	w.apply()
	return &dynamodb.DeleteItemOutput{}, nil
}

func conditionFailed(old item, rv types.ReturnValuesOnConditionCheckFailure) error {
	err := &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	if rv == types.ReturnValuesOnConditionCheckFailureAllOld {
		err.Item = copyItem(old)
	}
	return err
}

// write is a validated single-row mutation whose condition has been evaluated.
type write struct {
	t      *table
	id     string
	old    item
	next   item // nil deletes the row
	passed bool
}

func (w write) apply() {
	if w.next == nil {
		delete(w.t.rows, w.id)
		return
	}
	w.t.rows[w.id] = w.next
}

func (t *table) check(cond *string, names map[string]string, values map[string]types.AttributeValue, old item) (bool, error) {
	if aws.ToString(cond) == "" {
		return true, nil
	}
	compiled, err := compileCondition(*cond, names, values)
	if err != nil {
		return false, validationError("Invalid ConditionExpression: " + err.Error())
	}
	return compiled(old), nil
}

func (t *table) preparePut(row item, cond *string, names map[string]string, values map[string]types.AttributeValue) (write, error) {
	id, err := t.rowID(row)
	if err != nil {
		return write{}, err
	}
	if err := t.checkIndexKeys(row); err != nil {
		return write{}, err
	}
	old := t.rows[id]
	passed, err := t.check(cond, names, values, old)
	if err != nil {
		return write{}, err
	}
	return write{t: t, id: id, old: old, next: copyItem(row), passed: passed}, nil
}

func (t *table) prepareUpdate(key item, expr, cond *string, names map[string]string, values map[string]types.AttributeValue) (write, error) {
	id, err := t.rowID(key)
	if err != nil {
		return write{}, err
	}
	old := t.rows[id]
	passed, err := t.check(cond, names, values, old)
	if err != nil {
		return write{}, err
	}
	base := old
	if base == nil {
		base = t.keyOf(key, nil)
	}
	next := copyItem(base)
	if aws.ToString(expr) != "" {
		compiled, err := compileUpdate(*expr, names, values)
		if err != nil {
			return write{}, validationError("Invalid UpdateExpression: " + err.Error())
		}
		if next, err = compiled(base); err != nil {
			return write{}, validationError("Invalid UpdateExpression: " + err.Error())
		}
	}
	for _, name := range t.key.names {
		if !equal(next[name], key[name]) {
			return write{}, validationError("Cannot update attribute " + name + ". This attribute is part of the key")
		}
	}
	if err := t.checkIndexKeys(next); err != nil {
		return write{}, err
	}
	return write{t: t, id: id, old: old, next: next, passed: passed}, nil
}

func (t *table) prepareDelete(key item, cond *string, names map[string]string, values map[string]types.AttributeValue) (write, error) {
	id, err := t.rowID(key)
	if err != nil {
		return write{}, err
	}
	old := t.rows[id]
	passed, err := t.check(cond, names, values, old)
	if err != nil {
		return write{}, err
	}
	return write{t: t, id: id, old: old, passed: passed}, nil
}

// checkIndexKeys rejects index key attributes of the wrong type or empty strings.
func (t *table) checkIndexKeys(row item) error {
	for _, idx := range t.indexes {
		for _, name := range idx.key.names {
			v, ok := row[name]
			if !ok {
				continue
			}
			want := t.attrType(name)
			if got := typeName(v); want != "" && got != string(want) {
				return validationError(fmt.Sprintf("Type mismatch for Index Key %s Expected: %s Actual: %s IndexName: %s", name, want, got, idx.name))
			}
			if s, ok := v.(*types.AttributeValueMemberS); ok && s.Value == "" {
				return validationError("One or more parameter values are not valid. A value specified for a secondary index key is not supported. The AttributeValue for a key attribute cannot contain an empty string value. IndexName: " + idx.name)
			}
		}
	}
	return nil
}

func (t *table) attrType(name string) types.ScalarAttributeType {
	for _, d := range t.attrDefs {
		if aws.ToString(d.AttributeName) == name {
			return d.AttributeType
		}
	}
	return ""
}

func (c *Client) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if err := c.begin(ctx, "Query", in); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	var idx *index
	if name := aws.ToString(in.IndexName); name != "" {
		if idx = t.index(name); idx == nil {
			return nil, validationError("The table does not have the specified index: " + name)
		}
		if idx.status != types.IndexStatusActive {
			return nil, validationError("Cannot read from backfilling global secondary index: " + name)
		}
	}
	if aws.ToString(in.KeyConditionExpression) == "" {
		return nil, validationError("Either the KeyConditions or KeyConditionExpression parameter must be specified in the request.")
	}
	keyCond, err := compileCondition(*in.KeyConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, validationError("Invalid KeyConditionExpression: " + err.Error())
	}
	filter, err := compileFilter(in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}

	var candidates []item
	for _, r := range t.sorted(idx) {
		if keyCond(r) {
			candidates = append(candidates, r)
		}
	}
	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	if !forward {
		slices.Reverse(candidates)
	}
	order := []string{t.key.hash, t.key.rng}
	if idx != nil {
		order = []string{idx.key.hash, idx.key.rng, t.key.hash, t.key.rng}
	}
	items, last, scanned := c.window(candidates, in.ExclusiveStartKey, order, forward, aws.ToInt32(in.Limit), filter)

	out := &dynamodb.QueryOutput{Items: items, Count: int32(len(items)), ScannedCount: int32(scanned)}
	if last != nil {
		out.LastEvaluatedKey = t.keyOf(last, idx)
	}
	return out, nil
}

func (c *Client) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if err := c.begin(ctx, "Scan", in); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	var idx *index
	if name := aws.ToString(in.IndexName); name != "" {
		if idx = t.index(name); idx == nil {
			return nil, validationError("The table does not have the specified index: " + name)
		}
	}
	filter, err := compileFilter(in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	order := []string{t.key.hash, t.key.rng}
	if idx != nil {
		order = []string{idx.key.hash, idx.key.rng, t.key.hash, t.key.rng}
	}
	items, last, scanned := c.window(t.sorted(idx), in.ExclusiveStartKey, order, true, aws.ToInt32(in.Limit), filter)

	out := &dynamodb.ScanOutput{Items: items, Count: int32(len(items)), ScannedCount: int32(scanned)}
	if last != nil {
		out.LastEvaluatedKey = t.keyOf(last, idx)
	}
	return out, nil
}

func compileFilter(expr *string, names map[string]string, values map[string]types.AttributeValue) (condition, error) {
	if aws.ToString(expr) == "" {
		return func(item) bool { return true }, nil
	}
	f, err := compileCondition(*expr, names, values)
	if err != nil {
		return nil, validationError("Invalid FilterExpression: " + err.Error())
	}
	return f, nil
}

// window evaluates up to limit candidates after the start key and filters them.
// last is the final evaluated row when more candidates remain.
func (c *Client) window(candidates []item, start item, order []string, forward bool, limit int32, filter condition) (items []item, last item, scanned int) {
	from := 0
	if len(start) > 0 {
		from = len(candidates)
		for i, r := range candidates {
			cmp := compareTuple(r, start, order)
			if (forward && cmp > 0) || (!forward && cmp < 0) {
				from = i
				break
			}
		}
	}
	n := len(candidates) - from
	if limit > 0 && int(limit) < n {
		n = int(limit)
	}
	if c.PageSize > 0 && c.PageSize < n {
		n = c.PageSize
	}
	evaluated := candidates[from : from+n]
	items = make([]item, 0, len(evaluated))
	for _, r := range evaluated {
		if filter(r) {
			items = append(items, copyItem(r))
		}
	}
	if from+n < len(candidates) && n > 0 {
		last = evaluated[n-1]
	}
	return items, last, n
}

func (c *Client) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if err := c.begin(ctx, "TransactWriteItems", in); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(in.TransactItems); n == 0 || n > 100 {
		return nil, validationError("Member must have length between 1 and 100")
	}
	token := aws.ToString(in.ClientRequestToken)
	if token != "" && c.tokens[token] {
		return &dynamodb.TransactWriteItemsOutput{}, nil
	}

	writes := make([]write, 0, len(in.TransactItems))
	checks := make([]types.ReturnValuesOnConditionCheckFailure, 0, len(in.TransactItems))
	seen := make(map[string]bool)
	for _, ti := range in.TransactItems {
		w, rv, err := c.prepareTransactItem(ti)
		if err != nil {
			return nil, err
		}
		id := w.t.name + "\x00" + w.id
		if seen[id] {
			return nil, validationError("Transaction request cannot include multiple operations on one item")
		}
		seen[id] = true
		writes = append(writes, w)
		checks = append(checks, rv)
	}

	reasons := make([]types.CancellationReason, len(writes))
	failed := false
	for i, w := range writes {
		if w.passed {
			reasons[i] = types.CancellationReason{Code: aws.String("None")}
			continue
		}
		failed = true
		reasons[i] = types.CancellationReason{
			Code:    aws.String("ConditionalCheckFailed"),
			Message: aws.String("The conditional request failed"),
		}
		if checks[i] == types.ReturnValuesOnConditionCheckFailureAllOld {
			reasons[i].Item = copyItem(w.old)
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	for _, w := range writes {
		w.apply()
	}
	if token != "" {
		c.tokens[token] = true
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (c *Client) prepareTransactItem(ti types.TransactWriteItem) (write, types.ReturnValuesOnConditionCheckFailure, error) {
	switch {
	case ti.Put != nil:
		t, err := c.table(ti.Put.TableName)
		if err != nil {
			return write{}, "", err
		}
		w, err := t.preparePut(ti.Put.Item, ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues)
		return w, ti.Put.ReturnValuesOnConditionCheckFailure, err
	case ti.Update != nil:
		t, err := c.table(ti.Update.TableName)
		if err != nil {
			return write{}, "", err
		}
		w, err := t.prepareUpdate(ti.Update.Key, ti.Update.UpdateExpression, ti.Update.ConditionExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues)
		return w, ti.Update.ReturnValuesOnConditionCheckFailure, err
	case ti.Delete != nil:
		t, err := c.table(ti.Delete.TableName)
		if err != nil {
			return write{}, "", err
		}
		w, err := t.prepareDelete(ti.Delete.Key, ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues)
		return w, ti.Delete.ReturnValuesOnConditionCheckFailure, err
	case ti.ConditionCheck != nil:
		t, err := c.table(ti.ConditionCheck.TableName)
		if err != nil {
			return write{}, "", err
		}
		w, err := t.prepareDelete(ti.ConditionCheck.Key, ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues)
		// A condition check leaves the row as it is.
		w.next = w.old
		return w, ti.ConditionCheck.ReturnValuesOnConditionCheckFailure, err
	}
	return write{}, "", validationError("TransactItem has no action")
}
