package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Direction markers terminate every token on the wire.
const (
	forwardsMarker  = "eyJkaXJlY3Rpb24iOiJmb3J3YXJkcyJ9"
	backwardsMarker = "eyJkaXJlY3Rpb24iOiJiYWNrd2FyZHMifQ=="
)

// Token is a decoded continuation token.
// An empty Inner starts at the beginning of the index in the given direction.
type Token struct {
	Forwards bool
	Inner    string
}

// ParseToken decodes the wire form "[inner.]marker".
// The empty string is a forward read from the start.
func ParseToken(s string) (Token, error) {
	if s == "" {
		return Token{Forwards: true}, nil
	}
	inner, marker := "", s
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		inner, marker = s[:i], s[i+1:]
		if inner == "" {
			return Token{}, fmt.Errorf("%w: empty cursor", ErrInvalidToken)
		}
	}
	switch {
	case strings.EqualFold(marker, forwardsMarker):
		return Token{Forwards: true, Inner: inner}, nil
	case strings.EqualFold(marker, backwardsMarker):
		return Token{Forwards: false, Inner: inner}, nil
	default:
		return Token{}, fmt.Errorf("%w: unknown direction marker", ErrInvalidToken)
	}
}

// String renders the wire form of the token.
func (t Token) String() string {
	marker := backwardsMarker
	if t.Forwards {
		marker = forwardsMarker
	}
	if t.Inner == "" {
		return marker
	}
	return t.Inner + "." + marker
}

// Page is one window of a paginated read. Items are in index order.
// Next and Previous are empty when the matching flag is false.
// Rows that cannot be mapped still occupy a slot in the window, so Items may
// hold fewer than PageSize entries while HasNext is true.
type Page[T any] struct {
	Items       []T
	HasNext     bool
	HasPrevious bool
	Next        string
	Previous    string
	PageSize    int
}

type cursor struct {
	Index string            `json:"index"`
	Key   map[string]string `json:"key"`
}

// encodeCursor captures the position of a boundary row within an index.
func encodeCursor(idx IndexDef, raw map[string]types.AttributeValue) (string, error) {
	key := map[string]types.AttributeValue{
		AttrPartitionKey: raw[AttrPartitionKey],
		AttrSortKey:      raw[AttrSortKey],
		idx.PartitionKey: raw[idx.PartitionKey],
		idx.SortKey:      raw[idx.SortKey],
	}
	var flat map[string]string
	if err := attributevalue.UnmarshalMap(key, &flat); err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	b, err := json.Marshal(cursor{Index: idx.Name, Key: flat})
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// decodeCursor restores an ExclusiveStartKey, rejecting cursors issued by another index.
func decodeCursor(idx IndexDef, s string) (map[string]types.AttributeValue, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var c cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Index != idx.Name {
		return nil, fmt.Errorf("%w: issued for index %q, not %q", ErrInvalidToken, c.Index, idx.Name)
	}
	for _, name := range []string{AttrPartitionKey, AttrSortKey, idx.PartitionKey, idx.SortKey} {
		if c.Key[name] == "" {
			return nil, fmt.Errorf("%w: cursor lacks %s", ErrInvalidToken, name)
		}
	}
	key, err := attributevalue.MarshalMap(c.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return key, nil
}

// pageQuery describes one paginated index read.
type pageQuery struct {
	index   IndexDef
	keyCond expression.KeyConditionBuilder
	// descending presents the index from its highest sort key down.
	descending bool
}

// rawPage is a window of raw rows plus navigation state.
type rawPage struct {
	items       []map[string]types.AttributeValue
	hasNext     bool
	hasPrevious bool
	next        string
	previous    string
	pageSize    int
}

// readPage reads one window of the index, following short store pages until
// pageSize+1 rows are seen or the index is exhausted.
func (s *Store) readPage(ctx context.Context, q pageQuery, pageSize int, rawToken string) (rawPage, error) {
	token, err := ParseToken(rawToken)
	if err != nil {
		return rawPage{}, err
	}
	size := s.config.pageSize(pageSize)

	var start map[string]types.AttributeValue
	if token.Inner != "" {
		if start, err = decodeCursor(q.index, token.Inner); err != nil {
			return rawPage{}, err
		}
	}

	expr, err := expression.NewBuilder().WithKeyCondition(q.keyCond).Build()
	if err != nil {
		return rawPage{}, fmt.Errorf("build key condition: %w", err)
	}

	ascending := token.Forwards != q.descending
	var items []map[string]types.AttributeValue
	for len(items) <= size {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.config.TableName),
			IndexName:                 aws.String(q.index.Name),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         start,
			ScanIndexForward:          aws.Bool(ascending),
			Limit:                     aws.Int32(int32(size + 1 - len(items))),
		})
		if err != nil {
			s.logAPIError("query", err)
			return rawPage{}, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}

	extra := len(items) > size
	if extra {
		items = items[:size]
	}
	if !token.Forwards {
		slices.Reverse(items)
	}

	page := rawPage{items: items, pageSize: size}
	if token.Forwards {
		page.hasNext = extra
		page.hasPrevious = token.Inner != ""
	} else {
		page.hasPrevious = extra
		page.hasNext = token.Inner != ""
	}

	// An empty window keeps the incoming position for the way back.
	nextInner, prevInner := token.Inner, token.Inner
	if len(items) > 0 {
		if nextInner, err = encodeCursor(q.index, items[len(items)-1]); err != nil {
			return rawPage{}, err
		}
		if prevInner, err = encodeCursor(q.index, items[0]); err != nil {
			return rawPage{}, err
		}
	}
	if page.hasNext {
		page.next = Token{Forwards: true, Inner: nextInner}.String()
	}
	if page.hasPrevious {
		page.previous = Token{Forwards: false, Inner: prevInner}.String()
	}
	return page, nil
}

// mapPage decodes the rows of a raw window, skipping rows that cannot be mapped.
// Skipped rows are not topped up, so the cursors of raw stay valid.
func mapPage[T any](s *Store, raw rawPage, decode func(map[string]types.AttributeValue) (T, error)) Page[T] {
	items := make([]T, 0, len(raw.items))
	for _, row := range raw.items {
		v, err := decode(row)
		if err != nil {
			s.logUnmapped(row, err)
			continue
		}
		items = append(items, v)
	}
	return Page[T]{
		Items:       items,
		HasNext:     raw.hasNext,
		HasPrevious: raw.hasPrevious,
		Next:        raw.next,
		Previous:    raw.previous,
		PageSize:    raw.pageSize,
	}
}
