package mock

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBClient is an in-memory single-table implementation of
// aws.DynamoDBClient. Condition expressions are evaluated for the subset of
// the grammar the store uses: attribute_exists, attribute_not_exists,
// comparisons against placeholders, AND, OR and parentheses.
type DynamoDBClient struct {
	mu       sync.Mutex
	keyName  string
	items    map[string]map[string]types.AttributeValue
	puts     int
	failures []error
}

// NewDynamoDBClient creates an empty table keyed by the string attribute
// keyName.
func NewDynamoDBClient(keyName string) *DynamoDBClient {
	return &DynamoDBClient{
		keyName: keyName,
		items:   make(map[string]map[string]types.AttributeValue),
	}
}

// FailNext queues errors returned by the next calls, in order.
func (m *DynamoDBClient) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Puts returns the number of PutItem calls that reached the table.
func (m *DynamoDBClient) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Keys returns the stored keys, sorted.
func (m *DynamoDBClient) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.items))
}

// Item returns a copy of the stored item for key.
func (m *DynamoDBClient) Item(key string) (map[string]types.AttributeValue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	return maps.Clone(item), ok
}

func (m *DynamoDBClient) nextFailure() error {
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}

func (m *DynamoDBClient) keyOf(item map[string]types.AttributeValue) (string, error) {
	v, ok := item[m.keyName].(*types.AttributeValueMemberS)
	if !ok || v.Value == "" {
		return "", fmt.Errorf("mock DynamoDB: item has no string key %q", m.keyName)
	}
	return v.Value, nil
}

// PutItem stores the item when its condition holds.
func (m *DynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.nextFailure(); err != nil {
		return nil, err
	}
	key, err := m.keyOf(params.Item)
	if err != nil {
		return nil, err
	}

	existing := m.items[key]
	if cond := aws.ToString(params.ConditionExpression); cond != "" {
		ok, err := evaluate(cond, existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}

	m.puts++
	m.items[key] = maps.Clone(params.Item)
	out := &dynamodb.PutItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld && existing != nil {
		out.Attributes = existing
	}
	return out, nil
}

// GetItem returns the stored item, or an empty output when absent.
func (m *DynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.nextFailure(); err != nil {
		return nil, err
	}
	key, err := m.keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: maps.Clone(m.items[key])}, nil
}

// evaluate reports whether cond holds for item.
func evaluate(cond string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	p := &condParser{tokens: tokenize(cond), item: item, names: names, values: values}
	ok, err := p.or()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.tokens) {
		return false, fmt.Errorf("mock DynamoDB: unexpected %q in condition %q", p.tokens[p.pos], cond)
	}
	return ok, nil
}

func tokenize(s string) []string {
	var tokens []string
	for i := 0; i < len(s); {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(' || c == ')' || c == '=':
			tokens = append(tokens, string(c))
			i++
		case c == '<' || c == '>':
			if i+1 < len(s) && (s[i+1] == '=' || s[i+1] == '>') {
				tokens = append(tokens, s[i:i+2])
				i += 2
			} else {
				tokens = append(tokens, string(c))
				i++
			}
		default:
			j := i
			for j < len(s) && !unicode.IsSpace(rune(s[j])) && !strings.ContainsRune("()=<>", rune(s[j])) {
				j++
			}
			tokens = append(tokens, s[i:j])
			i = j
		}
	}
	return tokens
}

type condParser struct {
	tokens []string
	pos    int
	item   map[string]types.AttributeValue
	names  map[string]string
	values map[string]types.AttributeValue
}

func (p *condParser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *condParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *condParser) expect(t string) error {
	if got := p.next(); got != t {
		return fmt.Errorf("mock DynamoDB: expected %q, got %q", t, got)
	}
	return nil
}

func (p *condParser) or() (bool, error) {
	result, err := p.and()
	if err != nil {
		return false, err
	}
	for strings.EqualFold(p.peek(), "OR") {
		p.next()
		rhs, err := p.and()
		if err != nil {
			return false, err
		}
		result = result || rhs
	}
	return result, nil
}

func (p *condParser) and() (bool, error) {
	result, err := p.term()
	if err != nil {
		return false, err
	}
	for strings.EqualFold(p.peek(), "AND") {
		p.next()
		rhs, err := p.term()
		if err != nil {
			return false, err
		}
		result = result && rhs
	}
	return result, nil
}

func (p *condParser) term() (bool, error) {
	tok := p.next()
	switch tok {
	case "(":
		v, err := p.or()
		if err != nil {
			return false, err
		}
		return v, p.expect(")")
	case "attribute_exists", "attribute_not_exists":
		if err := p.expect("("); err != nil {
			return false, err
		}
		_, exists := p.item[p.name(p.next())]
		if err := p.expect(")"); err != nil {
			return false, err
		}
		return exists == (tok == "attribute_exists"), nil
	}

	attr, ok := p.item[p.name(tok)]
	op := p.next()
	placeholder := p.next()
	want, found := p.values[placeholder]
	if !found {
		return false, fmt.Errorf("mock DynamoDB: undefined value %q", placeholder)
	}
	if !ok {
		return false, nil
	}
	cmp, err := compare(attr, want)
	if err != nil {
		return false, err
	}
	switch op {
	case "=":
		return cmp == 0, nil
	case "<>":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("mock DynamoDB: unsupported operator %q", op)
	}
}

func (p *condParser) name(tok string) string {
	if strings.HasPrefix(tok, "#") {
		if n, ok := p.names[tok]; ok {
			return n
		}
	}
	return tok
}

func compare(a, b types.AttributeValue) (int, error) {
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, fmt.Errorf("mock DynamoDB: type mismatch")
		}
		x, err := strconv.ParseFloat(av.Value, 64)
		if err != nil {
			return 0, err
		}
		y, err := strconv.ParseFloat(bv.Value, 64)
		if err != nil {
			return 0, err
		}
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, fmt.Errorf("mock DynamoDB: type mismatch")
		}
		return strings.Compare(av.Value, bv.Value), nil
	default:
		return 0, fmt.Errorf("mock DynamoDB: unsupported comparison type %T", a)
	}
}
