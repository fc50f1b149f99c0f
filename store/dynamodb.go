package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Snapchat/aws-support-tickets-aggregator/aws"
	"github.com/Snapchat/aws-support-tickets-aggregator/cases"
	"github.com/Snapchat/aws-support-tickets-aggregator/faults"
)

const (
	opPutItem = "dynamodb:PutItem"
	opGetItem = "dynamodb:GetItem"

	// newerCondition admits the write when no record exists, the incoming
	// record is strictly newer, or timestamps tie and the content differs.
	newerCondition = "attribute_not_exists(caseKey) OR lastUpdatedMs < :ms OR (lastUpdatedMs = :ms AND fingerprint <> :fp)"

	defaultMaxThrottleRetries = 10
)

// DynamoDBStore is the production gateway. The table's partition key is
// the string attribute caseKey.
type DynamoDBStore struct {
	client     aws.DynamoDBClient
	tableName  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// DynamoDBOption configures a DynamoDBStore.
type DynamoDBOption func(*DynamoDBStore)

// WithThrottleRetries bounds the retries of a throttled call.
func WithThrottleRetries(n int) DynamoDBOption {
	return func(s *DynamoDBStore) { s.maxRetries = n }
}

// WithBackoff sets the base and maximum throttle backoff delay.
func WithBackoff(base, maxDelay time.Duration) DynamoDBOption {
	return func(s *DynamoDBStore) {
		s.baseDelay = base
		s.maxDelay = maxDelay
	}
}

// NewDynamoDBStore creates a DynamoDBStore for tableName.
func NewDynamoDBStore(client aws.DynamoDBClient, tableName string, opts ...DynamoDBOption) *DynamoDBStore {
	s := &DynamoDBStore{
		client:     client,
		tableName:  tableName,
		maxRetries: defaultMaxThrottleRetries,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertIfNewer issues a single conditional PutItem. A failed condition is a
// skip; returned old attributes mean the record was replaced.
//
// Throttled calls are retried with jittered exponential backoff. Any other
// failure is returned as a faults.KindStorage error for this record.
func (s *DynamoDBStore) UpsertIfNewer(ctx context.Context, c cases.Case) (cases.Outcome, error) {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return cases.Skipped, s.storageError(opPutItem, c, fmt.Errorf("failed to marshal case: %w", err))
	}

	input := &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: sdkaws.String(newerCondition),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ms": &types.AttributeValueMemberN{Value: strconv.FormatInt(c.LastUpdatedMs, 10)},
			":fp": &types.AttributeValueMemberS{Value: c.Fingerprint},
		},
		ReturnValues: types.ReturnValueAllOld,
	}

	attempt := 0
	for {
		output, err := s.client.PutItem(ctx, input)
		if err == nil {
			if len(output.Attributes) > 0 {
				return cases.Updated, nil
			}
			return cases.Inserted, nil
		}

		var conditionErr *types.ConditionalCheckFailedException
		if errors.As(err, &conditionErr) {
			return cases.Skipped, nil
		}

		if isThrottlingError(err) && attempt < s.maxRetries {
			if !s.backoffWait(ctx, attempt) {
				return cases.Skipped, s.storageError(opPutItem, c, ctx.Err())
			}
			attempt++
			continue
		}
		return cases.Skipped, s.storageError(opPutItem, c, fmt.Errorf("failed to put case after %d retries: %w", attempt, err))
	}
}

// Get reads the stored record for key with a consistent read.
func (s *DynamoDBStore) Get(ctx context.Context, key string) (*cases.Case, error) {
	input := &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            map[string]types.AttributeValue{"caseKey": &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: sdkaws.Bool(true),
	}

	attempt := 0
	for {
		output, err := s.client.GetItem(ctx, input)
		if err != nil {
			if isThrottlingError(err) && attempt < s.maxRetries {
				if !s.backoffWait(ctx, attempt) {
					return nil, &faults.Error{Kind: faults.KindStorage, Op: opGetItem, Err: ctx.Err()}
				}
				attempt++
				continue
			}
			return nil, &faults.Error{Kind: faults.KindStorage, Op: opGetItem, Err: fmt.Errorf("failed to get %s: %w", key, err)}
		}
		if len(output.Item) == 0 {
			return nil, nil
		}

		var c cases.Case
		if err := attributevalue.UnmarshalMap(output.Item, &c); err != nil {
			return nil, &faults.Error{Kind: faults.KindStorage, Op: opGetItem, Err: fmt.Errorf("failed to unmarshal %s: %w", key, err)}
		}
		return &c, nil
	}
}

func (s *DynamoDBStore) storageError(op string, c cases.Case, err error) error {
	return &faults.Error{Kind: faults.KindStorage, Op: op, AccountID: c.AccountID, CaseID: c.CaseID, Err: err}
}

// isThrottlingError reports whether err is a DynamoDB capacity error.
// Capacity refills over time, so these are recoverable by waiting.
func isThrottlingError(err error) bool {
	var throughputErr *types.ProvisionedThroughputExceededException
	var requestLimitErr *types.RequestLimitExceeded
	return errors.As(err, &throughputErr) || errors.As(err, &requestLimitErr)
}

// backoffWait sleeps for an exponentially increasing duration with jitter.
// Returns false if the context is cancelled during the wait.
func (s *DynamoDBStore) backoffWait(ctx context.Context, attempt int) bool {
	delay := s.baseDelay * time.Duration(1<<uint(min(attempt, 30)))
	if delay > s.maxDelay || delay <= 0 {
		delay = s.maxDelay
	}
	if delay > 0 {
		delay += time.Duration(rand.Int64N(int64(delay)))
	}

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

var _ ReadWriter = (*DynamoDBStore)(nil)
