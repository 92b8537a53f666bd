// Package repository persists conversation sessions in a single DynamoDB
// table. Lifecycle status is embedded in the primary sort key, so a status
// transition is an atomic delete-and-put relocation, never an attribute
// rewrite. A time-ordered GSI answers "which session is currently open".
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/bysensa/csml-engine/internal/domain"
)

const (
	defaultTimeIndex = "TimeIndex"
	defaultOpTimeout = 5 * time.Second
)

// dynamodbAPI is the minimal DynamoDB interface required by Store.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Cipher seals metadata on the write path and opens it on read paths.
type Cipher interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
}

// ReadWriter defines the session operations consumed by the engine service.
type ReadWriter interface {
	Create(ctx context.Context, client domain.Client, flowID, stepID string, metadata json.RawMessage) (string, error)
	GetLatestOpen(ctx context.Context, client domain.Client) (*domain.Session, error)
	Update(ctx context.Context, id string, client domain.Client, flowID, stepID *string) error
	Close(ctx context.Context, id string, client domain.Client, status string) error
	CloseAll(ctx context.Context, client domain.Client, status string) error
}

var _ ReadWriter = (*Store)(nil)

// Store wraps a DynamoDB table holding conversation sessions. It is safe
// for concurrent use; all mutable state lives in the table.
type Store struct {
	api       dynamodbAPI
	cipher    Cipher
	tableName string
	timeIndex string
	opTimeout time.Duration
}

// New creates a session Store. timeIndex and opTimeout fall back to
// "TimeIndex" and 5s when zero.
func New(api dynamodbAPI, cipher Cipher, tableName, timeIndex string, opTimeout time.Duration) (*Store, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if cipher == nil {
		return nil, errors.New("repository: cipher must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if strings.TrimSpace(timeIndex) == "" {
		timeIndex = defaultTimeIndex
	}
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &Store{
		api:       api,
		cipher:    cipher,
		tableName: tableName,
		timeIndex: timeIndex,
		opTimeout: opTimeout,
	}, nil
}

// Timestamps and ids are store-generated, never caller-supplied. Seams for
// tests.
var (
	nowUTC       = func() time.Time { return time.Now().UTC() }
	newSessionID = uuid.NewString
)

// opCtx bounds a single store round trip. Unbounded blocking on the remote
// store is unacceptable in a request-serving path.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Create persists a fresh OPEN session and returns its id. The id is new,
// so the write cannot collide with an existing key.
func (s *Store) Create(ctx context.Context, client domain.Client, flowID, stepID string, metadata json.RawMessage) (string, error) {
	ciphertext, err := s.cipher.Encrypt(metadata)
	if err != nil {
		return "", newError(ErrorCrypto, "encrypt_metadata", err)
	}

	id := newSessionID()
	ts := formatTime(nowUTC())
	item := sessionItem{
		Hash:              partitionKey(client.BotID, client.ChannelID, client.UserID),
		Range:             sortKey(StatusOpen, id),
		RangeTime:         timeSortKey(StatusOpen, ts, id),
		ID:                id,
		BotID:             client.BotID,
		ChannelID:         client.ChannelID,
		UserID:            client.UserID,
		FlowID:            flowID,
		StepID:            stepID,
		Metadata:          ciphertext,
		Status:            StatusOpen,
		CreatedAt:         ts,
		UpdatedAt:         ts,
		LastInteractionAt: ts,
	}
	av, err := marshalItem(item)
	if err != nil {
		return "", err
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return "", newError(ErrorStorage, "put_session", err)
	}
	return id, nil
}

// GetLatestOpen returns the client's current open session with metadata
// decrypted, or nil if none exists. Should more than one open row exist,
// the one with the greatest time key is returned.
func (s *Store) GetLatestOpen(ctx context.Context, client domain.Client) (*domain.Session, error) {
	out, err := s.queryOpen(ctx, client, aws.Int32(1), nil)
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	item, err := unmarshalItem(out.Items[0])
	if err != nil {
		return nil, err
	}
	return item.toSession(s.cipher)
}

// queryOpen runs one page of the open-prefix query against the time index,
// newest first.
func (s *Store) queryOpen(ctx context.Context, client domain.Client, limit *int32, startKey map[string]types.AttributeValue) (*dynamodb.QueryOutput, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(s.timeIndex),
		KeyConditionExpression: aws.String("#hash = :hash AND begins_with(#range_time, :prefix)"),
		ExpressionAttributeNames: map[string]string{
			"#hash":       "hash",
			"#range_time": "range_time",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":hash":   &types.AttributeValueMemberS{Value: partitionKey(client.BotID, client.ChannelID, client.UserID)},
			":prefix": &types.AttributeValueMemberS{Value: openTimePrefix()},
		},
		ScanIndexForward:  aws.Bool(false),
		Limit:             limit,
		Select:            types.SelectAllAttributes,
		ExclusiveStartKey: startKey,
	})
	if err != nil {
		return nil, newError(ErrorStorage, "query_open", err)
	}
	return out, nil
}

// getAllOpenItems collects every open row for the client. In the steady
// state there is one or none; more than one means the soft uniqueness
// invariant was violated, and the rows are returned for repair.
func (s *Store) getAllOpenItems(ctx context.Context, client domain.Client) ([]sessionItem, error) {
	var items []sessionItem
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.queryOpen(ctx, client, nil, startKey)
		if err != nil {
			return nil, err
		}
		for _, av := range out.Items {
			item, err := unmarshalItem(av)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		if out.LastEvaluatedKey == nil {
			return items, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// Update refreshes last_interaction_at on the client's OPEN row for id and
// writes flow_id/step_id only when supplied. The condition expression makes
// this strictly an update: if the OPEN row is gone the call fails with
// PRECONDITION_FAILED and no row is created.
func (s *Store) Update(ctx context.Context, id string, client domain.Client, flowID, stepID *string) error {
	expr := "SET last_interaction_at = :last"
	values := map[string]types.AttributeValue{
		":last": &types.AttributeValueMemberS{Value: formatTime(nowUTC())},
	}
	if flowID != nil {
		expr += ", flow_id = :flow"
		values[":flow"] = &types.AttributeValueMemberS{Value: *flowID}
	}
	if stepID != nil {
		expr += ", step_id = :step"
		values[":step"] = &types.AttributeValueMemberS{Value: *stepID}
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 keyOf(partitionKey(client.BotID, client.ChannelID, client.UserID), sortKey(StatusOpen, id)),
		ConditionExpression: aws.String("attribute_exists(#hash) AND attribute_exists(#range)"),
		ExpressionAttributeNames: map[string]string{
			"#hash":  "hash",
			"#range": "range",
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return newError(ErrorPreconditionFailed, "open_session_missing", err)
		}
		return newError(ErrorStorage, "update_session", err)
	}
	return nil
}

// Close relocates the client's OPEN row for id under the given terminal
// status. A missing OPEN row means the session is already closed and the
// call succeeds with no side effect.
func (s *Store) Close(ctx context.Context, id string, client domain.Client, status string) error {
	if err := validateTerminalStatus(status); err != nil {
		return err
	}

	hash := partitionKey(client.BotID, client.ChannelID, client.UserID)
	oldKey := keyOf(hash, sortKey(StatusOpen, id))

	getCtx, cancel := s.opCtx(ctx)
	defer cancel()
	out, err := s.api.GetItem(getCtx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            oldKey,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return newError(ErrorStorage, "get_open_session", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil
	}

	item, err := unmarshalItem(out.Item)
	if err != nil {
		return err
	}
	return s.replaceSession(ctx, oldKey, item.relocate(status, formatTime(nowUTC())))
}

// replaceSession migrates one row across a status key change: delete the
// old key and put the new one as a single all-or-nothing transaction. Any
// concurrent reader observes the row under exactly one of the two keys.
//
// The delete condition pins the race between two concurrent closes: the
// loser's transaction is canceled on ConditionalCheckFailed, which is
// indistinguishable from closing an already-closed session and is treated
// as the same no-op.
func (s *Store) replaceSession(ctx context.Context, oldKey map[string]types.AttributeValue, moved sessionItem) error {
	av, err := marshalItem(moved)
	if err != nil {
		return err
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Delete: &types.Delete{
					TableName:                aws.String(s.tableName),
					Key:                      oldKey,
					ConditionExpression:      aws.String("attribute_exists(#hash)"),
					ExpressionAttributeNames: map[string]string{"#hash": "hash"},
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(s.tableName),
					Item:      av,
				},
			},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil
		}
		return newError(ErrorStorage, "replace_session", err)
	}
	return nil
}

// CloseAll relocates every open row for the client to the given terminal
// status, reusing the fetched rows rather than re-reading each. Relocations
// run sequentially; each is atomic on its own, but the batch is not, so a
// mid-batch failure leaves earlier rows moved and is returned as-is.
func (s *Store) CloseAll(ctx context.Context, client domain.Client, status string) error {
	if err := validateTerminalStatus(status); err != nil {
		return err
	}

	items, err := s.getAllOpenItems(ctx, client)
	if err != nil {
		return err
	}
	ts := formatTime(nowUTC())
	for _, item := range items {
		if err := s.replaceSession(ctx, keyOf(item.Hash, item.Range), item.relocate(status, ts)); err != nil {
			return err
		}
	}
	return nil
}

// validateTerminalStatus rejects targets a relocation cannot express:
// moving a row onto its own OPEN key would delete and put the same item in
// one transaction.
func validateTerminalStatus(status string) error {
	if strings.TrimSpace(status) == "" {
		return errors.New("repository: status must not be empty")
	}
	if status == StatusOpen {
		return errors.New("repository: OPEN is not a terminal status")
	}
	return nil
}
