package repository

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/bysensa/csml-engine/internal/domain"
)

// sessionItem is the persisted row shape. Metadata holds ciphertext; the
// plaintext never reaches the table.
type sessionItem struct {
	Hash              string `dynamodbav:"hash"`
	Range             string `dynamodbav:"range"`
	RangeTime         string `dynamodbav:"range_time"`
	ID                string `dynamodbav:"id"`
	BotID             string `dynamodbav:"bot_id"`
	ChannelID         string `dynamodbav:"channel_id"`
	UserID            string `dynamodbav:"user_id"`
	FlowID            string `dynamodbav:"flow_id"`
	StepID            string `dynamodbav:"step_id"`
	Metadata          string `dynamodbav:"metadata"`
	Status            string `dynamodbav:"status"`
	CreatedAt         string `dynamodbav:"created_at"`
	UpdatedAt         string `dynamodbav:"updated_at"`
	LastInteractionAt string `dynamodbav:"last_interaction_at"`
}

func marshalItem(item sessionItem) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, newError(ErrorSerialization, "marshal_session", err)
	}
	return av, nil
}

func unmarshalItem(av map[string]types.AttributeValue) (sessionItem, error) {
	var item sessionItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return sessionItem{}, newError(ErrorSerialization, "unmarshal_session", err)
	}
	return item, nil
}

// keyOf returns the primary key of an item, for point reads and deletes.
func keyOf(hash, rng string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"hash":  &types.AttributeValueMemberS{Value: hash},
		"range": &types.AttributeValueMemberS{Value: rng},
	}
}

// relocate rewrites the status-dependent parts of an item for a transition
// to status at time ts. The id, creation time, and metadata are untouched.
func (i sessionItem) relocate(status, ts string) sessionItem {
	i.Status = status
	i.UpdatedAt = ts
	i.LastInteractionAt = ts
	i.Range = sortKey(status, i.ID)
	i.RangeTime = timeSortKey(status, ts, i.ID)
	return i
}

// toSession converts a row to the domain entity, decrypting metadata.
func (i sessionItem) toSession(cipher Cipher) (*domain.Session, error) {
	metadata, err := cipher.Decrypt(i.Metadata)
	if err != nil {
		return nil, newError(ErrorCrypto, "decrypt_metadata", err)
	}
	return &domain.Session{
		ID: i.ID,
		Client: domain.Client{
			BotID:     i.BotID,
			ChannelID: i.ChannelID,
			UserID:    i.UserID,
		},
		FlowID:            i.FlowID,
		StepID:            i.StepID,
		Metadata:          metadata,
		Status:            i.Status,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
		LastInteractionAt: i.LastInteractionAt,
	}, nil
}
