package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := newError(ErrorStorage, "put_session", cause)
	require.Contains(t, err.Error(), "STORAGE_ERROR")
	require.Contains(t, err.Error(), "put_session")
	require.ErrorIs(t, err, cause)

	bare := newError(ErrorPreconditionFailed, "open_session_missing", nil)
	require.Contains(t, bare.Error(), "PRECONDITION_FAILED")
	require.NoError(t, bare.Unwrap())
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, ErrorCrypto, CodeOf(newError(ErrorCrypto, "decrypt_metadata", nil)))
	require.Equal(t, ErrorCrypto, CodeOf(fmt.Errorf("wrapped: %w", newError(ErrorCrypto, "decrypt_metadata", nil))))
	require.Equal(t, ErrorStorage, CodeOf(errors.New("unclassified")))
}

func TestIsConditionalCheckFailed_Direct(t *testing.T) {
	require.True(t, isConditionalCheckFailed(&types.ConditionalCheckFailedException{}))
	require.True(t, isConditionalCheckFailed(fmt.Errorf("op: %w", &types.ConditionalCheckFailedException{})))
}

func TestIsConditionalCheckFailed_TransactionReason(t *testing.T) {
	canceled := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
		},
	}
	require.True(t, isConditionalCheckFailed(canceled))
}

func TestIsConditionalCheckFailed_OtherCancellation(t *testing.T) {
	canceled := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("TransactionConflict")},
			{Code: aws.String("None")},
		},
	}
	require.False(t, isConditionalCheckFailed(canceled))
	require.False(t, isConditionalCheckFailed(errors.New("throttled")))
}
