// Package usecase is the engine-facing boundary of the session persistence
// layer: input validation plus the aggregate error taxonomy the interpreter
// runtime consumes.
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bysensa/csml-engine/internal/domain"
	"github.com/bysensa/csml-engine/internal/repository"
)

// SessionStore defines the persistence operations the service depends on.
type SessionStore interface {
	Create(ctx context.Context, client domain.Client, flowID, stepID string, metadata json.RawMessage) (string, error)
	GetLatestOpen(ctx context.Context, client domain.Client) (*domain.Session, error)
	Update(ctx context.Context, id string, client domain.Client, flowID, stepID *string) error
	Close(ctx context.Context, id string, client domain.Client, status string) error
	CloseAll(ctx context.Context, client domain.Client, status string) error
}

type SessionService struct {
	store SessionStore
}

func NewSessionService(store SessionStore) (*SessionService, error) {
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	return &SessionService{store: store}, nil
}

type StartInput struct {
	Client   domain.Client
	FlowID   string
	StepID   string
	Metadata json.RawMessage
}

type UpdateInput struct {
	ID     string
	Client domain.Client
	FlowID *string
	StepID *string
}

type CloseInput struct {
	ID     string
	Client domain.Client
	Status string
}

// StartConversation opens a new session and returns its id. Metadata
// defaults to an empty object; it must be valid JSON since the interpreter
// reads it back as such.
func (s *SessionService) StartConversation(ctx context.Context, in StartInput) (string, error) {
	if err := validateClient(in.Client); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.FlowID) == "" {
		return "", newError(ErrorInvalidInput, "empty_flow_id", nil)
	}
	if strings.TrimSpace(in.StepID) == "" {
		return "", newError(ErrorInvalidInput, "empty_step_id", nil)
	}
	metadata := in.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}
	if !json.Valid(metadata) {
		return "", newError(ErrorInvalidInput, "invalid_metadata", nil)
	}

	id, err := s.store.Create(ctx, in.Client, in.FlowID, in.StepID, metadata)
	if err != nil {
		return "", mapStoreError("create_session", err)
	}
	return id, nil
}

// CurrentConversation returns the client's open session, or nil when none
// exists. No open session is a normal outcome, not an error.
func (s *SessionService) CurrentConversation(ctx context.Context, client domain.Client) (*domain.Session, error) {
	if err := validateClient(client); err != nil {
		return nil, err
	}
	sess, err := s.store.GetLatestOpen(ctx, client)
	if err != nil {
		return nil, mapStoreError("get_latest_open", err)
	}
	return sess, nil
}

// UpdatePosition moves the open session forward in its flow. A missing
// session surfaces as PRECONDITION_FAILED; nothing is ever created here.
func (s *SessionService) UpdatePosition(ctx context.Context, in UpdateInput) error {
	if err := validateClient(in.Client); err != nil {
		return err
	}
	if strings.TrimSpace(in.ID) == "" {
		return newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	if err := s.store.Update(ctx, in.ID, in.Client, in.FlowID, in.StepID); err != nil {
		return mapStoreError("update_session", err)
	}
	return nil
}

// CloseConversation relocates the session to a terminal status, CLOSED by
// default. Closing a session that is already closed succeeds.
func (s *SessionService) CloseConversation(ctx context.Context, in CloseInput) error {
	if err := validateClient(in.Client); err != nil {
		return err
	}
	if strings.TrimSpace(in.ID) == "" {
		return newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	status, err := terminalStatus(in.Status)
	if err != nil {
		return err
	}
	if err := s.store.Close(ctx, in.ID, in.Client, status); err != nil {
		return mapStoreError("close_session", err)
	}
	return nil
}

// CloseAllConversations closes every open session for the client. Used as
// the repair path when more than one session is open.
func (s *SessionService) CloseAllConversations(ctx context.Context, client domain.Client, status string) error {
	if err := validateClient(client); err != nil {
		return err
	}
	terminal, err := terminalStatus(status)
	if err != nil {
		return err
	}
	if err := s.store.CloseAll(ctx, client, terminal); err != nil {
		return mapStoreError("close_all_sessions", err)
	}
	return nil
}

func validateClient(c domain.Client) error {
	if strings.TrimSpace(c.BotID) == "" {
		return newError(ErrorInvalidInput, "empty_bot_id", nil)
	}
	if strings.TrimSpace(c.ChannelID) == "" {
		return newError(ErrorInvalidInput, "empty_channel_id", nil)
	}
	if strings.TrimSpace(c.UserID) == "" {
		return newError(ErrorInvalidInput, "empty_user_id", nil)
	}
	return nil
}

func terminalStatus(status string) (string, error) {
	status = strings.TrimSpace(status)
	if status == "" {
		return repository.StatusClosed, nil
	}
	if status == repository.StatusOpen {
		return "", newError(ErrorInvalidInput, "status_not_terminal", nil)
	}
	return status, nil
}

// mapStoreError lifts a store failure into the engine taxonomy.
func mapStoreError(reason string, err error) *Error {
	switch repository.CodeOf(err) {
	case repository.ErrorPreconditionFailed:
		return newError(ErrorPreconditionFailed, reason, err)
	case repository.ErrorCrypto:
		return newError(ErrorCrypto, reason, err)
	case repository.ErrorSerialization:
		return newError(ErrorSerialization, reason, err)
	case repository.ErrorStorage:
		return newError(ErrorStorage, reason, err)
	default:
		return newError(ErrorInternal, reason, err)
	}
}
