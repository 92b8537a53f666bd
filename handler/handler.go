// Package handler exposes the session operations over an API Gateway
// Lambda integration.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/bysensa/csml-engine/internal/domain"
	"github.com/bysensa/csml-engine/internal/usecase"
)

// SessionService defines the engine operations the handler dispatches to.
type SessionService interface {
	StartConversation(ctx context.Context, in usecase.StartInput) (string, error)
	CurrentConversation(ctx context.Context, client domain.Client) (*domain.Session, error)
	UpdatePosition(ctx context.Context, in usecase.UpdateInput) error
	CloseConversation(ctx context.Context, in usecase.CloseInput) error
	CloseAllConversations(ctx context.Context, client domain.Client, status string) error
}

type Handler struct {
	sessions SessionService
}

func NewHandler(sessions SessionService) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("handler: session service must not be nil")
	}
	return &Handler{sessions: sessions}, nil
}

type startRequest struct {
	Client   domain.Client   `json:"client"`
	FlowID   string          `json:"flow_id"`
	StepID   string          `json:"step_id"`
	Metadata json.RawMessage `json:"metadata"`
}

type startResponse struct {
	ID string `json:"id"`
}

type currentRequest struct {
	Client domain.Client `json:"client"`
}

type currentResponse struct {
	Session *domain.Session `json:"session"`
}

type updateRequest struct {
	ID     string        `json:"id"`
	Client domain.Client `json:"client"`
	FlowID *string       `json:"flow_id"`
	StepID *string       `json:"step_id"`
}

type closeRequest struct {
	ID     string        `json:"id"`
	Client domain.Client `json:"client"`
	Status string        `json:"status"`
}

type closeAllRequest struct {
	Client domain.Client `json:"client"`
	Status string        `json:"status"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if req.HTTPMethod != http.MethodPost {
		return jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"}), nil
	}

	switch req.Path {
	case "/conversations":
		return h.start(ctx, req.Body), nil
	case "/conversations/current":
		return h.current(ctx, req.Body), nil
	case "/conversations/update":
		return h.update(ctx, req.Body), nil
	case "/conversations/close":
		return h.close(ctx, req.Body), nil
	case "/conversations/close-all":
		return h.closeAll(ctx, req.Body), nil
	default:
		return jsonResponse(http.StatusNotFound, errorResponse{Error: "UNKNOWN_PATH"}), nil
	}
}

func (h *Handler) start(ctx context.Context, body string) events.APIGatewayProxyResponse {
	var req startRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return badBody()
	}
	id, err := h.sessions.StartConversation(ctx, usecase.StartInput{
		Client:   req.Client,
		FlowID:   req.FlowID,
		StepID:   req.StepID,
		Metadata: req.Metadata,
	})
	if err != nil {
		return errResponse(err)
	}
	return jsonResponse(http.StatusCreated, startResponse{ID: id})
}

func (h *Handler) current(ctx context.Context, body string) events.APIGatewayProxyResponse {
	var req currentRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return badBody()
	}
	sess, err := h.sessions.CurrentConversation(ctx, req.Client)
	if err != nil {
		return errResponse(err)
	}
	return jsonResponse(http.StatusOK, currentResponse{Session: sess})
}

func (h *Handler) update(ctx context.Context, body string) events.APIGatewayProxyResponse {
	var req updateRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return badBody()
	}
	err := h.sessions.UpdatePosition(ctx, usecase.UpdateInput{
		ID:     req.ID,
		Client: req.Client,
		FlowID: req.FlowID,
		StepID: req.StepID,
	})
	if err != nil {
		return errResponse(err)
	}
	return jsonResponse(http.StatusNoContent, nil)
}

func (h *Handler) close(ctx context.Context, body string) events.APIGatewayProxyResponse {
	var req closeRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return badBody()
	}
	err := h.sessions.CloseConversation(ctx, usecase.CloseInput{
		ID:     req.ID,
		Client: req.Client,
		Status: req.Status,
	})
	if err != nil {
		return errResponse(err)
	}
	return jsonResponse(http.StatusNoContent, nil)
}

func (h *Handler) closeAll(ctx context.Context, body string) events.APIGatewayProxyResponse {
	var req closeAllRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return badBody()
	}
	if err := h.sessions.CloseAllConversations(ctx, req.Client, req.Status); err != nil {
		return errResponse(err)
	}
	return jsonResponse(http.StatusNoContent, nil)
}

func badBody() events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_body"})
}

// errResponse maps the engine error taxonomy onto HTTP statuses. Storage
// failures are potentially transient and answer 503 so callers retry.
func errResponse(err error) events.APIGatewayProxyResponse {
	var svcErr *usecase.Error
	if !errors.As(err, &svcErr) {
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
	}

	status := http.StatusInternalServerError
	switch svcErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorPreconditionFailed:
		status = http.StatusConflict
	case usecase.ErrorStorage:
		status = http.StatusServiceUnavailable
	}
	return jsonResponse(status, errorResponse{Error: string(svcErr.Code), Reason: svcErr.Reason})
}

func jsonResponse(status int, body any) events.APIGatewayProxyResponse {
	resp := events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
	if body == nil {
		return resp
	}
	raw, err := json.Marshal(body)
	if err != nil {
		resp.StatusCode = http.StatusInternalServerError
		resp.Body = `{"error":"INTERNAL_ERROR"}`
		return resp
	}
	resp.Body = string(raw)
	return resp
}
