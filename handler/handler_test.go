package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"github.com/bysensa/csml-engine/internal/domain"
	"github.com/bysensa/csml-engine/internal/usecase"
)

var testClient = domain.Client{BotID: "b", ChannelID: "c", UserID: "u"}

type stubService struct {
	startID    string
	startErr   error
	current    *domain.Session
	currentErr error
	updateErr  error
	closeErr   error
	closeAll   error

	startIn    usecase.StartInput
	updateIn   usecase.UpdateInput
	closeIn    usecase.CloseInput
	closeAllTo string
}

func (s *stubService) StartConversation(_ context.Context, in usecase.StartInput) (string, error) {
	s.startIn = in
	return s.startID, s.startErr
}

func (s *stubService) CurrentConversation(_ context.Context, _ domain.Client) (*domain.Session, error) {
	return s.current, s.currentErr
}

func (s *stubService) UpdatePosition(_ context.Context, in usecase.UpdateInput) error {
	s.updateIn = in
	return s.updateErr
}

func (s *stubService) CloseConversation(_ context.Context, in usecase.CloseInput) error {
	s.closeIn = in
	return s.closeErr
}

func (s *stubService) CloseAllConversations(_ context.Context, _ domain.Client, status string) error {
	s.closeAllTo = status
	return s.closeAll
}

func makeEvent(path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func mustNewHandler(t *testing.T, svc SessionService) *Handler {
	t.Helper()
	h, err := NewHandler(svc)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_Start(t *testing.T) {
	svc := &stubService{startID: "sess-1"}
	h := mustNewHandler(t, svc)

	resp, err := h.Handle(context.Background(), makeEvent("/conversations",
		`{"client":{"bot_id":"b","channel_id":"c","user_id":"u"},"flow_id":"flowA","step_id":"step1","metadata":{"k":1}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, testClient, svc.startIn.Client)
	require.Equal(t, "flowA", svc.startIn.FlowID)
	require.JSONEq(t, `{"k":1}`, string(svc.startIn.Metadata))

	out := parseBody[startResponse](t, resp.Body)
	require.Equal(t, "sess-1", out.ID)
}

func TestHandle_Current(t *testing.T) {
	svc := &stubService{current: &domain.Session{ID: "sess-1", Status: "OPEN"}}
	h := mustNewHandler(t, svc)

	resp, err := h.Handle(context.Background(), makeEvent("/conversations/current",
		`{"client":{"bot_id":"b","channel_id":"c","user_id":"u"}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[currentResponse](t, resp.Body)
	require.Equal(t, "sess-1", out.Session.ID)
}

func TestHandle_Current_NoneIsNull(t *testing.T) {
	h := mustNewHandler(t, &stubService{})

	resp, err := h.Handle(context.Background(), makeEvent("/conversations/current",
		`{"client":{"bot_id":"b","channel_id":"c","user_id":"u"}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[currentResponse](t, resp.Body)
	require.Nil(t, out.Session)
}

func TestHandle_Update_SparseFields(t *testing.T) {
	svc := &stubService{}
	h := mustNewHandler(t, svc)

	resp, err := h.Handle(context.Background(), makeEvent("/conversations/update",
		`{"id":"sess-1","client":{"bot_id":"b","channel_id":"c","user_id":"u"},"flow_id":"flowB"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.NotNil(t, svc.updateIn.FlowID)
	require.Equal(t, "flowB", *svc.updateIn.FlowID)
	require.Nil(t, svc.updateIn.StepID)
}

func TestHandle_Close(t *testing.T) {
	svc := &stubService{}
	h := mustNewHandler(t, svc)

	resp, err := h.Handle(context.Background(), makeEvent("/conversations/close",
		`{"id":"sess-1","client":{"bot_id":"b","channel_id":"c","user_id":"u"}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "sess-1", svc.closeIn.ID)
}

func TestHandle_CloseAll(t *testing.T) {
	svc := &stubService{}
	h := mustNewHandler(t, svc)

	resp, err := h.Handle(context.Background(), makeEvent("/conversations/close-all",
		`{"client":{"bot_id":"b","channel_id":"c","user_id":"u"},"status":"EXPIRED"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "EXPIRED", svc.closeAllTo)
}

func TestHandle_MalformedBody(t *testing.T) {
	h := mustNewHandler(t, &stubService{})

	resp, err := h.Handle(context.Background(), makeEvent("/conversations", `{not json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandle_UnknownPath(t *testing.T) {
	h := mustNewHandler(t, &stubService{})

	resp, err := h.Handle(context.Background(), makeEvent("/nope", `{}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandle_MethodNotAllowed(t *testing.T) {
	h := mustNewHandler(t, &stubService{})

	req := makeEvent("/conversations", `{}`)
	req.HTTPMethod = http.MethodGet
	resp, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandle_ErrorStatusMapping(t *testing.T) {
	cases := []struct {
		code   usecase.ErrorCode
		status int
	}{
		{usecase.ErrorInvalidInput, http.StatusBadRequest},
		{usecase.ErrorPreconditionFailed, http.StatusConflict},
		{usecase.ErrorStorage, http.StatusServiceUnavailable},
		{usecase.ErrorCrypto, http.StatusInternalServerError},
		{usecase.ErrorSerialization, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		svc := &stubService{closeErr: &usecase.Error{Code: tc.code, Reason: "close_session"}}
		h := mustNewHandler(t, svc)

		resp, err := h.Handle(context.Background(), makeEvent("/conversations/close",
			`{"id":"sess-1","client":{"bot_id":"b","channel_id":"c","user_id":"u"}}`))
		require.NoError(t, err)
		require.Equal(t, tc.status, resp.StatusCode, "code %s", tc.code)

		out := parseBody[errorResponse](t, resp.Body)
		require.Equal(t, string(tc.code), out.Error)
	}
}
