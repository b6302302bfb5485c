package paymentevents

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

type MockService struct{ mock.Mock }

func (m *MockService) ListPaymentEvents(ctx context.Context, userID string, limit int) ([]models.PaymentEvent, error) {
	args := m.Called(ctx, userID, limit)
	if res := args.Get(0); res != nil {
		return res.([]models.PaymentEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestEventsHandler(t *testing.T) {
	events := []models.PaymentEvent{{
		EventKey:   "evt_9",
		EventType:  models.EventPaymentFailed,
		UserID:     "u1",
		Status:     models.AckApplied,
		Reason:     "card declined",
		ReceivedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}}

	tests := []struct {
		name           string
		query          string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "default limit",
			setupMock: func(m *MockService) {
				m.On("ListPaymentEvents", mock.Anything, "u1", defaultLimit).Return(events, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"event_key":"evt_9"`,
		},
		{
			name:  "limit clamped",
			query: "?limit=10000",
			setupMock: func(m *MockService) {
				m.On("ListPaymentEvents", mock.Anything, "u1", maxLimit).Return([]models.PaymentEvent{}, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"data":[]`,
		},
		{
			name:           "bad limit",
			query:          "?limit=abc",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "storage error",
			setupMock: func(m *MockService) {
				m.On("ListPaymentEvents", mock.Anything, "u1", defaultLimit).Return(nil, errors.New("db error")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)
			handler := New(newNoopLogger(), svc)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/payments/events/u1"+tt.query, nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("userID", "u1")
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, w.Body.String(), tt.expectedBody)
			}
			svc.AssertExpectations(t)
		})
	}
}
