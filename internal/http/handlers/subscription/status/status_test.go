package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/billing-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

type MockService struct{ mock.Mock }

func (m *MockService) Get(ctx context.Context, userID string) (*models.Subscription, error) {
	args := m.Called(ctx, userID)
	if res := args.Get(0); res != nil {
		return res.(*models.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestStatusHandler(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	active := &models.Subscription{
		UserID:           "u1",
		PlanType:         models.PlanTier2,
		Status:           models.StatusActive,
		CurrentPeriodEnd: now.Add(24 * time.Hour),
	}
	lapsed := &models.Subscription{
		UserID:           "u1",
		PlanType:         models.PlanTier2,
		Status:           models.StatusActive,
		CurrentPeriodEnd: now.Add(-time.Hour),
	}

	tests := []struct {
		name           string
		ctxUser        bool
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   []string
	}{
		{
			name:           "no user in context",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:    "active",
			ctxUser: true,
			setupMock: func(m *MockService) {
				m.On("Get", mock.Anything, "u1").Return(active, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   []string{`"entitled":true`, `"plan_type":"tier2"`},
		},
		{
			name:    "period over",
			ctxUser: true,
			setupMock: func(m *MockService) {
				m.On("Get", mock.Anything, "u1").Return(lapsed, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   []string{`"entitled":false`},
		},
		{
			name:    "no subscription",
			ctxUser: true,
			setupMock: func(m *MockService) {
				m.On("Get", mock.Anything, "u1").
					Return(nil, fmt.Errorf("subscription.Get: %w", models.ErrSubscriptionNotFound)).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   []string{`"subscription":null`, `"entitled":false`},
		},
		{
			name:    "storage error",
			ctxUser: true,
			setupMock: func(m *MockService) {
				m.On("Get", mock.Anything, "u1").Return(nil, errors.New("db error")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)
			handler := New(newNoopLogger(), svc)
			handler.now = func() time.Time { return now }

			req := httptest.NewRequest(http.MethodGet, "/api/v1/subscription", nil)
			if tt.ctxUser {
				req = req.WithContext(context.WithValue(req.Context(), middlewarectx.UserUID, "u1"))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			for _, want := range tt.expectedBody {
				assert.Contains(t, w.Body.String(), want)
			}
			svc.AssertExpectations(t)
		})
	}
}
