package trial

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/billing-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

type MockService struct{ mock.Mock }

func (m *MockService) StartTrial(ctx context.Context, userID string) (*models.Subscription, bool, error) {
	args := m.Called(ctx, userID)
	if res := args.Get(0); res != nil {
		return res.(*models.Subscription), args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestTrialHandler(t *testing.T) {
	sub := &models.Subscription{UserID: "u1", PlanType: models.PlanTier2, Status: models.StatusTrial}

	tests := []struct {
		name           string
		setupMock      func(*MockService)
		expectedStatus int
	}{
		{
			name: "created",
			setupMock: func(m *MockService) {
				m.On("StartTrial", mock.Anything, "u1").Return(sub, true, nil).Once()
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "already subscribed",
			setupMock: func(m *MockService) {
				m.On("StartTrial", mock.Anything, "u1").Return(sub, false, nil).Once()
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "storage error",
			setupMock: func(m *MockService) {
				m.On("StartTrial", mock.Anything, "u1").Return(nil, false, errors.New("db error")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)
			handler := New(newNoopLogger(), svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/subscription/trial", nil)
			req = req.WithContext(context.WithValue(req.Context(), middlewarectx.UserUID, "u1"))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			svc.AssertExpectations(t)
		})
	}
}
