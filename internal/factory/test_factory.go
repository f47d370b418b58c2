package factory

import (
	"context"
	"time"

	"github.com/tinymud/tinymud/internal/dependencies/mocks"
	"github.com/tinymud/tinymud/internal/model"
	"github.com/tinymud/tinymud/internal/storage/memory"
	"github.com/tinymud/tinymud/internal/testutil"
	"github.com/tinymud/tinymud/internal/ws"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock    *mocks.MockClock
	StubVerifier *StubVerifier
}

// StubVerifier resolves tokens from a fixed table; unknown tokens fail
type StubVerifier struct {
	Tokens map[string]model.UserID
}

// Verify looks the token up in the table
func (v *StubVerifier) Verify(token string) (model.UserID, error) {
	if id, ok := v.Tokens[token]; ok {
		return id, nil
	}
	return "", model.ErrUnauthorized
}

// NewTestApp creates an App configured for testing with an in-memory
// store and mocked dependencies
func NewTestApp(ctx context.Context) *TestApp {
	store := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	verifier := &StubVerifier{Tokens: make(map[string]model.UserID)}

	app := newWithDependencies(ctx, store, mockClock, verifier, "", ws.DefaultConfig(), testutil.NopLogger())

	return &TestApp{
		App:          app,
		MockClock:    mockClock,
		StubVerifier: verifier,
	}
}
