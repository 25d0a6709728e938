package provider

import (
	"context"

	"claudekimi/internal/models"
)

// Provider is the backend collaborator that fulfils translated chat
// requests. One non-streaming call per exchange; retries, if desired,
// belong to the caller.
type Provider interface {
	Name() string
	Model() string
	Chat(ctx context.Context, req models.ChatRequest) (*models.CompletionResult, error)
}
