package credential

import (
	"context"
	"fmt"

	"concierge-widget/internal/models"
)

// Static returns a fixed credential. It serves offline runs against the
// scripted transport and pre-minted tokens.
type Static models.SessionCredential

// Fetch implements the session manager's credential source.
func (s Static) Fetch(ctx context.Context, identity string) (models.SessionCredential, error) {
	if err := ctx.Err(); err != nil {
		return models.SessionCredential{}, fmt.Errorf("%w: %w", ErrCredentialUnavailable, err)
	}
	if s.Token == "" {
		return models.SessionCredential{}, fmt.Errorf("%w: no static token", ErrCredentialUnavailable)
	}
	return models.SessionCredential(s), nil
}
