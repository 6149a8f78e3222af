package credential

import (
	"context"
	"errors"
	"testing"
)

func TestStatic(t *testing.T) {
	s := Static{Token: "tok", ServerURL: "ws://x"}
	cred, err := s.Fetch(context.Background(), "guest")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if cred.Token != "tok" || cred.ServerURL != "ws://x" {
		t.Errorf("unexpected credential %+v", cred)
	}

	if _, err := (Static{}).Fetch(context.Background(), "guest"); !errors.Is(err, ErrCredentialUnavailable) {
		t.Errorf("empty token: expected ErrCredentialUnavailable, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Fetch(ctx, "guest")
	if !errors.Is(err, ErrCredentialUnavailable) || !errors.Is(err, context.Canceled) {
		t.Errorf("canceled: expected both sentinels, got %v", err)
	}
}
