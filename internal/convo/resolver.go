package convo

import (
	"context"
	"fmt"
)

// DirectStore is the subset of conversation storage the resolver needs. The
// PostgreSQL Store satisfies it; tests use an in-memory fake.
type DirectStore interface {
	// ListDirectFor returns direct conversations containing userID.
	ListDirectFor(ctx context.Context, userID string) ([]*Conversation, error)
	// CreateDirect conditionally creates the conversation for the pair and
	// returns the winning record, plus whether this call inserted it.
	CreateDirect(ctx context.Context, userA, userB string) (*Conversation, bool, error)
}

// Resolver finds or creates the unique direct conversation between two users.
// The acting user is always passed explicitly; the resolver holds no ambient
// session state.
type Resolver struct {
	store DirectStore
}

// NewResolver creates a Resolver over the given store.
func NewResolver(store DirectStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the id of the direct conversation between currentUserID
// and targetUserID, creating it if none exists. Repeated calls with the
// same pair (in either order) return the same id.
//
// The lookup pushes down a single membership predicate and scans the result
// for the target; creation is a conditional put on the canonical pair key,
// so two racing first-message attempts converge on one record.
func (r *Resolver) Resolve(ctx context.Context, currentUserID, targetUserID string) (string, error) {
	conv, _, err := r.ResolveConversation(ctx, currentUserID, targetUserID)
	if err != nil {
		return "", err
	}
	return conv.ID, nil
}

// ResolveConversation is Resolve returning the full record plus whether this
// call created the conversation.
func (r *Resolver) ResolveConversation(ctx context.Context, currentUserID, targetUserID string) (*Conversation, bool, error) {
	if currentUserID == "" || targetUserID == "" {
		return nil, false, ErrMissingUser
	}
	if currentUserID == targetUserID {
		return nil, false, ErrSelfConversation
	}

	convos, err := r.store.ListDirectFor(ctx, currentUserID)
	if err != nil {
		return nil, false, fmt.Errorf("convo: resolve lookup: %w", err)
	}
	for _, c := range convos {
		if c.Other(currentUserID) == targetUserID {
			return c, false, nil
		}
	}

	conv, created, err := r.store.CreateDirect(ctx, currentUserID, targetUserID)
	if err != nil {
		return nil, false, fmt.Errorf("convo: resolve create: %w", err)
	}
	return conv, created, nil
}
