package signalling

import (
	"context"

	"firebase.google.com/go/v4/db"
)

// FirebaseStore keeps sessions under /sessions in a Realtime Database
type FirebaseStore struct {
	ref *db.Ref
}

var _ SessionStore = (*FirebaseStore)(nil)

func NewFirebaseStore(client *db.Client) *FirebaseStore {
	return &FirebaseStore{ref: client.NewRef("sessions")}
}

func (f *FirebaseStore) Get(ctx context.Context, id string) (Session, error) {
	var s Session
	if err := f.ref.Child(id).Get(ctx, &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (f *FirebaseStore) Set(ctx context.Context, s Session) error {
	return f.ref.Child(s.ID).Set(ctx, map[string]any{
		"sessionId": s.ID,
		"offer":     s.Offer,
		"answer":    s.Answer,
	})
}

func (f *FirebaseStore) Update(ctx context.Context, id string, fields map[string]any) error {
	return f.ref.Child(id).Update(ctx, fields)
}

func (f *FirebaseStore) Delete(ctx context.Context, id string) error {
	return f.ref.Child(id).Delete(ctx)
}
