package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokedbloke/gigglepipe/internal/datastore"
)

type fakeStore struct {
	datastore.Interface
	users map[string]datastore.User // keyed by id
}

func (f *fakeStore) GetUser(ctx context.Context, userID string) (*datastore.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, datastore.ErrUserNotFound
	}
	return &u, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (*datastore.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, datastore.ErrUserNotFound
}

func TestResolveUserByID(t *testing.T) {
	store := &fakeStore{users: map[string]datastore.User{"u1": {ID: "u1", Email: "a@example.com"}}}

	id, err := resolveUser(t.Context(), store, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
}

func TestResolveUserByEmail(t *testing.T) {
	store := &fakeStore{users: map[string]datastore.User{"u1": {ID: "u1", Email: "a@example.com"}}}

	id, err := resolveUser(t.Context(), store, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
}

func TestResolveUserUnknownIDReturnsNotFound(t *testing.T) {
	store := &fakeStore{users: map[string]datastore.User{}}

	_, err := resolveUser(t.Context(), store, "missing")
	assert.ErrorIs(t, err, datastore.ErrUserNotFound)
}

func TestBuildFilterSplitsIDsAndEmails(t *testing.T) {
	f := buildFilter([]string{"u1", "a@example.com", "u2", "b@example.com"})
	assert.Equal(t, []string{"u1", "u2"}, f.IDs)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, f.Emails)
}

func TestIsPartialDistinguishesFromOrdinaryError(t *testing.T) {
	assert.True(t, IsPartial(&errPartial{failed: map[string]error{"u1": errors.New("boom")}}))
	assert.False(t, IsPartial(errors.New("config error")))
}
