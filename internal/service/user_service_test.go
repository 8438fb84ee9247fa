package service

import (
	"context"
	"testing"

	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/labcompare/push-scheduler/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService(t *testing.T) {
	svc := NewUserService(newStore(t))
	ctx := context.Background()

	view, err := svc.Upsert(ctx, UserRequest{ID: "u1", Name: "Asha", Role: "Member", PushToken: "tokenA123", PushTokens: []string{" ", "tok"}})
	require.NoError(t, err)
	assert.Equal(t, model.RoleMember, view.Role)
	assert.Equal(t, []string{"toke*****", "tok"}, view.Endpoints)

	_, err = svc.Upsert(ctx, UserRequest{ID: "u2", Role: "admin"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Upsert(ctx, UserRequest{Role: model.RoleMember})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Upsert(ctx, UserRequest{ID: "u2", Role: model.RoleNonMember})
	require.NoError(t, err)

	members, err := svc.List(ctx, model.RoleMember)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "Asha", members[0].Name)

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.Get(ctx, "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMaskValue(t *testing.T) {
	assert.Equal(t, "", maskValue(" "))
	assert.Equal(t, "abcd", maskValue("abcd"))
	assert.Equal(t, "abcd**", maskValue("abcdef"))
}
