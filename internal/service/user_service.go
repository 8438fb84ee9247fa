package service

import (
	"context"
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/labcompare/push-scheduler/internal/storage"
)

// UserService seeds and inspects user profiles.
type UserService struct {
	store storage.UserStore
}

// UserRequest describes upsert payload.
type UserRequest struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Role       string   `json:"role"`
	PushToken  string   `json:"pushToken"`
	PushTokens []string `json:"pushTokens"`
}

// NewUserService constructs UserService.
func NewUserService(store storage.UserStore) *UserService {
	return &UserService{store: store}
}

// Upsert stores or updates a profile and returns its masked view.
func (s *UserService) Upsert(ctx context.Context, req UserRequest) (*model.UserView, error) {
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.ID, validation.Required, validation.Length(1, 128)),
		validation.Field(&req.Role, validation.Required, validation.In(model.RoleMember, model.RoleNonMember)),
	); err != nil {
		return nil, invalid(err)
	}

	user, err := s.store.GetUser(ctx, req.ID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		user = &model.UserProfile{ID: req.ID}
	}
	user.Name = firstNonEmpty(req.Name, user.Name)
	user.Role = req.Role
	user.PushToken = strings.TrimSpace(req.PushToken)
	user.PushTokens = user.PushTokens[:0]
	for _, token := range req.PushTokens {
		if token = strings.TrimSpace(token); token != "" {
			user.PushTokens = append(user.PushTokens, token)
		}
	}
	if err := s.store.UpsertUser(ctx, user); err != nil {
		return nil, err
	}
	return toView(user), nil
}

// List returns masked views, optionally filtered by role.
func (s *UserService) List(ctx context.Context, role string) ([]*model.UserView, error) {
	users, err := s.store.ListUsers(ctx, strings.TrimSpace(role))
	if err != nil {
		return nil, err
	}
	views := make([]*model.UserView, 0, len(users))
	for _, user := range users {
		views = append(views, toView(user))
	}
	return views, nil
}

// Get returns the masked view of one profile.
func (s *UserService) Get(ctx context.Context, id string) (*model.UserView, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return toView(user), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func toView(user *model.UserProfile) *model.UserView {
	if user == nil {
		return nil
	}
	endpoints := user.Endpoints()
	masked := make([]string, 0, len(endpoints))
	for _, endpoint := range endpoints {
		masked = append(masked, maskValue(endpoint))
	}
	return &model.UserView{
		ID:        user.ID,
		Name:      user.Name,
		Role:      user.Role,
		Endpoints: masked,
	}
}

func maskValue(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	length := len(runes)
	if length <= 4 {
		return value
	}
	return string(runes[:4]) + strings.Repeat("*", length-4)
}
