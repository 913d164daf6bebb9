// Package authz answers whether an agent holds a named permission.
package authz

import (
	"context"
	"errors"
	"fmt"

	"livechat-backend/internal/model"
	"livechat-backend/internal/store"
)

const (
	PermViewLivechatRoom    = "view-l-room"
	PermCloseLivechatRoom   = "close-livechat-room"
	PermViewLivechatManager = "view-livechat-manager"
)

type Authorizer interface {
	HasPermission(ctx context.Context, userID, permission string) (bool, error)
}

var rolePermissions = map[model.AgentRole][]string{
	model.AgentRoleAdmin:   {PermViewLivechatRoom, PermCloseLivechatRoom, PermViewLivechatManager},
	model.AgentRoleManager: {PermViewLivechatRoom, PermCloseLivechatRoom, PermViewLivechatManager},
	model.AgentRoleAgent:   {PermViewLivechatRoom, PermCloseLivechatRoom},
}

// RoleAuthorizer resolves the agent's role from the store and checks it
// against a static role to permission table.
type RoleAuthorizer struct {
	agents store.AgentStore
}

func NewRoleAuthorizer(agents store.AgentStore) *RoleAuthorizer {
	return &RoleAuthorizer{agents: agents}
}

func (a *RoleAuthorizer) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	agent, err := a.agents.GetAgent(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load agent %s: %w", userID, err)
	}
	if agent.Status == model.AgentStatusDisabled {
		return false, nil
	}
	for _, p := range rolePermissions[agent.Role] {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}
