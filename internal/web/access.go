package web

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/userimport/internal/core"
)

const (
	// PermissionEditGroup lets a group member manage the group's membership.
	PermissionEditGroup = "edit group"

	// RoleAdministrator may import into any group.
	RoleAdministrator = "administrator"
)

// authorizeGroupImport decides whether accountID may import members into
// groupID. Members need the edit permission in the group; non-members need
// the administrator role.
func (s *Server) authorizeGroupImport(ctx context.Context, groupID, accountID string) error {
	exists, err := s.access.GroupExists(ctx, groupID)
	if err != nil {
		return fmt.Errorf("check group: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", core.ErrGroupNotFound, groupID)
	}
	if accountID == "" {
		return fmt.Errorf("%w: no acting account", core.ErrAccessDenied)
	}

	member, err := s.access.IsGroupMember(ctx, groupID, accountID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}

	var allowed bool
	if member {
		allowed, err = s.access.HasGroupPermission(ctx, groupID, accountID, PermissionEditGroup)
	} else {
		allowed, err = s.access.HasRole(ctx, accountID, RoleAdministrator)
	}
	if err != nil {
		return fmt.Errorf("check permission: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w: account %s in group %s", core.ErrAccessDenied, accountID, groupID)
	}
	return nil
}
