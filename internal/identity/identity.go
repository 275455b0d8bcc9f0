package identity

import (
	"context"
	"fmt"

	"github.com/lightloop/chat-service/internal/model"
	registrystore "github.com/lightloop/chat-service/internal/registry/store"
	"github.com/lightloop/chat-service/internal/security"
)

// Resolver maps external identity-provider sessions onto local user and org
// rows, creating them lazily on first contact.
type Resolver struct {
	store registrystore.ChatStore
}

func NewResolver(store registrystore.ChatStore) *Resolver {
	return &Resolver{store: store}
}

// Identity is the local view of an authenticated caller. Org is nil when the
// session carries no org context.
type Identity struct {
	User    *model.User
	Org     *model.Org
	OrgRole string
}

// Resolve locates or creates the local user (and org, when present) for the
// given session, and syncs the caller's org membership role.
func (r *Resolver) Resolve(ctx context.Context, sess *security.Session, now int64) (*Identity, error) {
	user, err := r.store.GetOrCreateUser(ctx, sess.ExternalUserID, sess.Email, now)
	if err != nil {
		return nil, fmt.Errorf("resolving user: %w", err)
	}

	id := &Identity{User: user, OrgRole: sess.OrgRole}
	if !sess.HasOrg() {
		return id, nil
	}

	org, err := r.store.GetOrCreateOrg(ctx, sess.ExternalOrgID, sess.OrgName, now)
	if err != nil {
		return nil, fmt.Errorf("resolving org: %w", err)
	}
	id.Org = org

	role := sess.OrgRole
	if role == "" {
		role = "org:member"
	}
	if err := r.store.UpsertOrgMember(ctx, org.ID, user.ID, role, now); err != nil {
		return nil, fmt.Errorf("syncing org membership: %w", err)
	}
	return id, nil
}
