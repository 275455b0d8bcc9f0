package chat

import (
	"context"
	"strconv"

	"github.com/lightloop/chat-service/internal/identity"
	"github.com/lightloop/chat-service/internal/model"
	registrystore "github.com/lightloop/chat-service/internal/registry/store"
)

// ScopeContext is the validated (scope, org, project) tuple a chat turn
// operates in. Built once per request by the Scoper and trusted downstream.
type ScopeContext struct {
	Scope     model.ConversationScope
	OrgID     *int64
	ProjectID *int64
}

// Scoper validates requested scopes against the caller's identity and
// authorizes access to existing conversations.
type Scoper struct {
	store registrystore.ChatStore
}

func NewScoper(store registrystore.ChatStore) *Scoper {
	return &Scoper{store: store}
}

// Resolve validates a requested scope for a new or located conversation.
// A requested org must match the session's active org; personal scope must
// not carry org context; org scopes require an active org session. Project
// access is checked here so a non-member gets a 403 before any conversation
// is touched.
func (s *Scoper) Resolve(ctx context.Context, id *identity.Identity, scope model.ConversationScope, orgID *string, projectID *int64) (*ScopeContext, error) {
	if scope == "" {
		scope = model.ScopePersonal
	}
	if !scope.Valid() {
		return nil, &registrystore.ValidationError{Field: "scope", Message: "unknown scope " + string(scope)}
	}

	if orgID != nil && (id.Org == nil || *orgID != id.Org.ExternalOrgID) {
		return nil, &registrystore.ForbiddenError{Message: "organization mismatch"}
	}

	if scope == model.ScopePersonal {
		if orgID != nil {
			return nil, &registrystore.ValidationError{Field: "orgId", Message: "personal conversations cannot include org context"}
		}
		if projectID != nil {
			return nil, &registrystore.ValidationError{Field: "projectId", Message: "personal conversations cannot include org context"}
		}
		return &ScopeContext{Scope: scope}, nil
	}

	if id.Org == nil {
		return nil, &registrystore.ValidationError{Field: "scope", Message: string(scope) + " scope requires an active org session"}
	}
	sc := &ScopeContext{Scope: scope, OrgID: &id.Org.ID}

	if projectID != nil {
		project, err := s.store.GetProject(ctx, *projectID)
		if err != nil {
			return nil, err
		}
		if project == nil || project.OrgID != id.Org.ID {
			return nil, &registrystore.NotFoundError{Resource: "project", ID: strconv.FormatInt(*projectID, 10)}
		}
		member, err := s.store.IsProjectMember(ctx, *projectID, id.User.ID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, &registrystore.ForbiddenError{Message: "not a member of this project"}
		}
		sc.ProjectID = projectID
	}
	return sc, nil
}

// AuthorizeExisting checks that the caller may access an existing
// conversation. Ownership, org and participation failures all return
// not-found so the conversation's existence is never leaked; only project
// membership failures surface as forbidden.
func (s *Scoper) AuthorizeExisting(ctx context.Context, id *identity.Identity, conv *model.Conversation) error {
	notFound := &registrystore.NotFoundError{Resource: "conversation", ID: strconv.FormatInt(conv.ID, 10)}

	switch conv.Scope {
	case model.ScopePersonal:
		if conv.UserID != id.User.ID {
			return notFound
		}
	case model.ScopeOrgPersonal:
		if conv.UserID != id.User.ID {
			return notFound
		}
		if id.Org == nil || conv.OrgID == nil || *conv.OrgID != id.Org.ID {
			return notFound
		}
	case model.ScopeOrgGroup:
		if id.Org == nil || conv.OrgID == nil || *conv.OrgID != id.Org.ID {
			return notFound
		}
		participant, err := s.store.IsConversationParticipant(ctx, conv.ID, id.User.ID)
		if err != nil {
			return err
		}
		if !participant && conv.UserID != id.User.ID {
			return notFound
		}
	default:
		return notFound
	}

	if conv.ProjectID != nil {
		member, err := s.store.IsProjectMember(ctx, *conv.ProjectID, id.User.ID)
		if err != nil {
			return err
		}
		if !member {
			return &registrystore.ForbiddenError{Message: "not a member of this project"}
		}
	}
	return nil
}
