package store

import (
	"context"
	"fmt"

	"github.com/lightloop/chat-service/internal/model"
)

// ConversationQuery selects the most recent conversation for a (user, scope,
// org, project) tuple. OrgID and ProjectID are matched null-aware: a nil
// ProjectID matches only rows with a NULL project_id.
type ConversationQuery struct {
	UserID    int64
	Scope     model.ConversationScope
	OrgID     *int64
	ProjectID *int64
}

// NewCheckpoint is the input for inserting a checkpoint row.
type NewCheckpoint struct {
	ConversationID  int64
	UserID          int64
	Title           string
	Summary         *string
	AnchorMessageID *int64
	CheckpointType  model.CheckpointType
	Scope           model.ConversationScope
	OrgID           *int64
	ProjectID       *int64
}

// ChatStore is the primary data access interface for the chat service.
// All timestamps are unix milliseconds supplied by the caller; the store
// never reads the wall clock itself.
type ChatStore interface {
	// Transaction runs fn against a store bound to a single database
	// transaction. The locate-or-create and checkpoint-then-resume
	// sequences run inside one to keep the resume decision atomic.
	Transaction(ctx context.Context, fn func(tx ChatStore) error) error

	// Identity
	GetOrCreateUser(ctx context.Context, externalID, email string, now int64) (*model.User, error)
	GetOrCreateOrg(ctx context.Context, externalOrgID, name string, now int64) (*model.Org, error)
	UpsertOrgMember(ctx context.Context, orgID, userID int64, role string, now int64) error

	// Projects
	CreateProject(ctx context.Context, orgID int64, name string, now int64) (*model.Project, error)
	GetProject(ctx context.Context, projectID int64) (*model.Project, error)
	UpsertProjectMember(ctx context.Context, projectID, userID int64, role string, now int64) error
	IsProjectMember(ctx context.Context, projectID, userID int64) (bool, error)

	// Conversations
	CreateConversation(ctx context.Context, userID int64, title string, scope model.ConversationScope, orgID, projectID *int64, now int64) (*model.Conversation, error)
	GetConversation(ctx context.Context, conversationID int64) (*model.Conversation, error)
	FindMostRecentConversation(ctx context.Context, q ConversationQuery) (*model.Conversation, error)
	ListVisibleConversations(ctx context.Context, userID int64) ([]model.Conversation, error)
	TouchConversation(ctx context.Context, conversationID int64, now int64) error
	// RenameConversationIfDefault sets the title only while it is still the
	// creation placeholder, so a concurrent rename is never clobbered.
	RenameConversationIfDefault(ctx context.Context, conversationID int64, title string) error
	AddConversationParticipant(ctx context.Context, conversationID, userID int64, now int64) error
	IsConversationParticipant(ctx context.Context, conversationID, userID int64) (bool, error)

	// Messages
	AppendMessage(ctx context.Context, conversationID int64, role, content string, metadata *model.MessageMetadata, now int64) (*model.Message, error)
	ListMessages(ctx context.Context, conversationID int64) ([]model.Message, error)
	RecentMessages(ctx context.Context, conversationID int64, limit int) ([]model.Message, error)

	// Checkpoints
	CreateCheckpoint(ctx context.Context, cp NewCheckpoint, now int64) (*model.ConversationCheckpoint, error)
	LatestCheckpoint(ctx context.Context, conversationID int64) (*model.ConversationCheckpoint, error)
	// ListVisibleCheckpoints returns checkpoints of conversations the user
	// can see, newest first. Project-scoped checkpoints are returned only to
	// current project members. A non-nil projectID narrows to one project.
	ListVisibleCheckpoints(ctx context.Context, userID int64, projectID *int64, limit int) ([]model.ConversationCheckpoint, error)

	// Licenses
	GrantOrgLicense(ctx context.Context, orgID int64, license string, now int64) error
	RevokeOrgLicense(ctx context.Context, orgID int64, license string) error
	HasOrgLicense(ctx context.Context, orgID int64, license string) (bool, error)
	GrantUserLicense(ctx context.Context, userID int64, license string, now int64) error
	RevokeUserLicense(ctx context.Context, userID int64, license string) error
	HasUserLicense(ctx context.Context, userID int64, license string) (bool, error)
}

// Loader creates a ChatStore from config carried in ctx.
type Loader func(ctx context.Context) (ChatStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
