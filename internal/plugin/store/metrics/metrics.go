// Package metrics decorates a ChatStore with Prometheus latency recording.
package metrics

import (
	"context"
	"time"

	"github.com/lightloop/chat-service/internal/model"
	"github.com/lightloop/chat-service/internal/registry/store"
	"github.com/lightloop/chat-service/internal/security"
)

// Wrap returns a ChatStore that records StoreLatency for every operation.
func Wrap(inner store.ChatStore) store.ChatStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ChatStore
}

func observe(op string, start time.Time) {
	if security.StoreLatency != nil {
		security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (m *metricsStore) Transaction(ctx context.Context, fn func(tx store.ChatStore) error) error {
	defer observe("transaction", time.Now())
	return m.inner.Transaction(ctx, func(tx store.ChatStore) error {
		return fn(&metricsStore{inner: tx})
	})
}

func (m *metricsStore) GetOrCreateUser(ctx context.Context, externalID, email string, now int64) (*model.User, error) {
	defer observe("get_or_create_user", time.Now())
	return m.inner.GetOrCreateUser(ctx, externalID, email, now)
}

func (m *metricsStore) GetOrCreateOrg(ctx context.Context, externalOrgID, name string, now int64) (*model.Org, error) {
	defer observe("get_or_create_org", time.Now())
	return m.inner.GetOrCreateOrg(ctx, externalOrgID, name, now)
}

func (m *metricsStore) UpsertOrgMember(ctx context.Context, orgID, userID int64, role string, now int64) error {
	defer observe("upsert_org_member", time.Now())
	return m.inner.UpsertOrgMember(ctx, orgID, userID, role, now)
}

func (m *metricsStore) CreateProject(ctx context.Context, orgID int64, name string, now int64) (*model.Project, error) {
	defer observe("create_project", time.Now())
	return m.inner.CreateProject(ctx, orgID, name, now)
}

func (m *metricsStore) GetProject(ctx context.Context, projectID int64) (*model.Project, error) {
	defer observe("get_project", time.Now())
	return m.inner.GetProject(ctx, projectID)
}

func (m *metricsStore) UpsertProjectMember(ctx context.Context, projectID, userID int64, role string, now int64) error {
	defer observe("upsert_project_member", time.Now())
	return m.inner.UpsertProjectMember(ctx, projectID, userID, role, now)
}

func (m *metricsStore) IsProjectMember(ctx context.Context, projectID, userID int64) (bool, error) {
	defer observe("is_project_member", time.Now())
	return m.inner.IsProjectMember(ctx, projectID, userID)
}

func (m *metricsStore) CreateConversation(ctx context.Context, userID int64, title string, scope model.ConversationScope, orgID, projectID *int64, now int64) (*model.Conversation, error) {
	defer observe("create_conversation", time.Now())
	return m.inner.CreateConversation(ctx, userID, title, scope, orgID, projectID, now)
}

func (m *metricsStore) GetConversation(ctx context.Context, conversationID int64) (*model.Conversation, error) {
	defer observe("get_conversation", time.Now())
	return m.inner.GetConversation(ctx, conversationID)
}

func (m *metricsStore) FindMostRecentConversation(ctx context.Context, q store.ConversationQuery) (*model.Conversation, error) {
	defer observe("find_most_recent_conversation", time.Now())
	return m.inner.FindMostRecentConversation(ctx, q)
}

func (m *metricsStore) ListVisibleConversations(ctx context.Context, userID int64) ([]model.Conversation, error) {
	defer observe("list_visible_conversations", time.Now())
	return m.inner.ListVisibleConversations(ctx, userID)
}

func (m *metricsStore) TouchConversation(ctx context.Context, conversationID int64, now int64) error {
	defer observe("touch_conversation", time.Now())
	return m.inner.TouchConversation(ctx, conversationID, now)
}

func (m *metricsStore) RenameConversationIfDefault(ctx context.Context, conversationID int64, title string) error {
	defer observe("rename_conversation_if_default", time.Now())
	return m.inner.RenameConversationIfDefault(ctx, conversationID, title)
}

func (m *metricsStore) AddConversationParticipant(ctx context.Context, conversationID, userID int64, now int64) error {
	defer observe("add_conversation_participant", time.Now())
	return m.inner.AddConversationParticipant(ctx, conversationID, userID, now)
}

func (m *metricsStore) IsConversationParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	defer observe("is_conversation_participant", time.Now())
	return m.inner.IsConversationParticipant(ctx, conversationID, userID)
}

func (m *metricsStore) AppendMessage(ctx context.Context, conversationID int64, role, content string, metadata *model.MessageMetadata, now int64) (*model.Message, error) {
	defer observe("append_message", time.Now())
	return m.inner.AppendMessage(ctx, conversationID, role, content, metadata, now)
}

func (m *metricsStore) ListMessages(ctx context.Context, conversationID int64) ([]model.Message, error) {
	defer observe("list_messages", time.Now())
	return m.inner.ListMessages(ctx, conversationID)
}

func (m *metricsStore) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]model.Message, error) {
	defer observe("recent_messages", time.Now())
	return m.inner.RecentMessages(ctx, conversationID, limit)
}

func (m *metricsStore) CreateCheckpoint(ctx context.Context, cp store.NewCheckpoint, now int64) (*model.ConversationCheckpoint, error) {
	defer observe("create_checkpoint", time.Now())
	return m.inner.CreateCheckpoint(ctx, cp, now)
}

func (m *metricsStore) LatestCheckpoint(ctx context.Context, conversationID int64) (*model.ConversationCheckpoint, error) {
	defer observe("latest_checkpoint", time.Now())
	return m.inner.LatestCheckpoint(ctx, conversationID)
}

func (m *metricsStore) ListVisibleCheckpoints(ctx context.Context, userID int64, projectID *int64, limit int) ([]model.ConversationCheckpoint, error) {
	defer observe("list_visible_checkpoints", time.Now())
	return m.inner.ListVisibleCheckpoints(ctx, userID, projectID, limit)
}

func (m *metricsStore) GrantOrgLicense(ctx context.Context, orgID int64, license string, now int64) error {
	defer observe("grant_org_license", time.Now())
	return m.inner.GrantOrgLicense(ctx, orgID, license, now)
}

func (m *metricsStore) RevokeOrgLicense(ctx context.Context, orgID int64, license string) error {
	defer observe("revoke_org_license", time.Now())
	return m.inner.RevokeOrgLicense(ctx, orgID, license)
}

func (m *metricsStore) HasOrgLicense(ctx context.Context, orgID int64, license string) (bool, error) {
	defer observe("has_org_license", time.Now())
	return m.inner.HasOrgLicense(ctx, orgID, license)
}

func (m *metricsStore) GrantUserLicense(ctx context.Context, userID int64, license string, now int64) error {
	defer observe("grant_user_license", time.Now())
	return m.inner.GrantUserLicense(ctx, userID, license, now)
}

func (m *metricsStore) RevokeUserLicense(ctx context.Context, userID int64, license string) error {
	defer observe("revoke_user_license", time.Now())
	return m.inner.RevokeUserLicense(ctx, userID, license)
}

func (m *metricsStore) HasUserLicense(ctx context.Context, userID int64, license string) (bool, error) {
	defer observe("has_user_license", time.Now())
	return m.inner.HasUserLicense(ctx, userID, license)
}

var _ store.ChatStore = (*metricsStore)(nil)
