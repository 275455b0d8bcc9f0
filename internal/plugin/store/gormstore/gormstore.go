package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/lightloop/chat-service/internal/model"
	registrystore "github.com/lightloop/chat-service/internal/registry/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements ChatStore on top of GORM. The same implementation
// backs both the sqlite and postgres plugins; only the dialector differs.
type GormStore struct {
	db *gorm.DB
}

// New wraps an open GORM handle. Exposed for tests that open their own
// in-memory database.
func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates or updates the schema for all chat-service tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Org{},
		&model.OrgMember{},
		&model.OrgLicense{},
		&model.UserLicense{},
		&model.Project{},
		&model.ProjectMember{},
		&model.Conversation{},
		&model.ConversationParticipant{},
		&model.Message{},
		&model.ConversationCheckpoint{},
	)
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx registrystore.ChatStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// --- Identity ---

func (s *GormStore) GetOrCreateUser(ctx context.Context, externalID, email string, now int64) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	user = model.User{ExternalID: externalID, Email: email, CreatedAt: now}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost a creation race; the winner's row is authoritative.
			if err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&user).Error; err != nil {
				return nil, fmt.Errorf("failed to reload user after conflict: %w", err)
			}
			return &user, nil
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

func (s *GormStore) GetOrCreateOrg(ctx context.Context, externalOrgID, name string, now int64) (*model.Org, error) {
	var org model.Org
	err := s.db.WithContext(ctx).Where("external_org_id = ?", externalOrgID).First(&org).Error
	if err == nil {
		return &org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up org: %w", err)
	}

	org = model.Org{ExternalOrgID: externalOrgID, Name: name, CreatedAt: now}
	if err := s.db.WithContext(ctx).Create(&org).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if err := s.db.WithContext(ctx).Where("external_org_id = ?", externalOrgID).First(&org).Error; err != nil {
				return nil, fmt.Errorf("failed to reload org after conflict: %w", err)
			}
			return &org, nil
		}
		return nil, fmt.Errorf("failed to create org: %w", err)
	}
	return &org, nil
}

func (s *GormStore) UpsertOrgMember(ctx context.Context, orgID, userID int64, role string, now int64) error {
	member := model.OrgMember{OrgID: orgID, UserID: userID, Role: role, CreatedAt: now}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(&member).Error
	if err != nil {
		return fmt.Errorf("failed to upsert org member: %w", err)
	}
	return nil
}

// --- Projects ---

func (s *GormStore) CreateProject(ctx context.Context, orgID int64, name string, now int64) (*model.Project, error) {
	project := model.Project{OrgID: orgID, Name: name, CreatedAt: now, UpdatedAt: now}
	if err := s.db.WithContext(ctx).Create(&project).Error; err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return &project, nil
}

func (s *GormStore) GetProject(ctx context.Context, projectID int64) (*model.Project, error) {
	var project model.Project
	if err := s.db.WithContext(ctx).Where("id = ?", projectID).First(&project).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "project", ID: strconv.FormatInt(projectID, 10)}
		}
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return &project, nil
}

func (s *GormStore) UpsertProjectMember(ctx context.Context, projectID, userID int64, role string, now int64) error {
	member := model.ProjectMember{ProjectID: projectID, UserID: userID, Role: role, CreatedAt: now}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(&member).Error
	if err != nil {
		return fmt.Errorf("failed to upsert project member: %w", err)
	}
	return nil
}

func (s *GormStore) IsProjectMember(ctx context.Context, projectID, userID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ProjectMember{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check project membership: %w", err)
	}
	return count > 0, nil
}

// --- Conversations ---

func (s *GormStore) CreateConversation(ctx context.Context, userID int64, title string, scope model.ConversationScope, orgID, projectID *int64, now int64) (*model.Conversation, error) {
	if !scope.Valid() {
		return nil, &registrystore.ValidationError{Field: "scope", Message: fmt.Sprintf("invalid scope %q", scope)}
	}
	if scope == model.ScopePersonal && (orgID != nil || projectID != nil) {
		return nil, &registrystore.ValidationError{Field: "scope", Message: "personal conversations cannot include org context"}
	}
	if scope.IsOrgScoped() && orgID == nil {
		return nil, &registrystore.ValidationError{Field: "orgId", Message: "org-scoped conversations require an org"}
	}
	if title == "" {
		title = model.DefaultConversationTitle
	}

	conv := model.Conversation{
		UserID:       userID,
		Title:        title,
		Scope:        scope,
		OrgID:        orgID,
		ProjectID:    projectID,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActiveAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return &conv, nil
}

func (s *GormStore) GetConversation(ctx context.Context, conversationID int64) (*model.Conversation, error) {
	var conv model.Conversation
	if err := s.db.WithContext(ctx).Where("id = ?", conversationID).First(&conv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "conversation", ID: strconv.FormatInt(conversationID, 10)}
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &conv, nil
}

func (s *GormStore) FindMostRecentConversation(ctx context.Context, q registrystore.ConversationQuery) (*model.Conversation, error) {
	tx := s.db.WithContext(ctx).Model(&model.Conversation{})

	switch q.Scope {
	case model.ScopePersonal:
		tx = tx.Where("user_id = ? AND scope = ?", q.UserID, model.ScopePersonal)
	case model.ScopeOrgPersonal:
		tx = tx.Where("user_id = ? AND scope = ? AND org_id = ?", q.UserID, model.ScopeOrgPersonal, derefID(q.OrgID))
		tx = whereProject(tx, "project_id", q.ProjectID)
	case model.ScopeOrgGroup:
		tx = tx.Joins("JOIN conversation_participants p ON p.conversation_id = conversations.id AND p.user_id = ?", q.UserID).
			Where("conversations.scope = ? AND conversations.org_id = ?", model.ScopeOrgGroup, derefID(q.OrgID))
		tx = whereProject(tx, "conversations.project_id", q.ProjectID)
	default:
		return nil, &registrystore.ValidationError{Field: "scope", Message: fmt.Sprintf("invalid scope %q", q.Scope)}
	}

	var conv model.Conversation
	result := tx.Order("COALESCE(NULLIF(last_active_at, 0), updated_at) DESC, id DESC").
		Limit(1).
		Find(&conv)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to locate conversation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &conv, nil
}

// whereProject applies null-aware project matching: a nil id matches only
// rows with a NULL project_id, never rows tied to some project.
func whereProject(tx *gorm.DB, column string, projectID *int64) *gorm.DB {
	if projectID == nil {
		return tx.Where(column + " IS NULL")
	}
	return tx.Where(column+" = ?", *projectID)
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

func (s *GormStore) ListVisibleConversations(ctx context.Context, userID int64) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := s.db.WithContext(ctx).
		Where("(user_id = ? AND scope IN ?) OR (scope = ? AND id IN (?))",
			userID,
			[]model.ConversationScope{model.ScopePersonal, model.ScopeOrgPersonal},
			model.ScopeOrgGroup,
			s.db.Model(&model.ConversationParticipant{}).Select("conversation_id").Where("user_id = ?", userID),
		).
		Order("updated_at DESC, id DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

func (s *GormStore) TouchConversation(ctx context.Context, conversationID int64, now int64) error {
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{"updated_at": now, "last_active_at": now}).Error
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

func (s *GormStore) RenameConversationIfDefault(ctx context.Context, conversationID int64, title string) error {
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND title = ?", conversationID, model.DefaultConversationTitle).
		Update("title", title).Error
	if err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}
	return nil
}

func (s *GormStore) AddConversationParticipant(ctx context.Context, conversationID, userID int64, now int64) error {
	participant := model.ConversationParticipant{ConversationID: conversationID, UserID: userID, CreatedAt: now}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&participant).Error
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

func (s *GormStore) IsConversationParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return count > 0, nil
}

// --- Messages ---

func (s *GormStore) AppendMessage(ctx context.Context, conversationID int64, role, content string, metadata *model.MessageMetadata, now int64) (*model.Message, error) {
	switch role {
	case model.RoleUser, model.RoleAssistant, model.RoleSystem:
	default:
		return nil, &registrystore.ValidationError{Field: "role", Message: fmt.Sprintf("invalid role %q", role)}
	}
	encoded, err := model.EncodeMetadata(metadata)
	if err != nil {
		return nil, err
	}

	msg := model.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       encoded,
		CreatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return &msg, nil
}

func (s *GormStore) ListMessages(ctx context.Context, conversationID int64) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

func (s *GormStore) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}
	return msgs, nil
}

// --- Checkpoints ---

func (s *GormStore) CreateCheckpoint(ctx context.Context, cp registrystore.NewCheckpoint, now int64) (*model.ConversationCheckpoint, error) {
	if cp.Title == "" {
		return nil, &registrystore.ValidationError{Field: "title", Message: "checkpoint title is required"}
	}
	row := model.ConversationCheckpoint{
		ConversationID:  cp.ConversationID,
		UserID:          cp.UserID,
		Title:           cp.Title,
		Summary:         cp.Summary,
		AnchorMessageID: cp.AnchorMessageID,
		CheckpointType:  cp.CheckpointType,
		Scope:           cp.Scope,
		OrgID:           cp.OrgID,
		ProjectID:       cp.ProjectID,
		CreatedAt:       now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to create checkpoint: %w", err)
	}
	return &row, nil
}

func (s *GormStore) LatestCheckpoint(ctx context.Context, conversationID int64) (*model.ConversationCheckpoint, error) {
	var cp model.ConversationCheckpoint
	result := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&cp)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load latest checkpoint: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &cp, nil
}

func (s *GormStore) ListVisibleCheckpoints(ctx context.Context, userID int64, projectID *int64, limit int) ([]model.ConversationCheckpoint, error) {
	tx := s.db.WithContext(ctx).
		Table("conversation_checkpoints cp").
		Select("cp.*").
		Joins("JOIN conversations c ON c.id = cp.conversation_id").
		Where("(c.scope IN ? AND c.user_id = ?) OR (c.scope = ? AND EXISTS (SELECT 1 FROM conversation_participants p WHERE p.conversation_id = c.id AND p.user_id = ?))",
			[]model.ConversationScope{model.ScopePersonal, model.ScopeOrgPersonal}, userID,
			model.ScopeOrgGroup, userID,
		).
		// Project-scoped checkpoints additionally require current project
		// membership, even for callers who can see the conversation.
		Where("cp.project_id IS NULL OR EXISTS (SELECT 1 FROM project_members pm WHERE pm.project_id = cp.project_id AND pm.user_id = ?)", userID)
	if projectID != nil {
		tx = tx.Where("cp.project_id = ?", *projectID)
	}

	var cps []model.ConversationCheckpoint
	err := tx.Order("cp.created_at DESC, cp.id DESC").
		Limit(limit).
		Scan(&cps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return cps, nil
}

// --- Licenses ---

func (s *GormStore) GrantOrgLicense(ctx context.Context, orgID int64, license string, now int64) error {
	grant := model.OrgLicense{OrgID: orgID, License: license, CreatedAt: now}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "license"}},
		DoNothing: true,
	}).Create(&grant).Error
	if err != nil {
		return fmt.Errorf("failed to grant org license: %w", err)
	}
	return nil
}

func (s *GormStore) RevokeOrgLicense(ctx context.Context, orgID int64, license string) error {
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND license = ?", orgID, license).
		Delete(&model.OrgLicense{}).Error
	if err != nil {
		return fmt.Errorf("failed to revoke org license: %w", err)
	}
	return nil
}

func (s *GormStore) HasOrgLicense(ctx context.Context, orgID int64, license string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.OrgLicense{}).
		Where("org_id = ? AND license = ?", orgID, license).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check org license: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) GrantUserLicense(ctx context.Context, userID int64, license string, now int64) error {
	grant := model.UserLicense{UserID: userID, License: license, CreatedAt: now}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "license"}},
		DoNothing: true,
	}).Create(&grant).Error
	if err != nil {
		return fmt.Errorf("failed to grant user license: %w", err)
	}
	return nil
}

func (s *GormStore) RevokeUserLicense(ctx context.Context, userID int64, license string) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND license = ?", userID, license).
		Delete(&model.UserLicense{}).Error
	if err != nil {
		return fmt.Errorf("failed to revoke user license: %w", err)
	}
	return nil
}

func (s *GormStore) HasUserLicense(ctx context.Context, userID int64, license string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.UserLicense{}).
		Where("user_id = ? AND license = ?", userID, license).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check user license: %w", err)
	}
	return count > 0, nil
}

var _ registrystore.ChatStore = (*GormStore)(nil)
