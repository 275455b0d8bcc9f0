package model

// ConversationScope controls who can see and resume a conversation.
type ConversationScope string

const (
	ScopePersonal    ConversationScope = "personal"
	ScopeOrgPersonal ConversationScope = "org_personal"
	ScopeOrgGroup    ConversationScope = "org_group"
)

// Valid reports whether the scope is one of the known values.
func (s ConversationScope) Valid() bool {
	switch s {
	case ScopePersonal, ScopeOrgPersonal, ScopeOrgGroup:
		return true
	}
	return false
}

// IsOrgScoped reports whether the scope requires an active org session.
func (s ConversationScope) IsOrgScoped() bool {
	return s == ScopeOrgPersonal || s == ScopeOrgGroup
}

// CheckpointType distinguishes how a checkpoint was created.
type CheckpointType string

const (
	CheckpointSession CheckpointType = "session"
	CheckpointTask    CheckpointType = "task"
	CheckpointManual  CheckpointType = "manual"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultConversationTitle is the placeholder title assigned on creation,
// rewritten once the first user message arrives.
const DefaultConversationTitle = "New Chat"

// User mirrors an identity-provider user. Created lazily on first
// authenticated access, immutable afterwards.
type User struct {
	ID         int64  `json:"id"         gorm:"primaryKey;autoIncrement"`
	ExternalID string `json:"externalId" gorm:"column:external_id;uniqueIndex;not null"`
	Email      string `json:"email"      gorm:"not null"`
	CreatedAt  int64  `json:"createdAt"  gorm:"not null;autoCreateTime:false"`
}

func (User) TableName() string { return "users" }

// Org mirrors an identity-provider organization, created lazily on first reference.
type Org struct {
	ID            int64  `json:"id"            gorm:"primaryKey;autoIncrement"`
	ExternalOrgID string `json:"externalOrgId" gorm:"column:external_org_id;uniqueIndex;not null"`
	Name          string `json:"name"          gorm:"not null"`
	CreatedAt     int64  `json:"createdAt"     gorm:"not null;autoCreateTime:false"`
}

func (Org) TableName() string { return "orgs" }

// OrgMember records a user's role within an org. The role is sourced from
// the identity provider and upserted on every org-scoped call.
type OrgMember struct {
	ID        int64  `json:"-"         gorm:"primaryKey;autoIncrement"`
	OrgID     int64  `json:"orgId"     gorm:"uniqueIndex:idx_org_members_pair;not null"`
	UserID    int64  `json:"userId"    gorm:"uniqueIndex:idx_org_members_pair;not null"`
	Role      string `json:"role"      gorm:"not null"`
	CreatedAt int64  `json:"createdAt" gorm:"not null;autoCreateTime:false"`
}

func (OrgMember) TableName() string { return "org_members" }

// OrgLicense is a capability flag granted to an org (e.g. hire_paid).
type OrgLicense struct {
	OrgID     int64  `json:"orgId"     gorm:"uniqueIndex:idx_org_licenses_pair;not null"`
	License   string `json:"license"   gorm:"uniqueIndex:idx_org_licenses_pair;not null"`
	CreatedAt int64  `json:"createdAt" gorm:"not null;autoCreateTime:false"`
}

func (OrgLicense) TableName() string { return "org_licenses" }

// UserLicense is a capability flag granted to an individual user.
type UserLicense struct {
	UserID    int64  `json:"userId"    gorm:"uniqueIndex:idx_user_licenses_pair;not null"`
	License   string `json:"license"   gorm:"uniqueIndex:idx_user_licenses_pair;not null"`
	CreatedAt int64  `json:"createdAt" gorm:"not null;autoCreateTime:false"`
}

func (UserLicense) TableName() string { return "user_licenses" }

// Project groups org conversations; membership gates access to project-scoped threads.
type Project struct {
	ID        int64  `json:"id"        gorm:"primaryKey;autoIncrement"`
	OrgID     int64  `json:"orgId"     gorm:"not null;index"`
	Name      string `json:"name"      gorm:"not null"`
	CreatedAt int64  `json:"createdAt" gorm:"not null;autoCreateTime:false"`
	UpdatedAt int64  `json:"updatedAt" gorm:"not null;autoUpdateTime:false"`
}

func (Project) TableName() string { return "projects" }

// ProjectMember records a user's role within a project, unique per pair.
type ProjectMember struct {
	ID        int64  `json:"-"         gorm:"primaryKey;autoIncrement"`
	ProjectID int64  `json:"projectId" gorm:"uniqueIndex:idx_project_members_pair;not null"`
	UserID    int64  `json:"userId"    gorm:"uniqueIndex:idx_project_members_pair;not null"`
	Role      string `json:"role"      gorm:"not null"`
	CreatedAt int64  `json:"createdAt" gorm:"not null;autoCreateTime:false"`
}

func (ProjectMember) TableName() string { return "project_members" }

// Conversation is a chat thread. Invariant: scope=personal implies OrgID and
// ProjectID are nil; org scopes require OrgID. LastActiveAt is the
// authoritative idle clock; rows migrated from before the column existed
// carry 0 and fall back to UpdatedAt.
type Conversation struct {
	ID           int64             `json:"id"           gorm:"primaryKey;autoIncrement"`
	UserID       int64             `json:"userId"       gorm:"not null;index:idx_conversations_recent"`
	Title        string            `json:"title"        gorm:"not null"`
	Scope        ConversationScope `json:"scope"        gorm:"not null;index:idx_conversations_recent"`
	OrgID        *int64            `json:"orgId"        gorm:"index:idx_conversations_recent"`
	ProjectID    *int64            `json:"projectId"    gorm:"index:idx_conversations_recent"`
	CreatedAt    int64             `json:"createdAt"    gorm:"not null;autoCreateTime:false"`
	UpdatedAt    int64             `json:"updatedAt"    gorm:"not null;autoUpdateTime:false"`
	LastActiveAt int64             `json:"lastActiveAt" gorm:"not null;index:idx_conversations_recent"`
}

func (Conversation) TableName() string { return "conversations" }

// EffectiveLastActiveAt returns the idle clock for resume decisions,
// falling back to UpdatedAt for backfilled rows where LastActiveAt is 0.
func (c *Conversation) EffectiveLastActiveAt() int64 {
	if c.LastActiveAt > 0 {
		return c.LastActiveAt
	}
	return c.UpdatedAt
}

// ConversationParticipant is the membership roster for org_group
// conversations. Personal and org_personal threads are single-owner and
// checked via Conversation.UserID instead.
type ConversationParticipant struct {
	ID             int64 `json:"-"              gorm:"primaryKey;autoIncrement"`
	ConversationID int64 `json:"conversationId" gorm:"uniqueIndex:idx_conversation_participants_pair;not null"`
	UserID         int64 `json:"userId"         gorm:"uniqueIndex:idx_conversation_participants_pair;not null"`
	CreatedAt      int64 `json:"createdAt"      gorm:"not null;autoCreateTime:false"`
}

func (ConversationParticipant) TableName() string { return "conversation_participants" }

// Message is one turn in a conversation. Append-only, ordered by CreatedAt
// ascending. Content is the flattened text used for titles and summaries;
// Metadata preserves the original structured parts as JSON.
type Message struct {
	ID             int64   `json:"id"             gorm:"primaryKey;autoIncrement"`
	ConversationID int64   `json:"conversationId" gorm:"not null;index"`
	Role           string  `json:"role"           gorm:"not null"`
	Content        string  `json:"content"        gorm:"not null"`
	Metadata       *string `json:"metadata"       gorm:"type:text"`
	CreatedAt      int64   `json:"createdAt"      gorm:"not null;index;autoCreateTime:false"`
}

func (Message) TableName() string { return "messages" }

// ConversationCheckpoint is a point-in-time summary snapshot. It never
// mutates the conversation or truncates messages; it only annotates history
// so the UI can offer resumption points.
type ConversationCheckpoint struct {
	ID              int64             `json:"id"              gorm:"primaryKey;autoIncrement"`
	ConversationID  int64             `json:"conversationId"  gorm:"not null;index:idx_checkpoints_recent"`
	UserID          int64             `json:"userId"          gorm:"not null"`
	Title           string            `json:"title"           gorm:"not null"`
	Summary         *string           `json:"summary"`
	AnchorMessageID *int64            `json:"anchorMessageId" gorm:"column:anchor_message_id"`
	CheckpointType  CheckpointType    `json:"checkpointType"  gorm:"not null"`
	Scope           ConversationScope `json:"scope"           gorm:"not null"`
	OrgID           *int64            `json:"orgId"`
	ProjectID       *int64            `json:"projectId"`
	CreatedAt       int64             `json:"createdAt"       gorm:"not null;index:idx_checkpoints_recent;autoCreateTime:false"`
}

func (ConversationCheckpoint) TableName() string { return "conversation_checkpoints" }
