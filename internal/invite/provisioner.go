package invite

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-assistant/internal/conversation"
	"github.com/p-blackswan/project-assistant/internal/project"
)

// RoleSetter registers a conversation's role in a project.
type RoleSetter interface {
	SetRole(ctx context.Context, conversationID, projectID string, role conversation.Role) error
}

// Provisioner creates the shareable template conversation of a new project
// and its share URL.
type Provisioner struct {
	host        conversation.Host
	roles       RoleSetter
	minter      *Minter
	baseURL     string
	assistantID string
	logger      zerolog.Logger
}

// NewProvisioner creates a Provisioner. With a nil minter the share URL
// carries the plain invitation code.
func NewProvisioner(host conversation.Host, roles RoleSetter, minter *Minter, baseURL, assistantID string, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		host:        host,
		roles:       roles,
		minter:      minter,
		baseURL:     baseURL,
		assistantID: assistantID,
		logger:      logger.With().Str("component", "invite.provisioner").Logger(),
	}
}

// Provision implements project.ShareProvisioner.
func (p *Provisioner) Provision(ctx context.Context, projectID, projectName string, caller project.Caller) (project.Share, error) {
	info, err := p.host.CreateConversation(ctx, conversation.Info{
		Title:       fmt.Sprintf("%s (shareable template)", projectName),
		AssistantID: p.assistantID,
		Metadata: map[string]any{
			conversation.MarkerProjectTemplate: map[string]any{
				"project_id":      projectID,
				"created_by":      caller.UserID,
				"coordinator_cid": caller.ConversationID,
			},
		},
	})
	if err != nil {
		return project.Share{}, fmt.Errorf("creating template conversation: %w", err)
	}
	if err := p.roles.SetRole(ctx, info.ID, projectID, conversation.RoleShareableTemplate); err != nil {
		return project.Share{}, fmt.Errorf("registering template conversation: %w", err)
	}

	share := project.Share{TemplateConversationID: info.ID, ShareURL: JoinURL(p.baseURL, projectID)}
	if p.minter != nil {
		_, url, err := p.minter.Mint(projectID, info.ID)
		if err != nil {
			return project.Share{}, err
		}
		share.ShareURL = url
	}

	p.logger.Info().
		Str("project_id", projectID).
		Str("template_conversation_id", info.ID).
		Msg("share provisioned")
	return share, nil
}
