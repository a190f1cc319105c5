package invite

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/project"
)

// Joiner links a conversation to a project as a team conversation.
type Joiner interface {
	JoinProject(ctx context.Context, caller project.Caller, projectID string) (*project.ProjectInfo, error)
}

// Redeemer turns an invitation code, share token or share URL into a team
// membership.
type Redeemer struct {
	joiner Joiner
	minter *Minter
	logger zerolog.Logger
}

// NewRedeemer creates a Redeemer. Without a minter only raw invitation codes
// are accepted.
func NewRedeemer(joiner Joiner, minter *Minter, logger zerolog.Logger) *Redeemer {
	return &Redeemer{
		joiner: joiner,
		minter: minter,
		logger: logger.With().Str("component", "invite.redeemer").Logger(),
	}
}

// Redeem joins caller's conversation to the project named by code.
func (r *Redeemer) Redeem(ctx context.Context, caller project.Caller, code string) (*project.ProjectInfo, error) {
	code = strings.TrimSpace(code)
	if i := strings.LastIndex(code, "/join/"); i >= 0 {
		code = code[i+len("/join/"):]
	}
	code = strings.Trim(code, "/ ")
	if code == "" {
		return nil, perrors.New(perrors.ErrInvalidInput, "Provide an invitation code or share link: /join <code>.")
	}

	projectID, err := r.projectID(caller, code)
	if err != nil {
		return nil, err
	}
	info, err := r.joiner.JoinProject(ctx, caller, projectID)
	if err != nil {
		return nil, err
	}
	r.logger.Info().
		Str("project_id", projectID).
		Str("conversation_id", caller.ConversationID).
		Msg("invitation redeemed")
	return info, nil
}

func (r *Redeemer) projectID(caller project.Caller, code string) (string, error) {
	if id, err := uuid.Parse(code); err == nil {
		return id.String(), nil
	}
	if r.minter == nil {
		return "", perrors.New(perrors.ErrInvalidInput, "%q is not a valid invitation code.", code)
	}
	claims, err := r.minter.Parse(code)
	if err != nil {
		return "", err
	}
	if claims.TemplateConversationID != "" && claims.TemplateConversationID == caller.ConversationID {
		return "", perrors.New(perrors.ErrDenied, "The shareable template conversation cannot redeem its own invitation.")
	}
	return claims.ProjectID, nil
}
