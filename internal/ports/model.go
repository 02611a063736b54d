package ports

import (
	"context"

	"github.com/yudai-dev/yudai/internal/domain"
)

// Model wraps one language-model backend.
//
// Query sends the conversation and returns the normalized response. A
// response that cannot be turned into exactly one action is reported as a
// *domain.FormatError whose Response field still carries the content and
// cost of the call. Tool-calling adapters advertise tools to the backend;
// an empty tools slice selects their default bash tool. Text adapters
// ignore tools.
type Model interface {
	Query(ctx context.Context, messages []domain.Message, tools []domain.ToolDescriptor) (domain.Response, error)
	FormatMessage(role domain.Role, content string) domain.Message
	FormatObservationMessages(outputs []domain.Observation, msg *domain.Message) ([]domain.Message, error)
	TemplateVars() map[string]any
	Serialize() map[string]any
	// Stats returns the cumulative cost and number of completed queries.
	Stats() (cost float64, calls int)
}
