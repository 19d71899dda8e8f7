package channel

import (
	"context"

	"github.com/meditrack/reminder-api/internal/model"
)

// Sender delivers one notification payload to one recipient address on
// a single channel. Push and email implementations are interchangeable
// behind this contract.
type Sender interface {
	Send(ctx context.Context, recipient, title, body string, data model.JSONMap) error
}
