package history

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"majlis/pkg/interfaces"
	"majlis/pkg/types"
)

// DefaultLimit is the history window size used when the configured limit
// is zero or negative.
const DefaultLimit = 50

// Bootstrapper reconciles a newly joined session's view of room history.
// It is purely read-and-deliver: no registry or coordinator state is ever
// touched here.
type Bootstrapper struct {
	gateway interfaces.Gateway
	limit   int
}

// NewBootstrapper creates a bootstrapper fetching up to limit messages per
// replay.
func NewBootstrapper(gateway interfaces.Gateway, limit int) *Bootstrapper {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Bootstrapper{
		gateway: gateway,
		limit:   limit,
	}
}

// Bootstrap fetches the recent window for roomID and delivers exactly one
// history event to the session. With a cursor that falls inside the window
// only messages strictly after it are sent (delta sync); a zero or
// too-old cursor gets the full window and the client treats it as a reset.
//
// Delivery uses the blocking Send path: the history event must reach the
// session's outbound queue before the caller completes registration, so a
// live broadcast can never overtake the replay.
func (b *Bootstrapper) Bootstrap(ctx context.Context, session interfaces.Deliverer, roomID string, cursor int64) error {
	messages, err := b.gateway.RecentMessages(ctx, roomID, b.limit)
	if err != nil {
		return fmt.Errorf("%w: fetch recent messages for room %s: %v", types.ErrPersistence, roomID, err)
	}

	window := b.applyCursor(messages, cursor)

	if err := session.Send(types.NewHistoryEvent(roomID, window)); err != nil {
		return fmt.Errorf("deliver history for room %s: %w", roomID, err)
	}
	return nil
}

// Limit reports the configured window size.
func (b *Bootstrapper) Limit() int {
	return b.limit
}

// applyCursor narrows the fetched window to messages the client does not
// already hold. Messages arrive oldest first.
func (b *Bootstrapper) applyCursor(messages []*types.Message, cursor int64) []*types.Message {
	if cursor <= 0 || len(messages) == 0 {
		return messages
	}

	oldest := messages[0].ID
	if cursor < oldest {
		// Cursor predates the window; the client is too far behind for a
		// delta and gets the full window as a reset.
		return messages
	}

	return lo.Filter(messages, func(m *types.Message, _ int) bool {
		return m.ID > cursor
	})
}
