// Package session implements SessionContext (spec.md §3, §4.6): creating
// and opening a session, and holding the default TaskOptions every
// submission on that session inherits unless overridden.
//
// No teacher file maps onto this one-to-one — urands-ttmesh has no
// session concept — so this is grounded on the pack's general "thin
// struct over a GridClient call, validated with a typed error" shape
// used throughout pkg/graderr and pkg/channelpool.
package session

import (
	"context"

	"go.uber.org/zap"

	"gridclient/pkg/api"
	"gridclient/pkg/graderr"
	"gridclient/pkg/wire"
)

// Context holds one opened session's identity and default options.
type Context struct {
	client  wire.GridClient
	id      string
	options api.TaskOptions
}

// Create opens a new session via CreateSession, deriving its default
// partition list from options (spec.md §4.6: "[partition-id] if set,
// otherwise []").
func Create(ctx context.Context, client wire.GridClient, options api.TaskOptions, partitions []string) (*Context, error) {
	options = options.Clone()
	if partitions == nil {
		partitions = options.DefaultPartitions()
	}
	wireOpts, err := wire.ToWireOptions(options)
	if err != nil {
		return nil, graderr.Wrap(graderr.KindTransportFatal, "encode default task options", err)
	}
	reply, err := client.CreateSession(ctx, wire.CreateSessionRequest{
		DefaultTaskOptions: wireOpts,
		Partitions:         partitions,
	})
	if err != nil {
		return nil, graderr.Wrap(graderr.KindTransportTransient, "CreateSession", err)
	}
	zap.L().Debug("session created", zap.String("session_id", reply.SessionID))
	return &Context{client: client, id: reply.SessionID, options: options}, nil
}

// Open validates that an existing session id is in the running state
// (spec.md §4.6) and wraps it as a Context. defaultOptions is supplied by
// the caller since GetSession does not echo them back in this protocol.
func Open(ctx context.Context, client wire.GridClient, sessionID string, defaultOptions api.TaskOptions) (*Context, error) {
	reply, err := client.GetSession(ctx, wire.GetSessionRequest{SessionID: sessionID})
	if err != nil {
		return nil, graderr.Wrap(graderr.KindTransportTransient, "GetSession", err)
	}
	if api.SessionStatus(reply.Status) != api.SessionRunning {
		return nil, graderr.New(graderr.KindSessionNotOpenable,
			"session is not running")
	}
	return &Context{client: client, id: sessionID, options: defaultOptions.Clone()}, nil
}

// ID returns the server-assigned session identifier.
func (c *Context) ID() string { return c.id }

// DefaultOptions returns a clone of the session's default task options,
// so a caller overriding a per-submission subset cannot mutate the
// session's stored defaults (spec.md §3: "Cloned on assignment").
func (c *Context) DefaultOptions() api.TaskOptions { return c.options.Clone() }

// Client returns the underlying GridClient, for collaborators
// (Submitter, ResultWaiter, DispatcherLoop) constructed around this
// session.
func (c *Context) Client() wire.GridClient { return c.client }
