package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

// Subscribe answers envelope requests on subject until the subscription is drained. Each request
// runs under a context bounded by requestTimeout, tightened by the caller's deadline when shorter.
func Subscribe(ctx context.Context, nc *comms.Conn, subject string, g *Gateway, requestTimeout time.Duration) (*comms.Subscription, error) {
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var req Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
			respond(msg, errorResponse("", CodeInvalidRequest, "Failed to decode request", false))
			return
		}

		timeout := requestTimeout
		if d := req.Ctx.Timeout(); d > 0 && (timeout <= 0 || d < timeout) {
			timeout = d
		}
		reqCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		defer cancel()

		respond(msg, g.Dispatch(reqCtx, &req))
	})
	if err != nil {
		return nil, fmt.Errorf("%s - subscribe to %s: %w", logPrefix, subject, err)
	}
	slog.Info(fmt.Sprintf("%s - subscribed to %s", logPrefix, subject))
	return sub, nil
}

func respond(msg *comms.Msg, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
		data, _ = json.Marshal(errorResponse(resp.ID, CodeInternal, "Failed to encode response", true))
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to send response: %v", logPrefix, err))
	}
}

// Call sends one envelope request to subject and decodes the reply.
func Call(ctx context.Context, nc *comms.Conn, subject string, req *Request) (*Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s - encode request: %w", logPrefix, err)
	}
	msg, err := nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("%s - request %s on %s: %w", logPrefix, req.Method, subject, err)
	}
	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("%s - decode response: %w", logPrefix, err)
	}
	return &resp, nil
}
