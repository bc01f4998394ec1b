package relay

import (
	"context"
	"log/slog"
)

// Forward registers handlers on srv that pass every operation on to
// upstream, keeping the request id. With readOnly set, operations that
// modify the store are refused with ErrForbidden.
func Forward(srv *Server, upstream *Client, readOnly bool, logger *slog.Logger) {
	for _, op := range Ops {
		if readOnly && !op.ReadOnly() {
			srv.Handle(op, func(_ context.Context, req *Request) ([]byte, error) {
				logger.Warn("Refused write through read-only proxy",
					"op", req.Op,
					"request_id", req.RequestID,
					"caller", req.Caller)
				return nil, ErrForbidden
			})
			continue
		}

		srv.Handle(op, func(ctx context.Context, req *Request) ([]byte, error) {
			fwd := *req
			resp, err := upstream.Send(ctx, &fwd)
			if err != nil {
				logger.Error("Upstream request failed",
					"op", req.Op,
					"request_id", req.RequestID,
					"error", err)
				return nil, err
			}

			logger.Debug("Request proxied",
				"op", req.Op,
				"request_id", req.RequestID,
				"caller", req.Caller)
			return resp.Result, nil
		})
	}
}
