package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/HMasataka/parley/internal/session"
	"github.com/sourcegraph/jsonrpc2"
	websocketjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"
)

const (
	MethodSessionList        = "session.list"
	MethodSessionStatus      = "session.status"
	MethodSessionRenegotiate = "session.renegotiate"
	MethodSessionClose       = "session.close"
)

type SessionRequest struct {
	ID string `json:"id"`
}

type SessionListResponse struct {
	Sessions []string `json:"sessions"`
}

// rpcHandler exposes the session registry over JSON-RPC.
type rpcHandler struct {
	registry *session.Registry
	logger   *slog.Logger
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", slog.String("error", err.Error()))
		return
	}

	h := &rpcHandler{registry: s.registry, logger: s.logger}
	conn := jsonrpc2.NewConn(s.ctx, websocketjsonrpc2.NewObjectStream(c), h)

	select {
	case <-conn.DisconnectNotify():
	case <-s.ctx.Done():
		_ = conn.Close()
	}
}

func (h *rpcHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, request *jsonrpc2.Request) {
	result, err := h.dispatch(ctx, request)

	if request.Notif {
		return
	}

	if err != nil {
		if replyErr := conn.ReplyWithError(ctx, request.ID, err); replyErr != nil {
			h.logger.Error("failed to send rpc error", slog.String("method", request.Method), slog.String("error", replyErr.Error()))
		}
		return
	}

	if replyErr := conn.Reply(ctx, request.ID, result); replyErr != nil {
		h.logger.Error("failed to send rpc response", slog.String("method", request.Method), slog.String("error", replyErr.Error()))
	}
}

func (h *rpcHandler) dispatch(ctx context.Context, request *jsonrpc2.Request) (any, *jsonrpc2.Error) {
	switch request.Method {
	case MethodSessionList:
		return SessionListResponse{Sessions: h.registry.List()}, nil
	case MethodSessionStatus:
		s, err := h.lookup(request)
		if err != nil {
			return nil, err
		}
		return s.Status(), nil
	case MethodSessionRenegotiate:
		s, err := h.lookup(request)
		if err != nil {
			return nil, err
		}
		if err := s.Renegotiate(ctx); err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
		}
		return s.Status(), nil
	case MethodSessionClose:
		s, err := h.lookup(request)
		if err != nil {
			return nil, err
		}
		if err := s.Close(); err != nil {
			h.logger.Warn("session closed with error", slog.String("session_id", s.ID()), slog.String("error", err.Error()))
		}
		return struct{}{}, nil
	default:
		h.logger.Warn("unknown rpc method", slog.String("method", request.Method))
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found: " + request.Method}
	}
}

func (h *rpcHandler) lookup(request *jsonrpc2.Request) (*session.Session, *jsonrpc2.Error) {
	if request.Params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "Invalid params"}
	}

	var args SessionRequest
	if err := json.Unmarshal(*request.Params, &args); err != nil || args.ID == "" {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "Invalid params"}
	}

	s, err := h.registry.Get(args.ID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error() + ": " + args.ID}
	}
	if err != nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
	}

	return s, nil
}
