package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	apierrors "github.com/copyleftdev/cmadac/internal/errors"
	"github.com/copyleftdev/cmadac/internal/optimization"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type envParams struct {
	EnvID  string   `json:"env_id"`
	Action *float64 `json:"action,omitempty"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, rpcError{Code: codeParseError, Message: "Parse error"}, nil)
		return
	}

	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, rpcError{Code: codeInvalidRequest, Message: "Invalid Request"}, request.ID)
		return
	}

	var (
		result interface{}
		err    error
	)

	switch request.Method {
	case "env.create":
		var req CreateRequest
		if err = decodeParams(request.Params, &req); err == nil {
			var id string
			id, err = s.createSession(req)
			result = map[string]string{"env_id": id}
		}
	case "env.reset":
		var p envParams
		if err = decodeEnvParams(request.Params, &p); err == nil {
			var obs interface{}
			obs, err = s.reset(p.EnvID)
			result = map[string]interface{}{"observation": obs}
		}
	case "env.step":
		var p envParams
		if err = decodeEnvParams(request.Params, &p); err == nil {
			if p.Action == nil {
				err = optimization.NewError(optimization.ErrInvalidArgument, "action is required")
				break
			}
			result, err = s.step(p.EnvID, *p.Action)
		}
	case "env.states":
		var p envParams
		if err = decodeEnvParams(request.Params, &p); err == nil {
			result, err = s.states(p.EnvID)
		}
	case "env.close":
		var p envParams
		if err = decodeEnvParams(request.Params, &p); err == nil {
			var persisted bool
			persisted, err = s.closeSession(context.Background(), p.EnvID)
			result = map[string]interface{}{"env_id": p.EnvID, "persisted": persisted}
		}
	default:
		s.respondWithError(w, rpcError{Code: codeMethodNotFound, Message: "Method not found"}, request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, toRPCError(err), request.ID)
		return
	}

	data, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
	if err != nil {
		s.respondWithError(w, rpcError{Code: codeServerError, Message: fmt.Sprintf("encode result: %v", err)}, request.ID)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(append(data, '\n'))
}

// decodeParams accepts params either as an object or as a one-element
// array holding the object. Missing params decode to the zero value.
func decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return optimization.NewErrorf(optimization.ErrInvalidArgument, "invalid params: %v", err)
		}
		if len(list) == 0 {
			return nil
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return optimization.NewErrorf(optimization.ErrInvalidArgument, "invalid params: %v", err)
	}
	return nil
}

func decodeEnvParams(raw json.RawMessage, p *envParams) error {
	if err := decodeParams(raw, p); err != nil {
		return err
	}
	if p.EnvID == "" {
		return optimization.NewError(optimization.ErrInvalidArgument, "env_id is required")
	}
	return nil
}

// toRPCError maps client-caused failures to invalid params and everything
// else to a server error.
func toRPCError(err error) rpcError {
	switch code := apierrors.StatusCode(err); {
	case code == http.StatusBadRequest || code == http.StatusNotFound:
		return rpcError{Code: codeInvalidParams, Message: err.Error(), Data: kindOf(err)}
	case code < http.StatusInternalServerError:
		return rpcError{Code: codeServerError, Message: err.Error(), Data: kindOf(err)}
	default:
		return rpcError{Code: codeServerError, Message: "Server error"}
	}
}

func kindOf(err error) interface{} {
	if k := optimization.KindOf(err); k != "" {
		return string(k)
	}
	return nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, rpcErr rpcError, id interface{}) {
	s.logger.Warn("JSON-RPC error", map[string]interface{}{
		"code":    rpcErr.Code,
		"message": rpcErr.Message,
		"id":      fmt.Sprint(id),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"error":   rpcErr,
		"id":      id,
	})
}
