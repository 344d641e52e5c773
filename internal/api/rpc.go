package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcInternalError  = -32603
)

var rpcMethods = []string{"bus.publish", "bus.subscribe", "hub.info", "hub.health"}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// HandleRPC serves the JSON-RPC 2.0 bus endpoint. Batch requests are not
// supported; notifications (no id) get 204.
// (POST /api/v1/rpc)
func (s *Server) HandleRPC(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return rpcFail(c, nil, rpcParseError, "failed to read request body", nil)
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return rpcFail(c, nil, rpcParseError, "invalid JSON", nil)
	}
	if req.JSONRPC != "2.0" {
		return rpcFail(c, req.ID, rpcInvalidRequest, `jsonrpc must be "2.0"`, nil)
	}
	if req.Method == "" {
		return rpcFail(c, req.ID, rpcInvalidRequest, "method is required", nil)
	}

	var result interface{}
	var rpcErr *rpcError
	switch req.Method {
	case "bus.publish":
		result, rpcErr = s.rpcBusPublish(c, req.Params)
	case "bus.subscribe":
		result, rpcErr = s.rpcBusSubscribe(c, req.Params)
	case "hub.info":
		result = map[string]interface{}{
			"serviceId": s.Service,
			"version":   s.Version,
			"status":    "ok",
			"origin":    s.Ledger.Origin(),
		}
	case "hub.health":
		storeStatus := "ok"
		if err := s.Store.Ping(c.Request().Context()); err != nil {
			storeStatus = "unreachable"
		}
		busStatus := "ok"
		if s.Bridge.Closed() {
			busStatus = "closed"
		}
		status := "ok"
		if storeStatus != "ok" || busStatus != "ok" {
			status = "degraded"
		}
		result = map[string]interface{}{
			"status":    status,
			"timestamp": time.Now().UTC(),
			"dependencies": map[string]string{
				"bus":   busStatus,
				"store": storeStatus,
			},
		}
	default:
		return rpcFail(c, req.ID, rpcMethodNotFound, "method not found: "+req.Method,
			map[string]interface{}{"methods": rpcMethods})
	}

	if rpcErr != nil {
		return rpcFail(c, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}
	if len(req.ID) == 0 {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
}

type busPublishParams struct {
	Subject       string                 `json:"subject"`
	Payload       map[string]interface{} `json:"payload"`
	CorrelationID string                 `json:"correlationId"`
}

func (s *Server) rpcBusPublish(c echo.Context, raw json.RawMessage) (interface{}, *rpcError) {
	var params busPublishParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, &rpcError{Code: rpcInvalidParams, Message: err.Error()}
	}
	if params.Subject == "" {
		return nil, &rpcError{Code: rpcInvalidParams, Message: "subject is required"}
	}

	event, err := s.Ledger.Publish(c.Request().Context(), params.Subject, params.Payload, params.CorrelationID)
	if err != nil {
		return nil, &rpcError{Code: rpcInternalError, Message: err.Error()}
	}
	return map[string]interface{}{
		"published":     true,
		"eventId":       event.ID,
		"subject":       event.Subject,
		"correlationId": event.CorrelationID,
		"timestamp":     event.Timestamp,
	}, nil
}

type busSubscribeParams struct {
	Subject string `json:"subject"`
	Limit   int    `json:"limit"`
}

// rpcBusSubscribe returns matching historical events, newest first. Live
// delivery stays inside the process; external consumers poll.
func (s *Server) rpcBusSubscribe(c echo.Context, raw json.RawMessage) (interface{}, *rpcError) {
	var params busSubscribeParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, &rpcError{Code: rpcInvalidParams, Message: err.Error()}
	}
	if params.Subject == "" {
		return nil, &rpcError{Code: rpcInvalidParams, Message: "subject is required"}
	}
	if params.Limit <= 0 || params.Limit > 500 {
		params.Limit = 100
	}

	events, err := s.Ledger.Query(c.Request().Context(), params.Subject, params.Limit)
	if err != nil {
		return nil, &rpcError{Code: rpcInternalError, Message: err.Error()}
	}
	return map[string]interface{}{"events": events, "count": len(events)}, nil
}

func unmarshalParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return errors.New("params are required")
	}
	return json.Unmarshal(raw, v)
}

// rpcFail writes a JSON-RPC error envelope. HTTP status stays 200; transport
// errors live in the envelope per the JSON-RPC convention.
func rpcFail(c echo.Context, id json.RawMessage, code int, message string, data interface{}) error {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return c.JSON(http.StatusOK, rpcResponse{
		JSONRPC: "2.0",
		Error:   &rpcError{Code: code, Message: message, Data: data},
		ID:      id,
	})
}
