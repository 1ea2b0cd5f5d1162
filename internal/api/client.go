package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ConversationClient calls ConversationService over a gRPC connection.
type ConversationClient struct {
	cc grpc.ClientConnInterface
}

// NewConversationClient wraps an established connection.
func NewConversationClient(cc grpc.ClientConnInterface) *ConversationClient {
	return &ConversationClient{cc: cc}
}

// HandleTurn sends one utterance. When the server fails a turn after resolving
// it, the partial payload is returned alongside the error.
func (c *ConversationClient) HandleTurn(ctx context.Context, req TurnRequest, opts ...grpc.CallOption) (TurnPayload, error) {
	var out TurnPayload
	err := c.invoke(ctx, MethodHandleTurn, req, &out, opts...)
	if err != nil {
		if partial, ok := PartialTurn(err); ok {
			return partial, err
		}
		return TurnPayload{}, err
	}
	return out, nil
}

// ResetSession clears the context of one session.
func (c *ConversationClient) ResetSession(ctx context.Context, sessionID string, opts ...grpc.CallOption) error {
	var ack map[string]any
	return c.invoke(ctx, MethodResetSession, SessionRequest{SessionID: sessionID}, &ack, opts...)
}

// ListServices returns catalog entities matching filter.
func (c *ConversationClient) ListServices(ctx context.Context, filter string, opts ...grpc.CallOption) (ServicesPayload, error) {
	var out ServicesPayload
	err := c.invoke(ctx, MethodListServices, ServicesRequest{Filter: filter}, &out, opts...)
	return out, err
}

// HealthCheck returns the server's self-reported status.
func (c *ConversationClient) HealthCheck(ctx context.Context, opts ...grpc.CallOption) (HealthPayload, error) {
	var out HealthPayload
	err := c.invoke(ctx, MethodHealthCheck, struct{}{}, &out, opts...)
	return out, err
}

func (c *ConversationClient) invoke(ctx context.Context, method string, req, out any, opts ...grpc.CallOption) error {
	in, err := ToStruct(req)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, resp, opts...); err != nil {
		return err
	}
	return FromStruct(resp, out)
}

// PartialTurn extracts a turn payload attached to a gRPC status error.
func PartialTurn(err error) (TurnPayload, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return TurnPayload{}, false
	}
	for _, detail := range st.Details() {
		s, ok := detail.(*structpb.Struct)
		if !ok {
			continue
		}
		var out TurnPayload
		if err := FromStruct(s, &out); err != nil {
			continue
		}
		return out, true
	}
	return TurnPayload{}, false
}

// HealthPayload reports service readiness.
type HealthPayload struct {
	Status          string `json:"status"`
	CatalogEntities int    `json:"catalog_entities"`
	CatalogVersion  uint64 `json:"catalog_version"`
	Completion      string `json:"completion_backend,omitempty"`
	LatencyP95MS    int64  `json:"latency_p95_ms"`
}

func (h HealthPayload) String() string {
	return fmt.Sprintf("%s (catalog=%d v%d, p95=%dms)", h.Status, h.CatalogEntities, h.CatalogVersion, h.LatencyP95MS)
}
