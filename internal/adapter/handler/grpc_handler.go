package handler

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/pcb-inventory/internal/core/domain"
	"github.com/rl1809/pcb-inventory/internal/core/service"
	"github.com/rl1809/pcb-inventory/internal/logging"
)

const (
	productionServiceName = "pcbinventory.v1.ProductionService"

	RecordProductionMethod = "/" + productionServiceName + "/RecordProduction"
	ListProductionMethod   = "/" + productionServiceName + "/ListProduction"
)

// ProductionServiceServer carries requests and responses as
// google.protobuf.Struct with the same field names as the HTTP API.
type ProductionServiceServer interface {
	RecordProduction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListProduction(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var ProductionServiceDesc = grpc.ServiceDesc{
	ServiceName: productionServiceName,
	HandlerType: (*ProductionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RecordProduction", Handler: recordProductionHandler},
		{MethodName: "ListProduction", Handler: listProductionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pcbinventory/v1/production.proto",
}

func RegisterProductionServiceServer(s grpc.ServiceRegistrar, srv ProductionServiceServer) {
	s.RegisterService(&ProductionServiceDesc, srv)
}

func recordProductionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProductionServiceServer).RecordProduction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RecordProductionMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProductionServiceServer).RecordProduction(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listProductionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProductionServiceServer).ListProduction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListProductionMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProductionServiceServer).ListProduction(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type GRPCHandler struct {
	productionService *service.ProductionService
	logger            *zap.Logger
}

func NewGRPCHandler(productionService *service.ProductionService, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{productionService: productionService, logger: logging.OrNop(logger)}
}

// RecordProduction reports business failures in the response body, the same
// way the HTTP API does. Transport errors are reserved for malformed frames.
func (h *GRPCHandler) RecordProduction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()

	boardID, err := integerField(fields, "board_id")
	if err != nil {
		return failureStruct(domain.NewFailure(domain.FailureInvalidInput, err.Error()))
	}
	quantity, err := integerField(fields, "quantity_produced")
	if err != nil {
		return failureStruct(domain.NewFailure(domain.FailureInvalidInput, err.Error()))
	}
	if quantity > math.MaxInt32 {
		return failureStruct(domain.NewFailure(domain.FailureInvalidInput, "quantity_produced is too large"))
	}
	requestID := fields["request_id"].GetStringValue()
	if requestID != "" && !requestIDRegex.MatchString(requestID) {
		return failureStruct(domain.NewFailure(domain.FailureInvalidInput, "request_id is malformed"))
	}

	outcome := h.productionService.RecordProductionOnce(ctx, requestID, boardID, int(quantity))
	if !outcome.Committed() {
		if outcome.Kind() == domain.FailureInternal {
			h.logger.Error("production request failed", zap.Error(outcome.Failure.Cause()))
		}
		return failureStruct(outcome.Failure)
	}

	res := outcome.Success
	triggers := make([]interface{}, 0, len(res.TriggersOpened))
	for _, id := range res.TriggersOpened {
		triggers = append(triggers, id)
	}
	return structpb.NewStruct(map[string]interface{}{
		"success":             true,
		"message":             "production recorded",
		"production_entry_id": res.ProductionEntryID,
		"board_id":            res.BoardID,
		"board_name":          res.BoardName,
		"quantity_produced":   res.QuantityProduced,
		"components_consumed": res.ComponentsConsumed,
		"triggers_opened":     triggers,
	})
}

func (h *GRPCHandler) ListProduction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit := 0
	if _, ok := req.GetFields()["limit"]; ok {
		n, err := integerField(req.GetFields(), "limit")
		if err != nil {
			return failureStruct(domain.NewFailure(domain.FailureInvalidInput, err.Error()))
		}
		limit = int(min(n, math.MaxInt32))
	}

	entries, err := h.productionService.ProductionHistory(ctx, limit)
	if err != nil {
		h.logger.Error("failed to list production", zap.Error(err))
		return failureStruct(domain.InternalFailure(err))
	}

	items := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]interface{}{
			"id":                e.ID,
			"board_id":          e.BoardID,
			"board_name":        e.BoardName,
			"quantity_produced": e.QuantityProduced,
			"created_at":        e.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"success": true,
		"entries": items,
	})
}

// integerField reads a positive whole number. Struct numbers are doubles, so
// fractions and values beyond 2^53 are rejected rather than rounded.
func integerField(fields map[string]*structpb.Value, name string) (int64, error) {
	v, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("%s is required", name)
	}
	num, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	f := num.NumberValue
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%s must be a whole number", name)
	}
	if f <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", name)
	}
	if f > 1<<53 {
		return 0, fmt.Errorf("%s is too large", name)
	}
	return int64(f), nil
}

func failureStruct(f *domain.ProductionFailure) (*structpb.Struct, error) {
	shortages := make([]interface{}, 0, len(f.Shortages))
	for _, s := range f.Shortages {
		shortages = append(shortages, map[string]interface{}{
			"component_id": s.ComponentID,
			"name":         s.Name,
			"part_number":  s.PartNumber,
			"available":    s.Available,
			"required":     s.Required,
			"deficit":      s.Deficit,
			"missing":      s.Missing,
		})
	}
	body := map[string]interface{}{
		"success": false,
		"error":   string(f.Kind),
		"message": f.Message,
	}
	if len(shortages) > 0 {
		body["insufficient_components"] = shortages
	}
	return structpb.NewStruct(body)
}

// UnaryLoggingInterceptor logs each unary call with its duration.
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logging.OrNop(logger)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc call",
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return resp, err
	}
}
