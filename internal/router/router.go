package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"aiworker/internal/metrics"
	"aiworker/pkg/interfaces"
	"aiworker/pkg/types"
)

const tracerName = "aiworker/router"

// ProcessingErrorMessage is sent when a handler fails. Details stay in the log.
const ProcessingErrorMessage = "Processing error: request could not be processed"

// Router decodes inbound frames and routes them by their type field.
// It never returns an error: every frame yields exactly one envelope.
type Router struct {
	validator interfaces.DocumentValidator
	responder interfaces.ChatResponder
	limiter   *RateLimiter
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// NewRouter creates a router. limiter and m may be nil.
func NewRouter(validator interfaces.DocumentValidator, responder interfaces.ChatResponder, limiter *RateLimiter, m *metrics.Metrics) *Router {
	return &Router{
		validator: validator,
		responder: responder,
		limiter:   limiter,
		metrics:   m,
		tracer:    otel.Tracer(tracerName),
	}
}

// WithTracerProvider makes the router start its dispatch spans from tp
// instead of the global provider. Call it before the first Route.
func (r *Router) WithTracerProvider(tp trace.TracerProvider) *Router {
	r.tracer = tp.Tracer(tracerName)
	return r
}

// Route handles one inbound frame from connID and returns the response envelope.
func (r *Router) Route(ctx context.Context, connID string, frame []byte) *types.Envelope {
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, "aiworker.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("aiworker.connection_id", connID)),
	)
	defer span.End()

	if !r.limiter.Allow(connID) {
		span.SetStatus(codes.Error, ErrRateLimitExceeded.Error())
		r.metrics.ObserveDispatch("", metrics.OutcomeRateLimited, time.Since(start))
		return types.NewErrorEnvelope("Rate limit exceeded: too many messages, slow down")
	}

	req, err := types.DecodeRequest(frame)
	if err != nil {
		span.SetStatus(codes.Error, "decode")
		r.metrics.ObserveDispatch("", metrics.OutcomeDecodeError, time.Since(start))
		return types.NewErrorEnvelope(fmt.Sprintf("Invalid JSON: %v", err))
	}
	span.SetAttributes(attribute.String("aiworker.request_type", req.Type))

	env, err := r.dispatch(ctx, req)
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
		r.metrics.ObserveDispatch(req.Type, metrics.OutcomeOK, time.Since(start))
		return env
	case errors.Is(err, ErrUnknownRequestType):
		span.SetStatus(codes.Error, err.Error())
		r.metrics.ObserveDispatch(req.Type, metrics.OutcomeUnknownType, time.Since(start))
		return types.NewErrorEnvelope(fmt.Sprintf("Unknown request type: %q", req.Type))
	default:
		log.Printf("Error processing %q request from %s: %v", req.Type, connID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.ObserveDispatch(req.Type, metrics.OutcomeError, time.Since(start))
		return types.NewErrorEnvelope(ProcessingErrorMessage)
	}
}

// dispatch selects the handler for req.Type. Panics in a handler are
// converted to ErrHandlerPanic.
func (r *Router) dispatch(ctx context.Context, req *types.Request) (env *types.Envelope, err error) {
	defer func() {
		if p := recover(); p != nil {
			env = nil
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
	}()

	switch req.Type {
	case types.RequestTypeAnalyze:
		result, err := r.validator.ValidateDocument(ctx, req.Content, req.EffectiveSecurityLevel())
		if err != nil {
			return nil, fmt.Errorf("validate document: %w", err)
		}
		if result == nil {
			return nil, ErrNilResult
		}
		return types.NewAnalysisEnvelope(result), nil

	case types.RequestTypeChat:
		// history is accepted and handed through untouched
		reply, err := r.responder.GenerateChatReply(ctx, req.Message, req.DocumentContent, req.History)
		if err != nil {
			return nil, fmt.Errorf("generate chat reply: %w", err)
		}
		return types.NewChatEnvelope(reply), nil

	case types.RequestTypePing:
		return types.NewPongEnvelope(), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequestType, req.Type)
	}
}

// Forget releases per-connection routing state once a session ends
func (r *Router) Forget(connID string) {
	r.limiter.Forget(connID)
}

// Encode serializes env for the wire. An envelope that cannot be encoded is
// replaced by a processing error envelope.
func Encode(env *types.Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("Failed to encode %s envelope: %v", env.Type, err)
		data, _ = json.Marshal(types.NewErrorEnvelope(ProcessingErrorMessage))
	}
	return data
}
