// Package tracing contains opentracing helper functions for the
// remote key service call sites. Tracer construction is the host
// process's responsibility; these helpers only annotate whatever the
// global tracer provides.
package tracing

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	opentracing_log "github.com/opentracing/opentracing-go/log"
)

// StartRemoteCallSpan starts a client-kind span around one remote key
// service call. Only identifiers go into tags: key references and
// algorithm names, never digest or signature bytes.
func StartRemoteCallSpan(ctx context.Context, call, keyReference string) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, call)
	ext.SpanKind.Set(span, ext.SpanKindRPCClientEnum)
	span.SetTag("kms.key_reference", keyReference)
	return span, ctx
}

// SetAlgorithmTag records the signing algorithm selected for the call.
func SetAlgorithmTag(span opentracing.Span, algorithm string) {
	span.SetTag("kms.algorithm", algorithm)
}

// LogError marks that an error has occurred within the scope of a span.
func LogError(span opentracing.Span, err error) {
	// set error tag to true, allows searching by `error=true`
	ext.Error.Set(span, true)

	// emit a log message, with the value containing the error message
	span.LogFields(opentracing_log.Error(err))
}
