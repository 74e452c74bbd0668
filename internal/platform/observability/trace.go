package observability

import (
	"encoding/binary"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/parcelhub/api/internal/platform/requestctx"
)

const cloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("parcelhub.api/http")

// TraceMiddleware links each request to Cloud Trace. It adopts the trace id
// from the incoming X-Cloud-Trace-Context header when present, opens a server
// span for the route, and echoes the header back so callers can correlate
// responses with trace entries.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	project := strings.TrimSpace(projectID)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			info, remote := parseTraceHeader(r.Header.Get(cloudTraceHeader))
			info.ProjectID = project
			if remote.IsValid() {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}

			route := routePattern(r)
			ctx, span := tracer.Start(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodOriginal(sanitizeMethod(r.Method)),
					semconv.HTTPRoute(sanitizeRoute(route)),
				),
			)
			defer span.End()

			if sc := span.SpanContext(); sc.TraceID().IsValid() {
				info.TraceID = sc.TraceID().String()
				info.SpanID = sc.SpanID().String()
				info.Sampled = sc.IsSampled()
			}
			ctx = requestctx.WithTrace(ctx, info)

			if info.TraceID != "" {
				w.Header().Set(cloudTraceHeader, formatTraceHeader(info))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseTraceHeader reads "TRACE_ID/SPAN_ID;o=OPTIONS". The trace info is
// returned even when the span id is absent so log correlation still works;
// the span context is only valid when both ids parsed.
func parseTraceHeader(header string) (requestctx.TraceInfo, trace.SpanContext) {
	var info requestctx.TraceInfo

	header = strings.TrimSpace(header)
	if header == "" {
		return info, trace.SpanContext{}
	}

	ids, options, _ := strings.Cut(header, ";")
	traceField, spanField, _ := strings.Cut(ids, "/")

	traceID, err := trace.TraceIDFromHex(strings.ToLower(strings.TrimSpace(traceField)))
	if err != nil {
		return info, trace.SpanContext{}
	}
	info.TraceID = traceID.String()

	if opt, found := strings.CutPrefix(strings.TrimSpace(options), "o="); found {
		info.Sampled = opt == "1"
	}

	cfg := trace.SpanContextConfig{TraceID: traceID, Remote: true}
	if info.Sampled {
		cfg.TraceFlags = trace.FlagsSampled
	}
	if spanID, ok := parseSpanID(spanField); ok {
		cfg.SpanID = spanID
		info.SpanID = spanID.String()
	}
	return info, trace.NewSpanContext(cfg)
}

// parseSpanID accepts the decimal form Cloud Trace sends on the wire and the
// 16-digit hex form some proxies forward instead.
func parseSpanID(field string) (trace.SpanID, bool) {
	field = strings.TrimSpace(field)
	if field == "" {
		return trace.SpanID{}, false
	}
	if value, err := strconv.ParseUint(field, 10, 64); err == nil && value != 0 {
		var id trace.SpanID
		binary.BigEndian.PutUint64(id[:], value)
		return id, true
	}
	if id, err := trace.SpanIDFromHex(strings.ToLower(field)); err == nil {
		return id, true
	}
	return trace.SpanID{}, false
}

// formatTraceHeader renders the header for the response, with the span id
// back in its decimal wire form.
func formatTraceHeader(info requestctx.TraceInfo) string {
	var b strings.Builder
	b.WriteString(info.TraceID)
	if raw, err := trace.SpanIDFromHex(info.SpanID); err == nil {
		b.WriteByte('/')
		b.WriteString(strconv.FormatUint(binary.BigEndian.Uint64(raw[:]), 10))
	}
	if info.Sampled {
		b.WriteString(";o=1")
	} else {
		b.WriteString(";o=0")
	}
	return b.String()
}
