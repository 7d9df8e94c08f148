// File: multi/tracing.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package multi

import (
	"context"

	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/internal/native"
	"github.com/momentics/hioload-xfer/transfer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// One span per registration, from Add to completion or removal.

func (e *Engine) startSpan(h *transfer.Handle) {
	_, span := e.tracer.Start(context.Background(), "xfer.transfer")
	span.SetAttributes(
		attribute.String("xfer.engine", e.name),
		attribute.String("xfer.handle", h.ID()),
	)
	e.spans[h.Native()] = span
}

func (e *Engine) endSpan(easy *native.Easy, err error) {
	span, ok := e.spans[easy]
	if !ok {
		return
	}
	delete(e.spans, easy)
	if err != nil {
		span.SetAttributes(attribute.String("xfer.result", api.CodeOf(err).String()))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String("xfer.result", api.ErrCodeOK.String()))
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
