package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiwari-pos/kanban/internal/enum"
	"go.uber.org/zap"
)

// summary builds the single user-visible message for a processed batch.
func summary(r BatchResult) (kind, message string) {
	var parts []string
	if r.Successful > 0 {
		parts = append(parts, fmt.Sprintf("Successfully processed %d items", r.Successful))
	}
	if r.Failed > 0 {
		parts = append(parts, fmt.Sprintf("Failed to process %d items", r.Failed))
	}

	switch {
	case r.Failed == 0:
		kind = enum.NotifySuccess
	case r.Successful == 0:
		kind = enum.NotifyError
	default:
		kind = enum.NotifyWarning
	}
	if len(parts) == 0 {
		return enum.NotifyInfo, "No items processed"
	}
	return kind, strings.Join(parts, ". ")
}

// LogNotifier writes notifications to a zap logger.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Report(ctx context.Context, kind, message string) {
	fields := []zap.Field{zap.String("kind", kind)}
	if s, ok := ScopeFromContext(ctx); ok {
		fields = append(fields, zap.String("tenant_id", s.TenantID.String()))
	}
	if kind == enum.NotifyError {
		n.Logger.Warn(message, fields...)
		return
	}
	n.Logger.Info(message, fields...)
}

// MultiNotifier reports to every notifier in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Report(ctx context.Context, kind, message string) {
	for _, n := range m {
		if n != nil {
			n.Report(ctx, kind, message)
		}
	}
}
