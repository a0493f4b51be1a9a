package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	dbSystemKey    = "db.system"
	dbTableKey     = "db.table"
	dbOperationKey = "db.operation"
	dbStatementKey = "db.statement"

	maxStatementLen = 500
)

// GORMTracingPlugin returns a GORM plugin that opens a span per statement.
// Register it with db.Use after tracing is initialised.
func GORMTracingPlugin() gorm.Plugin {
	return &tracingPlugin{
		tracer: otel.Tracer("gorm"),
	}
}

type tracingPlugin struct {
	tracer trace.Tracer
}

func (p *tracingPlugin) Name() string {
	return "telemetry:tracing"
}

func (p *tracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	register := func(name string, err error) error {
		if err != nil {
			return fmt.Errorf("failed to register %s callback: %w", name, err)
		}
		return nil
	}

	// Before callbacks
	if err := register("before_query", cb.Query().Before("gorm:query").Register("telemetry:before_query", p.before("SELECT"))); err != nil {
		return err
	}
	if err := register("before_create", cb.Create().Before("gorm:create").Register("telemetry:before_create", p.before("INSERT"))); err != nil {
		return err
	}
	if err := register("before_update", cb.Update().Before("gorm:update").Register("telemetry:before_update", p.before("UPDATE"))); err != nil {
		return err
	}
	if err := register("before_delete", cb.Delete().Before("gorm:delete").Register("telemetry:before_delete", p.before("DELETE"))); err != nil {
		return err
	}
	if err := register("before_raw", cb.Raw().Before("gorm:raw").Register("telemetry:before_raw", p.before("RAW"))); err != nil {
		return err
	}

	// After callbacks
	if err := register("after_query", cb.Query().After("gorm:query").Register("telemetry:after_query", p.endSpan)); err != nil {
		return err
	}
	if err := register("after_create", cb.Create().After("gorm:create").Register("telemetry:after_create", p.endSpan)); err != nil {
		return err
	}
	if err := register("after_update", cb.Update().After("gorm:update").Register("telemetry:after_update", p.endSpan)); err != nil {
		return err
	}
	if err := register("after_delete", cb.Delete().After("gorm:delete").Register("telemetry:after_delete", p.endSpan)); err != nil {
		return err
	}
	return register("after_raw", cb.Raw().After("gorm:raw").Register("telemetry:after_raw", p.endSpan))
}

func (p *tracingPlugin) before(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		p.startSpan(db, operation)
	}
}

func (p *tracingPlugin) startSpan(db *gorm.DB, operation string) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}

	table := db.Statement.Table
	if table == "" {
		table = "unknown"
	}

	_, span := p.tracer.Start(ctx, fmt.Sprintf("db.%s", strings.ToLower(operation)),
		trace.WithAttributes(
			attribute.String(dbSystemKey, db.Dialector.Name()),
			attribute.String(dbTableKey, table),
			attribute.String(dbOperationKey, operation),
		),
	)

	db.InstanceSet("otel:span", span)
	db.InstanceSet("otel:startTime", time.Now())
}

func (p *tracingPlugin) endSpan(db *gorm.DB) {
	spanRaw, exists := db.InstanceGet("otel:span")
	if !exists {
		return
	}

	span, ok := spanRaw.(trace.Span)
	if !ok {
		return
	}
	defer span.End()

	// Record duration
	if startTimeRaw, exists := db.InstanceGet("otel:startTime"); exists {
		if startTime, ok := startTimeRaw.(time.Time); ok {
			duration := time.Since(startTime).Milliseconds()
			span.SetAttributes(attribute.Int64("db.duration_ms", duration))
		}
	}

	// Record SQL statement (sanitized)
	if db.Statement.SQL.String() != "" {
		sql := db.Statement.SQL.String()
		if len(sql) > maxStatementLen {
			sql = sql[:maxStatementLen] + "... (truncated)"
		}
		span.SetAttributes(attribute.String(dbStatementKey, sql))
	}

	// Record rows affected
	if db.RowsAffected > 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.RowsAffected))
	}

	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error, trace.WithStackTrace(true))
	}
}
