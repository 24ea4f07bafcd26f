package main

import (
	"context"
	"testing"

	auditdomain "github.com/smallbiznis/stockledger/internal/audit/domain"
	"github.com/smallbiznis/stockledger/internal/config"
	"github.com/smallbiznis/stockledger/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
)

func TestCommandContextTagsInvocation(t *testing.T) {
	ctx := commandContext(context.Background(), config.Config{Actor: "ops"})
	assert.NotEmpty(t, correlation.ExtractCorrelationID(ctx))
	assert.Equal(t, "ops", auditdomain.ActorFromContext(ctx))

	other := commandContext(context.Background(), config.Config{})
	assert.NotEqual(t, correlation.ExtractCorrelationID(ctx), correlation.ExtractCorrelationID(other))
	assert.Equal(t, auditdomain.ActorSystem, auditdomain.ActorFromContext(other))

	kept := commandContext(correlation.ContextWithCorrelationID(context.Background(), "cid-1"), config.Config{})
	assert.Equal(t, "cid-1", correlation.ExtractCorrelationID(kept))
}
