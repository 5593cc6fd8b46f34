package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"social-metrics-sync/internal/models"
	"social-metrics-sync/internal/telemetry"
)

// Publisher fans persisted snapshot updates out to subscribed live clients
// over Redis pub/sub. The push-channel service subscribes per workspace.
type Publisher struct {
	client        *redis.Client
	channelPrefix string
	log           *zap.Logger
}

func NewPublisher(client *redis.Client, channelPrefix string, log *zap.Logger) *Publisher {
	if channelPrefix == "" {
		channelPrefix = "metrics:updates:"
	}
	return &Publisher{client: client, channelPrefix: channelPrefix, log: log}
}

// EmitMetricsUpdate publishes the snapshot to the workspace channel.
// Fire-and-forget: failures are logged, never propagated.
func (p *Publisher) EmitMetricsUpdate(ctx context.Context, workspaceID string, snap models.MetricsSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		p.log.Error("marshal snapshot for fan-out", zap.Error(err))
		return
	}
	if err := p.client.Publish(ctx, p.channelPrefix+workspaceID, payload).Err(); err != nil {
		p.log.Warn("fan-out publish failed",
			zap.String("workspace_id", workspaceID),
			zap.Error(err))
		return
	}
	telemetry.FanoutPublished.Inc()
}
