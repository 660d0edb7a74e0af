package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"

	"hotspot-portal/models"
)

const remediationKey = "remediation:items"

// RemediationLog is the operator-facing channel for failures that must
// not fail the buyer flow: provisioning failures and store/provisioner
// drift. Items queue in Redis for the admin dashboard and are pushed to
// the operator PubNub channel.
type RemediationLog struct {
	Redis   *redis.Client
	PubNub  *pubnub.PubNub
	Channel string
	TTL     time.Duration
}

func NewRemediationLog(redisClient *redis.Client, pn *pubnub.PubNub, channel string, ttl time.Duration) *RemediationLog {
	return &RemediationLog{
		Redis:   redisClient,
		PubNub:  pn,
		Channel: channel,
		TTL:     ttl,
	}
}

// Raise records one remediation item and alerts operators.
func (l *RemediationLog) Raise(ctx context.Context, item models.RemediationItem) {
	if item.RaisedAt.IsZero() {
		item.RaisedAt = time.Now()
	}

	slog.Error("operator remediation required",
		"kind", item.Kind,
		"ticket_id", item.TicketID,
		"username", item.Username,
		"purchase_id", item.PurchaseID,
		"detail", item.Detail,
	)

	data, err := json.Marshal(item)
	if err != nil {
		return
	}

	if l.Redis != nil {
		l.Redis.LPush(ctx, remediationKey, string(data))
		l.Redis.Expire(ctx, remediationKey, l.TTL)
	}

	if l.PubNub != nil {
		l.PubNub.Publish().
			Channel(l.Channel).
			Message(map[string]any{
				"type":        "remediation",
				"kind":        item.Kind,
				"ticket_id":   item.TicketID,
				"username":    item.Username,
				"purchase_id": item.PurchaseID,
				"detail":      item.Detail,
			}).
			Execute()
	}
}

// List returns the newest open items, newest first.
func (l *RemediationLog) List(ctx context.Context, limit int64) ([]models.RemediationItem, error) {
	if l.Redis == nil {
		return nil, nil
	}

	raw, err := l.Redis.LRange(ctx, remediationKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	items := make([]models.RemediationItem, 0, len(raw))
	for _, entry := range raw {
		var item models.RemediationItem
		if err := json.Unmarshal([]byte(entry), &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
