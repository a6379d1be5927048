// Package notifications delivers billing notifications to tenants. The
// engine publishes; delivery (email, in-app) happens downstream.
package notifications

import (
	"context"
	"encoding/json"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/meterline/billing-engine/pkg/enums"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
	"github.com/meterline/billing-engine/pkg/logger"
	"github.com/meterline/billing-engine/pkg/pubsub"
)

// Message is one notification to a tenant.
type Message struct {
	TenantID   string                 `json:"tenant_id"`
	Type       enums.NotificationType `json:"type"`
	Subject    string                 `json:"subject"`
	Body       string                 `json:"body"`
	Data       map[string]string      `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Service sends notifications. Failures are reported but callers treat
// notification delivery as best-effort.
type Service interface {
	Send(ctx context.Context, msg Message) error
}

// PublisherParams wires the Pub/Sub backed sender.
type PublisherParams struct {
	PubSub *pubsub.Client
	Topic  string
	Logger *logger.Logger
}

type publisherService struct {
	publisher *gcppubsub.Publisher
	logg      *logger.Logger
}

// NewPublisher builds the Pub/Sub backed notification sender.
func NewPublisher(params PublisherParams) (Service, error) {
	if params.PubSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "pubsub client required")
	}
	if params.Topic == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notification topic required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	pub := params.PubSub.Publisher(params.Topic)
	if pub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notification topic unavailable")
	}
	return &publisherService{publisher: pub, logg: params.Logger}, nil
}

func (s *publisherService) Send(ctx context.Context, msg Message) error {
	if msg.TenantID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if !msg.Type.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "unknown notification type %q", msg.Type)
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode notification")
	}

	result := s.publisher.Publish(ctx, &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":      string(msg.Type),
			"tenant_id": msg.TenantID,
		},
		OrderingKey: msg.TenantID,
	})
	if _, err := result.Get(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish notification")
	}

	ctx = s.logg.WithTenantID(ctx, msg.TenantID)
	s.logg.Debug(ctx, "notification published: "+string(msg.Type))
	return nil
}

type logService struct {
	logg *logger.Logger
}

// NewLogSender returns a sender that only logs. Used in dev and when
// notifications are disabled.
func NewLogSender(logg *logger.Logger) (Service, error) {
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &logService{logg: logg}, nil
}

func (s *logService) Send(ctx context.Context, msg Message) error {
	if !msg.Type.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "unknown notification type %q", msg.Type)
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"tenant_id": msg.TenantID,
		"type":      string(msg.Type),
	})
	s.logg.Info(ctx, "notification: "+msg.Subject)
	return nil
}
