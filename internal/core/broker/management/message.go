package management

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	brokererrors "github.com/ottermq/otterlane/internal/core/errors"
	"github.com/ottermq/otterlane/internal/core/message"
	"github.com/ottermq/otterlane/internal/core/models"
)

const (
	EncodingString = "string"
	EncodingBase64 = "base64"
)

// PublishMessage builds an envelope from an API request. String payloads
// become text bodies and base64 payloads become byte bodies.
func (s *Service) PublishMessage(ctx context.Context, vhostName, queueName string, req models.PublishMessageRequest) (string, error) {
	if s.broker.GetVHost(vhostName) == nil {
		return "", vhostNotFound(vhostName)
	}

	var body message.Body
	switch req.Encoding {
	case "", EncodingString:
		body = message.NewText(req.Payload)
	case EncodingBase64:
		data, err := base64.StdEncoding.DecodeString(req.Payload)
		if err != nil {
			return "", brokererrors.NewBrokerError(fmt.Sprintf("invalid base64 payload: %v", err), brokererrors.SyntaxError)
		}
		body = message.NewBytes(data)
	default:
		return "", brokererrors.NewBrokerError(fmt.Sprintf("unknown payload encoding %q", req.Encoding), brokererrors.SyntaxError)
	}

	env := message.New(message.ProtocolCore, body)
	env.Durable = req.Durable
	if req.TTL != nil {
		env.SetTimeToLive(*req.TTL)
	}
	for k, v := range req.Properties {
		env.ApplicationProperties[k] = v
	}
	if err := s.broker.Publish(ctx, queueName, env); err != nil {
		return "", err
	}
	return env.ID, nil
}

// GetMessages returns up to count waiting messages in queue order. Messages
// stay in the queue and no delivery is counted.
func (s *Service) GetMessages(vhostName, queueName string, count int) ([]models.MessageDTO, error) {
	_, queue, err := s.lookup(vhostName, queueName)
	if err != nil {
		return nil, err
	}
	envs := queue.Browse()
	if count > 0 && len(envs) > count {
		envs = envs[:count]
	}
	dtos := make([]models.MessageDTO, 0, len(envs))
	for _, env := range envs {
		dtos = append(dtos, messageToDTO(env))
	}
	return dtos, nil
}

func messageToDTO(env *message.Envelope) models.MessageDTO {
	dto := models.MessageDTO{
		ID:            env.ID,
		Origin:        string(env.Origin),
		Durable:       env.Durable,
		Priority:      env.Priority,
		DeliveryCount: env.DeliveryCount,
		Encoding:      EncodingBase64,
		Properties:    propertiesMap(env),
	}
	if len(env.MessageAnnotations) > 0 {
		dto.Annotations = make(map[string]any, len(env.MessageAnnotations))
		for k, v := range env.MessageAnnotations {
			dto.Annotations[k] = v
		}
	}
	if abs, ok := env.AbsoluteExpiry(); ok {
		t := time.UnixMilli(abs).UTC()
		dto.ExpiresAt = &t
	}

	switch b := env.Body.(type) {
	case *message.OpaqueBody:
		dto.BodyKind = "opaque"
		dto.TypeTag = b.TypeTag
		dto.Payload = base64.StdEncoding.EncodeToString(b.Data)
	case *message.StructuredBody:
		switch b.Kind {
		case message.KindText:
			dto.BodyKind = "text"
			dto.Payload, dto.Encoding = b.Text, EncodingString
		case message.KindBytes:
			dto.BodyKind = "bytes"
			dto.Payload = base64.StdEncoding.EncodeToString(b.Data)
		case message.KindObject:
			dto.BodyKind = "object"
			dto.Payload = base64.StdEncoding.EncodeToString(b.Data)
		case message.KindMap:
			dto.BodyKind = "map"
			dto.Payload, dto.Encoding = fmt.Sprint(b.Map), EncodingString
		}
	}
	return dto
}

func propertiesMap(env *message.Envelope) map[string]any {
	p := env.Properties
	out := make(map[string]any)
	for k, v := range map[string]string{
		"message_id":       p.MessageID,
		"correlation_id":   p.CorrelationID,
		"content_type":     p.ContentType,
		"content_encoding": p.ContentEncoding,
		"subject":          p.Subject,
		"reply_to":         p.ReplyTo,
		"to":               p.To,
		"user_id":          p.UserID,
		"group_id":         p.GroupID,
	} {
		if v != "" {
			out[k] = v
		}
	}
	if p.CreationTime != 0 {
		out["creation_time"] = p.CreationTime
	}
	if len(env.ApplicationProperties) > 0 {
		out["application_properties"] = env.ApplicationProperties
	}
	return out
}
