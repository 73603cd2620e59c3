package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
)

const notificationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["Records"],
  "properties": {
    "Records": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["eventName", "s3"],
        "properties": {
          "eventName": {"type": "string", "minLength": 1},
          "eventTime": {"type": "string"},
          "s3": {
            "type": "object",
            "required": ["bucket", "object"],
            "properties": {
              "bucket": {
                "type": "object",
                "required": ["name"],
                "properties": {"name": {"type": "string", "minLength": 1}}
              },
              "object": {
                "type": "object",
                "required": ["key"],
                "properties": {"key": {"type": "string", "minLength": 1}}
              }
            }
          }
        }
      }
    }
  }
}`

type notification struct {
	Records []record `json:"Records"`
}

type record struct {
	EventName    string `json:"eventName"`
	EventTime    string `json:"eventTime"`
	UserIdentity struct {
		PrincipalID string `json:"principalId"`
	} `json:"userIdentity"`
	S3 struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

// NotificationParser turns an object store notification into change events.
type NotificationParser struct {
	schema *jsonschema.Schema
}

func NewNotificationParser() (*NotificationParser, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(notificationSchema))
	if err != nil {
		return nil, fmt.Errorf("parsing notification schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("notification.json", doc); err != nil {
		return nil, fmt.Errorf("loading notification schema: %w", err)
	}
	schema, err := c.Compile("notification.json")
	if err != nil {
		return nil, fmt.Errorf("compiling notification schema: %w", err)
	}

	return &NotificationParser{schema: schema}, nil
}

// Parse validates body and returns one event per record. Object keys are
// URL-decoded. Records with an unknown event name are returned with
// OperationUnknown; rejecting them is up to the dispatcher.
func (p *NotificationParser) Parse(body []byte) ([]domain.ChangeEvent, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if err := p.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	events := make([]domain.ChangeEvent, 0, len(n.Records))
	for i, r := range n.Records {
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: key %q: %v", domain.ErrMalformedEvent, i, r.S3.Object.Key, err)
		}

		ev := domain.ChangeEvent{
			Bucket:      r.S3.Bucket.Name,
			Key:         key,
			EventName:   r.EventName,
			Operation:   domain.OperationFromEventName(r.EventName),
			PrincipalID: r.UserIdentity.PrincipalID,
		}
		if ts, err := time.Parse(time.RFC3339Nano, r.EventTime); err == nil {
			ev.Timestamp = ts
		}
		events = append(events, ev)
	}
	return events, nil
}
