// Package events extracts object keys from storage event notifications.
//
// Supported payloads:
//
//   - S3 (and MinIO) event notifications: {"Records":[{"s3":{"object":{"key":...}}}]}
//   - SQS messages whose body is an S3 notification or an SNS envelope
//   - SNS envelopes, raw ({"Type":"Notification","Message":...}) or as
//     Lambda records ({"Records":[{"Sns":{"Message":...}}]})
//   - Step Functions map input: {"Items":[{"Key":...}]}
//   - Azure Event Grid BlobCreated arrays
//
// Keys in S3 notifications are URL-encoded and are decoded here.
package events

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

var (
	// ErrNoKeys is returned when a payload parses but names no objects.
	ErrNoKeys = errors.New("no object keys in event")
	// ErrUnrecognized is returned for payloads of an unknown shape.
	ErrUnrecognized = errors.New("unrecognized event payload")
)

// maxDepth bounds envelope unwrapping (SQS -> SNS -> S3 is three levels).
const maxDepth = 4

// Object is one object named by an event.
type Object struct {
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key"`
	Size   int64  `json:"size,omitempty"`
}

type envelope struct {
	Records []record  `json:"Records"`
	Type    string    `json:"Type"`
	Message string    `json:"Message"`
	Items   []itemRef `json:"Items"`
	Event   string    `json:"Event"`
}

type record struct {
	EventSource string `json:"eventSource"`
	EventName   string `json:"eventName"`
	S3          *struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
		} `json:"object"`
	} `json:"s3"`
	Body string `json:"body"`
	Sns  *struct {
		Message string `json:"Message"`
	} `json:"Sns"`
}

type itemRef struct {
	Key    string `json:"Key"`
	Bucket string `json:"Bucket"`
	Size   int64  `json:"Size"`
}

type gridEvent struct {
	EventType string `json:"eventType"`
	Subject   string `json:"subject"`
	Data      struct {
		ContentLength int64 `json:"contentLength"`
	} `json:"data"`
}

// Extract returns every created object named by payload, in order.
// Removal events are ignored.
func Extract(payload []byte) ([]Object, error) {
	objs, err := extract(payload, 0)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, ErrNoKeys
	}
	return objs, nil
}

// Keys is Extract reduced to the object keys.
func Keys(payload []byte) ([]string, error) {
	objs, err := Extract(payload)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(objs))
	for i, o := range objs {
		keys[i] = o.Key
	}
	return keys, nil
}

func extract(payload []byte, depth int) ([]Object, error) {
	if depth >= maxDepth {
		return nil, fmt.Errorf("%w: envelopes nested too deeply", ErrUnrecognized)
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnrecognized)
	}
	if trimmed[0] == '[' {
		return extractEventGrid(trimmed)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}

	switch {
	case env.Type == "Notification" && env.Message != "":
		return extract([]byte(env.Message), depth+1)
	case len(env.Records) > 0:
		return extractRecords(env.Records, depth)
	case len(env.Items) > 0:
		out := make([]Object, 0, len(env.Items))
		for _, it := range env.Items {
			if it.Key == "" {
				continue
			}
			out = append(out, Object{Bucket: it.Bucket, Key: it.Key, Size: it.Size})
		}
		return out, nil
	case env.Event == "s3:TestEvent":
		return nil, nil
	}
	return nil, ErrUnrecognized
}

func extractRecords(records []record, depth int) ([]Object, error) {
	var out []Object
	for i, r := range records {
		switch {
		case r.S3 != nil:
			if strings.Contains(r.EventName, "ObjectRemoved") {
				continue
			}
			key, err := url.QueryUnescape(r.S3.Object.Key)
			if err != nil {
				return nil, fmt.Errorf("record %d: invalid object key %q: %w", i, r.S3.Object.Key, err)
			}
			out = append(out, Object{Bucket: r.S3.Bucket.Name, Key: key, Size: r.S3.Object.Size})
		case r.Sns != nil && r.Sns.Message != "":
			objs, err := extract([]byte(r.Sns.Message), depth+1)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			out = append(out, objs...)
		case r.Body != "":
			objs, err := extract([]byte(r.Body), depth+1)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			out = append(out, objs...)
		default:
			return nil, fmt.Errorf("%w: record %d has no s3, body or Sns", ErrUnrecognized, i)
		}
	}
	return out, nil
}

func extractEventGrid(payload []byte) ([]Object, error) {
	var evs []gridEvent
	if err := json.Unmarshal(payload, &evs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}
	var out []Object
	for _, ev := range evs {
		if ev.EventType != "Microsoft.Storage.BlobCreated" {
			continue
		}
		// subject: /blobServices/default/containers/<container>/blobs/<path>
		rest, ok := strings.CutPrefix(ev.Subject, "/blobServices/default/containers/")
		if !ok {
			continue
		}
		container, blob, ok := strings.Cut(rest, "/blobs/")
		if !ok || blob == "" {
			continue
		}
		out = append(out, Object{Bucket: container, Key: blob, Size: ev.Data.ContentLength})
	}
	return out, nil
}
