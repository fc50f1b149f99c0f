// Package trail turns CloudTrail log deliveries into targeted case
// refreshes. A delivery arrives as an S3 event notification, possibly
// wrapped in an SNS message, that names gzipped CloudTrail log objects.
package trail

import (
	"errors"
	"fmt"
	"net/url"

	json "github.com/goccy/go-json"
)

// maxWrapDepth bounds how many SNS envelopes are unwrapped.
const maxWrapDepth = 2

// ErrCorrupt is returned when a notification or log object cannot be decoded.
var ErrCorrupt = errors.New("corrupt cloudtrail payload")

// Object is an S3 object named by a notification.
type Object struct {
	Bucket string
	Key    string
}

func (o Object) String() string {
	return "s3://" + o.Bucket + "/" + o.Key
}

type s3Entity struct {
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key string `json:"key"`
	} `json:"object"`
}

type notificationRecord struct {
	S3  *s3Entity `json:"s3"`
	Sns *struct {
		Message string `json:"Message"`
	} `json:"Sns"`
}

type notification struct {
	Records []notificationRecord `json:"Records"`
	// Set when the payload is a raw SNS envelope rather than a Lambda event.
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// ParseNotification returns the S3 objects referenced by an S3 event
// notification, an SNS event carrying one, or a raw SNS envelope. Object
// keys are URL-decoded. A payload with no records, such as the S3 test
// event, yields no objects.
func ParseNotification(data []byte) ([]Object, error) {
	return parseNotification(data, 0)
}

func parseNotification(data []byte, depth int) ([]Object, error) {
	var n notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: failed to decode notification: %v", ErrCorrupt, err)
	}

	if n.Message != "" && len(n.Records) == 0 {
		return unwrap(n.Message, depth)
	}

	var objects []Object
	for i, rec := range n.Records {
		switch {
		case rec.S3 != nil:
			obj, err := objectFrom(rec.S3)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			objects = append(objects, obj)
		case rec.Sns != nil:
			inner, err := unwrap(rec.Sns.Message, depth)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			objects = append(objects, inner...)
		}
	}
	return objects, nil
}

func unwrap(message string, depth int) ([]Object, error) {
	if depth >= maxWrapDepth {
		return nil, fmt.Errorf("%w: notification nested too deeply", ErrCorrupt)
	}
	return parseNotification([]byte(message), depth+1)
}

func objectFrom(e *s3Entity) (Object, error) {
	if e.Bucket.Name == "" || e.Object.Key == "" {
		return Object{}, fmt.Errorf("%w: s3 record without bucket or key", ErrCorrupt)
	}
	key, err := url.QueryUnescape(e.Object.Key)
	if err != nil {
		return Object{}, fmt.Errorf("%w: invalid object key %q: %v", ErrCorrupt, e.Object.Key, err)
	}
	return Object{Bucket: e.Bucket.Name, Key: key}, nil
}
