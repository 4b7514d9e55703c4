package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/sparkgoals/spark/store"
)

// HTTPPusher submits record batches as JSON to a remote sync endpoint.
type HTTPPusher struct {
	url    string
	client *http.Client
}

type pushPayload struct {
	Records []pushRecord `json:"records"`
}

type pushRecord struct {
	Kind      string `json:"kind"`
	UID       string `json:"uid"`
	OwnerID   string `json:"owner_id"`
	CreatedTs int64  `json:"created_ts"`
}

// NewHTTPPusher creates a pusher targeting url.
func NewHTTPPusher(url string) *HTTPPusher {
	return &HTTPPusher{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (p *HTTPPusher) Push(ctx context.Context, records []*store.SyncRecord) error {
	payload := pushPayload{Records: make([]pushRecord, 0, len(records))}
	for _, record := range records {
		payload.Records = append(payload.Records, pushRecord{
			Kind:      record.Kind,
			UID:       record.UID,
			OwnerID:   record.OwnerID,
			CreatedTs: record.CreatedTs,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal push payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build push request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to push records")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("sync endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
