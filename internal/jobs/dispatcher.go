package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"

	"github.com/hustlexp/backend/internal/store"
)

// Dispatcher pushes jobs to a Cloud Tasks queue for durable, at-least-once
// execution against the worker endpoint. The polling Runner still works
// without it; the dispatcher exists so a crashed process cannot strand a
// reconciliation job until the next poll.
type Dispatcher struct {
	client    *cloudtasks.Client
	queuePath string
	targetURL string
	logger    *log.Logger
}

// NewDispatcher connects to Cloud Tasks. targetURL is the worker's push
// endpoint (POST /internal/jobs/run).
func NewDispatcher(projectID, locationID, queueID, targetURL string) (*Dispatcher, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks.NewClient: %w", err)
	}

	d := &Dispatcher{
		client:    client,
		queuePath: fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, locationID, queueID),
		targetURL: targetURL,
		logger:    log.New(log.Writer(), "[CLOUD-TASKS] ", log.LstdFlags),
	}
	d.logger.Printf("✅ connected to Cloud Tasks queue %s", d.queuePath)
	return d, nil
}

// Enqueue creates one Cloud Task carrying the job as JSON. Queue-level retry
// and dead-lettering take it from there.
func (d *Dispatcher) Enqueue(ctx context.Context, j store.Job) error {
	payload, err := json.Marshal(map[string]interface{}{
		"id":      j.ID,
		"type":    j.Type,
		"task_id": j.TaskID,
		"payload": j.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", j.ID, err)
	}

	req := &taskspb.CreateTaskRequest{
		Parent: d.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        d.targetURL,
					Headers: map[string]string{
						"Content-Type": "application/json",
						"X-Job-Type":   j.Type,
					},
					Body: payload,
				},
			},
		},
	}
	if _, err := d.client.CreateTask(ctx, req); err != nil {
		return fmt.Errorf("create cloud task for job %s: %w", j.ID, err)
	}
	d.logger.Printf("☁️ dispatched job %s (%s) for task %s", j.ID, j.Type, j.TaskID)
	return nil
}

// Close releases the client.
func (d *Dispatcher) Close() error { return d.client.Close() }
