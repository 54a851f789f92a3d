// Package delivery pushes completed pipeline summaries to downstream
// consumers: a Salesforce record on the researched subject and an optional
// completion webhook.
package delivery

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intel-engine/internal/model"
	"github.com/sells-group/intel-engine/internal/queue"
	"github.com/sells-group/intel-engine/pkg/salesforce"
)

const deliveredRoutingKey = "pipeline.delivered"

// Deliverer fans a pipeline summary out to the configured targets. Either
// target may be nil; delivery to the rest still proceeds.
type Deliverer struct {
	sf      salesforce.Client
	webhook *queue.WebhookPublisher
	object  string
}

// New creates a Deliverer. object is the Salesforce SObject holding research
// subjects, typically Account.
func New(sf salesforce.Client, webhook *queue.WebhookPublisher, object string) *Deliverer {
	if object == "" {
		object = "Account"
	}
	return &Deliverer{sf: sf, webhook: webhook, object: object}
}

// Deliver sends the summary to all configured targets concurrently. Targets
// fail independently; the first error is returned after every target has
// been attempted.
func (d *Deliverer) Deliver(ctx context.Context, summary *model.PipelineSummary) error {
	if summary == nil {
		return eris.New("delivery: nil summary")
	}

	var g errgroup.Group
	if d.sf != nil {
		g.Go(func() error {
			return d.deliverSalesforce(ctx, summary)
		})
	}
	if d.webhook != nil {
		g.Go(func() error {
			if err := d.webhook.Publish(ctx, deliveredRoutingKey, summary); err != nil {
				return eris.Wrap(err, "delivery: webhook")
			}
			return nil
		})
	}
	return g.Wait()
}

// deliverSalesforce upserts the summary onto the subject's record: update
// when a record with the subject's name exists, insert otherwise.
func (d *Deliverer) deliverSalesforce(ctx context.Context, summary *model.PipelineSummary) error {
	id, err := salesforce.FindRecordIDByName(ctx, d.sf, d.object, summary.Subject)
	if err != nil {
		return eris.Wrap(err, "delivery: find subject record")
	}

	fields := summaryFields(summary)
	if id != "" {
		if err := salesforce.UpdateRecord(ctx, d.sf, d.object, id, fields); err != nil {
			return eris.Wrap(err, "delivery: update subject record")
		}
		zap.L().Info("summary delivered to salesforce",
			zap.String("process_id", summary.ProcessID),
			zap.String("record_id", id),
		)
		return nil
	}

	fields["Name"] = summary.Subject
	id, err = salesforce.CreateRecord(ctx, d.sf, d.object, fields)
	if err != nil {
		return eris.Wrap(err, "delivery: insert subject record")
	}
	zap.L().Info("summary delivered to new salesforce record",
		zap.String("process_id", summary.ProcessID),
		zap.String("record_id", id),
	)
	return nil
}

// summaryFields maps a pipeline summary onto the custom fields of the
// subject record.
func summaryFields(summary *model.PipelineSummary) map[string]any {
	fields := map[string]any{
		"Intel_Process_ID__c":   summary.ProcessID,
		"Intel_Total_Cost__c":   summary.TotalCost,
		"Intel_Completed_At__c": summary.CompletedAt.UTC().Format(time.RFC3339),
	}
	if summary.Category != "" {
		fields["Intel_Category__c"] = summary.Category
	}
	if summary.Synthesis != nil {
		if narrative, ok := summary.Synthesis["narrative"].(string); ok && narrative != "" {
			fields["Intel_Narrative__c"] = narrative
		}
		if count, ok := summary.Synthesis["finding_count"].(int); ok {
			fields["Intel_Finding_Count__c"] = count
		}
	}
	return fields
}
