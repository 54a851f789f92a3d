// Package registry manages the Notion-backed queue of research subjects:
// loading pending subjects for batch runs and writing their status back as
// the pipeline works through them.
package registry

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-engine/pkg/notion"
)

// Subject statuses in the Notion database.
const (
	StatusPending   = "Pending"
	StatusRunning   = "Running"
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
)

// Subject is one research target parsed from a Notion page.
type Subject struct {
	PageID   string `json:"page_id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Query    string `json:"query,omitempty"`
}

// SubjectQueue reads and updates the subject database.
type SubjectQueue struct {
	client notion.Client
	dbID   string
}

// NewSubjectQueue creates a queue over the given Notion database.
func NewSubjectQueue(client notion.Client, dbID string) *SubjectQueue {
	return &SubjectQueue{client: client, dbID: dbID}
}

// Pending returns subjects whose Status is Pending, oldest first. limit <= 0
// returns all of them.
func (q *SubjectQueue) Pending(ctx context.Context, limit int) ([]Subject, error) {
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status: &notionapi.StatusFilterCondition{
				Equals: StatusPending,
			},
		},
		Sorts: []notionapi.SortObject{
			{Timestamp: notionapi.TimestampCreated, Direction: notionapi.SortOrderASC},
		},
	}

	pages, err := notion.QueryAll(ctx, q.client, q.dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "registry: query pending subjects")
	}

	var subjects []Subject
	for _, p := range pages {
		s, err := parseSubjectPage(p)
		if err != nil {
			zap.L().Warn("registry: skipping malformed subject page",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		subjects = append(subjects, s)
		if limit > 0 && len(subjects) >= limit {
			break
		}
	}
	return subjects, nil
}

// Add creates a new subject page with Status Pending. Used to seed the queue
// from spreadsheet imports.
func (q *SubjectQueue) Add(ctx context.Context, s Subject) error {
	if s.Name == "" {
		return eris.New("registry: subject name is required")
	}

	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{Text: &notionapi.Text{Content: s.Name}},
			},
		},
		"Status": notionapi.StatusProperty{
			Status: notionapi.Option{Name: StatusPending},
		},
	}
	if s.Category != "" {
		props["Category"] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: s.Category},
		}
	}
	if s.Query != "" {
		props["Query"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{Text: &notionapi.Text{Content: s.Query}},
			},
		}
	}

	_, err := q.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(q.dbID),
		},
		Properties: props,
	})
	return eris.Wrapf(err, "registry: add subject %s", s.Name)
}

// MarkRunning flips a subject's status to Running.
func (q *SubjectQueue) MarkRunning(ctx context.Context, pageID string) error {
	return q.setStatus(ctx, pageID, StatusRunning, "")
}

// MarkCompleted flips a subject's status to Completed and records the
// process id of the run that produced its report.
func (q *SubjectQueue) MarkCompleted(ctx context.Context, pageID, processID string) error {
	return q.setStatus(ctx, pageID, StatusCompleted, processID)
}

// MarkFailed flips a subject's status to Failed and records the process id
// for dead-letter lookup.
func (q *SubjectQueue) MarkFailed(ctx context.Context, pageID, processID string) error {
	return q.setStatus(ctx, pageID, StatusFailed, processID)
}

func (q *SubjectQueue) setStatus(ctx context.Context, pageID, status, processID string) error {
	props := notionapi.Properties{
		"Status": notionapi.StatusProperty{
			Status: notionapi.Option{Name: status},
		},
	}
	if processID != "" {
		props["ProcessID"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{Text: &notionapi.Text{Content: processID}},
			},
		}
	}

	_, err := q.client.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
		Properties: props,
	})
	return eris.Wrapf(err, "registry: set subject %s status %s", pageID, status)
}

// parseSubjectPage extracts a Subject from a Notion page. Name is the title
// property; Category is a select; Query is rich text.
func parseSubjectPage(p notionapi.Page) (Subject, error) {
	s := Subject{PageID: string(p.ID)}

	if prop, ok := p.Properties["Name"]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			s.Name = plainText(tp.Title)
		}
	}
	if s.Name == "" {
		return s, eris.New("registry: subject page missing Name title")
	}

	if prop, ok := p.Properties["Category"]; ok {
		if sp, ok := prop.(*notionapi.SelectProperty); ok {
			s.Category = sp.Select.Name
		}
	}

	if prop, ok := p.Properties["Query"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			s.Query = plainText(rtp.RichText)
		}
	}

	return s, nil
}

func plainText(rts []notionapi.RichText) string {
	var s string
	for _, rt := range rts {
		s += rt.PlainText
	}
	return s
}
