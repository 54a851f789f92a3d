package registry

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func subjectPage(id, name, category, query string) notionapi.Page {
	props := notionapi.Properties{
		"Name": &notionapi.TitleProperty{
			Title: []notionapi.RichText{{PlainText: name}},
		},
	}
	if category != "" {
		props["Category"] = &notionapi.SelectProperty{
			Select: notionapi.Option{Name: category},
		}
	}
	if query != "" {
		props["Query"] = &notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{PlainText: query}},
		}
	}
	return notionapi.Page{ID: notionapi.ObjectID(id), Properties: props}
}

func TestPendingParsesSubjects(t *testing.T) {
	client := &mockNotionClient{}
	client.On("QueryDatabase", mock.Anything, "db-1", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{
				subjectPage("page-1", "Acme Corp", "pharma", "acme recall"),
				subjectPage("page-2", "Beta LLC", "", ""),
			},
		}, nil)

	q := NewSubjectQueue(client, "db-1")
	subjects, err := q.Pending(context.Background(), 0)

	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Equal(t, Subject{PageID: "page-1", Name: "Acme Corp", Category: "pharma", Query: "acme recall"}, subjects[0])
	assert.Equal(t, "Beta LLC", subjects[1].Name)
	client.AssertExpectations(t)
}

func TestPendingSkipsMalformedPages(t *testing.T) {
	client := &mockNotionClient{}
	client.On("QueryDatabase", mock.Anything, "db-1", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{
				{ID: "page-bad", Properties: notionapi.Properties{}}, // no Name
				subjectPage("page-1", "Acme Corp", "", ""),
			},
		}, nil)

	q := NewSubjectQueue(client, "db-1")
	subjects, err := q.Pending(context.Background(), 0)

	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, "Acme Corp", subjects[0].Name)
}

func TestPendingHonorsLimit(t *testing.T) {
	client := &mockNotionClient{}
	client.On("QueryDatabase", mock.Anything, "db-1", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{
				subjectPage("page-1", "Acme", "", ""),
				subjectPage("page-2", "Beta", "", ""),
				subjectPage("page-3", "Gamma", "", ""),
			},
		}, nil)

	q := NewSubjectQueue(client, "db-1")
	subjects, err := q.Pending(context.Background(), 2)

	require.NoError(t, err)
	assert.Len(t, subjects, 2)
}

func TestPendingQueryError(t *testing.T) {
	client := &mockNotionClient{}
	client.On("QueryDatabase", mock.Anything, "db-1", mock.Anything).
		Return(nil, eris.New("notion down"))

	q := NewSubjectQueue(client, "db-1")
	_, err := q.Pending(context.Background(), 0)
	assert.Error(t, err)
}

func TestMarkCompletedWritesStatusAndProcessID(t *testing.T) {
	client := &mockNotionClient{}
	client.On("UpdatePage", mock.Anything, "page-1", mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
		status, ok := req.Properties["Status"].(notionapi.StatusProperty)
		if !ok || status.Status.Name != StatusCompleted {
			return false
		}
		pid, ok := req.Properties["ProcessID"].(notionapi.RichTextProperty)
		return ok && len(pid.RichText) == 1 && pid.RichText[0].Text.Content == "proc-1"
	})).Return(&notionapi.Page{}, nil)

	q := NewSubjectQueue(client, "db-1")
	require.NoError(t, q.MarkCompleted(context.Background(), "page-1", "proc-1"))
	client.AssertExpectations(t)
}

func TestMarkRunningOmitsProcessID(t *testing.T) {
	client := &mockNotionClient{}
	client.On("UpdatePage", mock.Anything, "page-1", mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
		_, hasPID := req.Properties["ProcessID"]
		status, ok := req.Properties["Status"].(notionapi.StatusProperty)
		return ok && status.Status.Name == StatusRunning && !hasPID
	})).Return(&notionapi.Page{}, nil)

	q := NewSubjectQueue(client, "db-1")
	require.NoError(t, q.MarkRunning(context.Background(), "page-1"))
	client.AssertExpectations(t)
}

func TestAddCreatesPendingPage(t *testing.T) {
	client := &mockNotionClient{}
	client.On("CreatePage", mock.Anything, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		if req.Parent.DatabaseID != notionapi.DatabaseID("db-1") {
			return false
		}
		title, ok := req.Properties["Name"].(notionapi.TitleProperty)
		if !ok || len(title.Title) != 1 || title.Title[0].Text.Content != "Acme Corp" {
			return false
		}
		status, ok := req.Properties["Status"].(notionapi.StatusProperty)
		if !ok || status.Status.Name != StatusPending {
			return false
		}
		category, ok := req.Properties["Category"].(notionapi.SelectProperty)
		if !ok || category.Select.Name != "pharma" {
			return false
		}
		query, ok := req.Properties["Query"].(notionapi.RichTextProperty)
		return ok && len(query.RichText) == 1 && query.RichText[0].Text.Content == "acme recall"
	})).Return(&notionapi.Page{ID: "page-new"}, nil)

	q := NewSubjectQueue(client, "db-1")
	err := q.Add(context.Background(), Subject{
		Name:     "Acme Corp",
		Category: "pharma",
		Query:    "acme recall",
	})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestAddOmitsEmptyOptionalProperties(t *testing.T) {
	client := &mockNotionClient{}
	client.On("CreatePage", mock.Anything, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		_, hasCategory := req.Properties["Category"]
		_, hasQuery := req.Properties["Query"]
		return !hasCategory && !hasQuery
	})).Return(&notionapi.Page{ID: "page-new"}, nil)

	q := NewSubjectQueue(client, "db-1")
	require.NoError(t, q.Add(context.Background(), Subject{Name: "Beta LLC"}))
	client.AssertExpectations(t)
}

func TestAddRequiresName(t *testing.T) {
	q := NewSubjectQueue(&mockNotionClient{}, "db-1")
	err := q.Add(context.Background(), Subject{Category: "pharma"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestAddCreatePageError(t *testing.T) {
	client := &mockNotionClient{}
	client.On("CreatePage", mock.Anything, mock.Anything).
		Return(nil, eris.New("rate limited"))

	q := NewSubjectQueue(client, "db-1")
	err := q.Add(context.Background(), Subject{Name: "Acme Corp"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "add subject Acme Corp")
}
