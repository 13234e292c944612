package salesforce

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/model"
)

// MockClient is a testify mock of the Client interface.
type MockClient struct {
	mock.Mock

	// queryRecords is copied into the out parameter of Query calls.
	queryRecords []caseRecord
}

func (m *MockClient) Query(ctx context.Context, soql string, out any) error {
	args := m.Called(ctx, soql, out)
	if args.Error(0) == nil {
		if result, ok := out.(*caseQuery); ok {
			result.Records = m.queryRecords
		}
	}
	return args.Error(0)
}

func (m *MockClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	args := m.Called(ctx, sObjectName, record)
	return args.String(0), args.Error(1)
}

func (m *MockClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	args := m.Called(ctx, sObjectName, id, fields)
	return args.Error(0)
}

func mirrorRequest() *model.ServiceRequest {
	return &model.ServiceRequest{
		ID:          "req-7",
		Category:    "pothole",
		Address:     "401 Main St",
		Description: "Deep pothole in the travel lane.",
		Status:      model.StatusOpen,
	}
}

func TestTriageCompleted_CreatesCase(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("Query", ctx,
		"SELECT Id FROM Case WHERE Portal_Request_ID__c = 'req-7' LIMIT 1",
		mock.Anything).Return(nil).Once()
	mc.On("InsertOne", ctx, "Case", mock.MatchedBy(func(record map[string]any) bool {
		return record["Portal_Request_ID__c"] == "req-7" &&
			record["Subject"] == "[pothole] 401 Main St" &&
			record["Priority"] == "High" &&
			record["Status"] == "New"
	})).Return("case-1", nil).Once()

	mirror := NewCaseMirror(mc, zap.NewNop())
	err := mirror.TriageCompleted(ctx, mirrorRequest(), model.TriageResult{PriorityScore: 8.4})

	require.NoError(t, err)
	mc.AssertExpectations(t)
}

func TestTriageCompleted_UpdatesExistingCase(t *testing.T) {
	mc := new(MockClient)
	mc.queryRecords = []caseRecord{{Id: "case-1"}}
	ctx := context.Background()

	mc.On("Query", ctx, mock.Anything, mock.Anything).Return(nil).Once()
	mc.On("UpdateOne", ctx, "Case", "case-1", mock.MatchedBy(func(fields map[string]any) bool {
		_, hasExternalID := fields["Portal_Request_ID__c"]
		return fields["Priority"] == "Medium" && !hasExternalID
	})).Return(nil).Once()

	mirror := NewCaseMirror(mc, zap.NewNop())
	err := mirror.TriageCompleted(ctx, mirrorRequest(), model.TriageResult{PriorityScore: 5.2})

	require.NoError(t, err)
	mc.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestTriageCompleted_QueryFailure(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("Query", ctx, mock.Anything, mock.Anything).Return(eris.New("auth expired")).Once()

	err := NewCaseMirror(mc, zap.NewNop()).TriageCompleted(ctx, mirrorRequest(), model.TriageResult{PriorityScore: 6})
	assert.Error(t, err)
}

func TestCasePriority(t *testing.T) {
	assert.Equal(t, "High", casePriority(9))
	assert.Equal(t, "High", casePriority(8))
	assert.Equal(t, "Medium", casePriority(5))
	assert.Equal(t, "Low", casePriority(4))
	assert.Equal(t, "Low", casePriority(1))
}

func TestCaseStatus(t *testing.T) {
	assert.Equal(t, "New", caseStatus(model.StatusOpen))
	assert.Equal(t, "Working", caseStatus(model.StatusInProgress))
	assert.Equal(t, "Closed", caseStatus(model.StatusClosed))
}
