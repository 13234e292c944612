package notion

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/model"
)

// ReviewBoard writes a review card for each flagged request. Unflagged
// results are ignored, and a request already on the board is not duplicated
// even when triage reruns.
type ReviewBoard struct {
	client Client
	dbID   string
	logger *zap.Logger
}

func NewReviewBoard(client Client, dbID string, logger *zap.Logger) *ReviewBoard {
	if logger == nil {
		logger = zap.L()
	}
	return &ReviewBoard{client: client, dbID: dbID, logger: logger}
}

func (b *ReviewBoard) Name() string { return "notion-review-board" }

// TriageCompleted creates a review card when the result carries safety flags.
func (b *ReviewBoard) TriageCompleted(ctx context.Context, req *model.ServiceRequest, result model.TriageResult) error {
	if len(result.SafetyFlags) == 0 {
		return nil
	}

	exists, err := b.cardExists(ctx, req.ID)
	if err != nil {
		return err
	}
	if exists {
		b.logger.Debug("review card already exists", zap.String("request_id", req.ID))
		return nil
	}

	page := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(b.dbID),
		},
		Properties: notionapi.Properties{
			"Name": notionapi.TitleProperty{
				Title: richText(fmt.Sprintf("[%s] %s", req.Category, req.Address)),
			},
			"Request ID": notionapi.RichTextProperty{RichText: richText(req.ID)},
			"Priority":   notionapi.NumberProperty{Number: float64(result.ClampedPriority())},
			"Flags":      notionapi.MultiSelectProperty{MultiSelect: flagOptions(result.SafetyFlags)},
			"Summary":    notionapi.RichTextProperty{RichText: richText(cardSummary(result))},
		},
	}

	if _, err := b.client.CreatePage(ctx, page); err != nil {
		return eris.Wrapf(err, "notion: create review card for %s", req.ID)
	}

	b.logger.Info("review card created",
		zap.String("request_id", req.ID),
		zap.Strings("flags", result.SafetyFlags),
	)
	return nil
}

func (b *ReviewBoard) cardExists(ctx context.Context, requestID string) (bool, error) {
	resp, err := b.client.QueryDatabase(ctx, b.dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Request ID",
			RichText: &notionapi.TextFilterCondition{Equals: requestID},
		},
		PageSize: 1,
	})
	if err != nil {
		return false, eris.Wrapf(err, "notion: check review card for %s", requestID)
	}
	return len(resp.Results) > 0, nil
}

func cardSummary(result model.TriageResult) string {
	if result.QualitativeSummary != "" {
		return result.QualitativeSummary
	}
	return result.Justification
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{Text: &notionapi.Text{Content: s}}}
}

func flagOptions(flags []string) []notionapi.Option {
	opts := make([]notionapi.Option, 0, len(flags))
	for _, f := range flags {
		opts = append(opts, notionapi.Option{Name: f})
	}
	return opts
}
