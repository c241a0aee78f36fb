package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/strategy-hub/internal/apperror"
	"github.com/sakif/strategy-hub/internal/model"
)

func exportFixture(t *testing.T) (*strategyFixture, string) {
	t.Helper()
	f := newStrategyFixture(t)
	f.svc.now = func() time.Time { return time.UnixMilli(1772884800123) }

	id := f.strategies.put(model.Strategy{
		Name:                `The "Quoted" One`,
		Description:         "Says \"buy\" at the open, sells at <close>",
		Parameters:          map[string]any{"entry": "gap > 2%", "size": 0.5},
		RiskLevel:           "High",
		AssetClass:          "Futures",
		BacktestPerformance: "Sharpe 1.4",
		Tags:                []string{"gap", "intraday"},
		CreatedBy:           model.UserRef{ID: f.alice},
		CreatedAt:           time.Date(2026, 3, 7, 9, 30, 0, 250_000_000, time.UTC),
	})
	return f, id
}

func TestExport_CSVQuotesEveryCell(t *testing.T) {
	f, id := exportFixture(t)

	file, err := f.svc.Export(context.Background(), f.alice, id, "csv")
	require.NoError(t, err)

	assert.Equal(t, "text/csv", file.ContentType)
	assert.Equal(t, `strategy-The "Quoted" One-1772884800123.csv`, file.Filename)

	want := strings.Join([]string{
		`"Field","Value"`,
		`"Name","The ""Quoted"" One"`,
		`"Description","Says ""buy"" at the open, sells at <close>"`,
		`"Risk Level","High"`,
		`"Asset Class","Futures"`,
		`"Backtest Performance","Sharpe 1.4"`,
		`"Tags","gap, intraday"`,
		`"Parameters","{""entry"":""gap > 2%"",""size"":0.5}"`,
		`"Created At","2026-03-07T09:30:00.250Z"`,
	}, "\n")
	assert.Equal(t, want, string(file.Body))
}

func TestExport_JSONCarriesDocumentedFields(t *testing.T) {
	f, id := exportFixture(t)

	file, err := f.svc.Export(context.Background(), f.alice, id, "json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", file.ContentType)
	assert.True(t, strings.HasSuffix(file.Filename, ".json"))
	assert.Contains(t, string(file.Body), "\n  \"name\": ", "JSON export is indented by two spaces")

	var doc map[string]any
	require.NoError(t, json.Unmarshal(file.Body, &doc))

	assert.Equal(t, `The "Quoted" One`, doc["name"])
	assert.Equal(t, "Says \"buy\" at the open, sells at <close>", doc["description"])
	assert.Equal(t, map[string]any{"entry": "gap > 2%", "size": 0.5}, doc["parameters"])
	assert.Equal(t, "High", doc["riskLevel"])
	assert.Equal(t, "Futures", doc["assetClass"])
	assert.Equal(t, "Sharpe 1.4", doc["backtestPerformance"])
	assert.Equal(t, []any{"gap", "intraday"}, doc["tags"])
	assert.Equal(t, "2026-03-07T09:30:00.250Z", doc["createdAt"])
	assert.Len(t, doc, 8, "only the documented fields are exported")
}

func TestExport_DefaultsToJSON(t *testing.T) {
	f, id := exportFixture(t)

	file, err := f.svc.Export(context.Background(), f.alice, id, "")
	require.NoError(t, err)
	assert.Equal(t, "application/json", file.ContentType)
}

func TestExport_Permissions(t *testing.T) {
	f, id := exportFixture(t)

	_, err := f.svc.Export(context.Background(), f.bob, id, "json")
	requireAppError(t, err, apperror.ErrForbidden, "Unauthorized to export this strategy")

	public := f.strategies.put(model.Strategy{Name: "Open", CreatedBy: model.UserRef{ID: f.alice}, IsPublic: true})
	_, err = f.svc.Export(context.Background(), f.bob, public, "csv")
	assert.NoError(t, err, "anyone may export a public strategy")

	_, err = f.svc.Export(context.Background(), "", public, "csv")
	requireAppError(t, err, apperror.ErrUnauthorized, "")
}

func TestExport_InvalidFormat(t *testing.T) {
	f, id := exportFixture(t)

	_, err := f.svc.Export(context.Background(), f.alice, id, "xml")
	requireAppError(t, err, apperror.ErrValidation, "Invalid format. Use 'json' or 'csv'")
}

func TestExport_NotFound(t *testing.T) {
	f, _ := exportFixture(t)

	_, err := f.svc.Export(context.Background(), f.alice, "missing", "json")
	requireAppError(t, err, apperror.ErrNotFound, "Strategy not found")
}
