package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/strategy-hub/internal/apperror"
	"github.com/sakif/strategy-hub/internal/model"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"

	// isoMillis matches JavaScript's Date.toISOString.
	isoMillis = "2006-01-02T15:04:05.000Z07:00"
)

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// exportDoc fixes the field order of the JSON export.
type exportDoc struct {
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	Parameters          map[string]any `json:"parameters"`
	RiskLevel           string         `json:"riskLevel"`
	AssetClass          string         `json:"assetClass"`
	BacktestPerformance string         `json:"backtestPerformance"`
	Tags                []string       `json:"tags"`
	CreatedAt           string         `json:"createdAt"`
}

// Export renders a strategy the caller owns, or any public one, as JSON or
// CSV. An empty format means JSON.
func (s *StrategyService) Export(ctx context.Context, callerID, id, format string) (*ExportFile, error) {
	if callerID == "" {
		return nil, apperror.Unauthorized()
	}

	st, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !st.OwnedBy(callerID) && !st.IsPublic {
		return nil, apperror.Forbidden("Unauthorized to export this strategy")
	}

	if format == "" {
		format = FormatJSON
	}

	var file *ExportFile
	switch format {
	case FormatJSON:
		body, err := exportJSON(st)
		if err != nil {
			return nil, fmt.Errorf("exporting strategy %s: %w", id, err)
		}
		file = &ExportFile{ContentType: "application/json", Body: body}
	case FormatCSV:
		body, err := exportCSV(st)
		if err != nil {
			return nil, fmt.Errorf("exporting strategy %s: %w", id, err)
		}
		file = &ExportFile{ContentType: "text/csv", Body: body}
	default:
		return nil, apperror.ValidationFailed("format", "Invalid format. Use 'json' or 'csv'")
	}

	file.Filename = fmt.Sprintf("strategy-%s-%d.%s", st.Name, s.now().UnixMilli(), format)

	s.logger.Info("strategy exported",
		slog.String("id", id),
		slog.String("format", format),
		slog.String("caller", callerID),
	)
	return file, nil
}

func exportJSON(st *model.Strategy) ([]byte, error) {
	doc := exportDoc{
		Name:                st.Name,
		Description:         st.Description,
		Parameters:          st.Parameters,
		RiskLevel:           st.RiskLevel,
		AssetClass:          st.AssetClass,
		BacktestPerformance: st.BacktestPerformance,
		Tags:                st.Tags,
		CreatedAt:           st.CreatedAt.UTC().Format(isoMillis),
	}
	if doc.Parameters == nil {
		doc.Parameters = map[string]any{}
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// exportCSV writes one Field,Value row per field. Every cell is quoted and
// embedded quotes are doubled; rows are separated by a bare "\n".
func exportCSV(st *model.Strategy) ([]byte, error) {
	params, err := compactJSON(st.Parameters)
	if err != nil {
		return nil, err
	}

	rows := [][2]string{
		{"Field", "Value"},
		{"Name", st.Name},
		{"Description", st.Description},
		{"Risk Level", st.RiskLevel},
		{"Asset Class", st.AssetClass},
		{"Backtest Performance", st.BacktestPerformance},
		{"Tags", strings.Join(st.Tags, ", ")},
		{"Parameters", params},
		{"Created At", st.CreatedAt.UTC().Format(isoMillis)},
	}

	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(csvCell(row[0]))
		b.WriteByte(',')
		b.WriteString(csvCell(row[1]))
	}
	return []byte(b.String()), nil
}

func csvCell(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

func compactJSON(v map[string]any) (string, error) {
	if v == nil {
		v = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
