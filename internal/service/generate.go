package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sakif/strategy-hub/internal/apperror"
	"github.com/sakif/strategy-hub/internal/generate"
)

type GenerateInput struct {
	Prompt     string `json:"prompt" validate:"min=10,max=500"`
	AssetClass string `json:"assetClass" validate:"omitempty,oneof=Stocks Crypto Forex Futures Options"`
	RiskLevel  string `json:"riskLevel" validate:"omitempty,oneof=Low Medium High 'Very High'"`
}

// GenerateService fronts the LLM generator. A nil generator means no API key
// was configured.
type GenerateService struct {
	generator *generate.Generator
	logger    *slog.Logger
}

func NewGenerateService(generator *generate.Generator, logger *slog.Logger) *GenerateService {
	return &GenerateService{generator: generator, logger: logger}
}

// Generate returns an unsaved draft. Checks run in order: caller identity,
// configuration, input, then the upstream call.
func (s *GenerateService) Generate(ctx context.Context, callerID string, in GenerateInput) (*generate.Draft, error) {
	if callerID == "" {
		return nil, apperror.Unauthorized()
	}
	if s.generator == nil {
		return nil, apperror.Config("AI service not configured")
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	draft, err := s.generator.Generate(ctx, generate.Request{
		Prompt:     in.Prompt,
		AssetClass: in.AssetClass,
		RiskLevel:  in.RiskLevel,
	})
	if err != nil {
		s.logger.Error("strategy generation failed",
			slog.String("user", callerID),
			slog.String("error", err.Error()),
		)
		var ue *generate.UpstreamError
		if errors.As(err, &ue) {
			return nil, apperror.Upstream(ue.Message)
		}
		return nil, apperror.Upstream("Failed to generate strategy")
	}

	s.logger.Info("strategy generated",
		slog.String("user", callerID),
		slog.String("name", draft.Name),
	)
	return draft, nil
}
