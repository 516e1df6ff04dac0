package worker

import (
	"context"
	"fmt"

	"ingestctl/internal/chunk"
	"ingestctl/internal/jobstore"
	"ingestctl/internal/util"
)

// perChunkExpectedOutputTokens is a fixed overhead for the structured JSON
// output an extraction typically produces, used only for the dry-run cost
// estimate (§4.D phase 3).
const perChunkExpectedOutputTokens = 400

// EstimateCost runs phase 1 (load) and phase 2 (chunk) synthetically, then
// prices the result against the profile's published per-token rates,
// without calling the extractor (§4.D.3 "this phase runs synthetically").
func (w *Worker) EstimateCost(ctx context.Context, job jobstore.Job) (jobstore.CostEstimate, error) {
	text, err := w.loadInput(ctx, job)
	if err != nil {
		return jobstore.CostEstimate{}, fmt.Errorf("loading input for estimate: %w", err)
	}
	chunks := chunk.Split(text, chunk.Options{TargetWords: job.Options.TargetWords, OverlapWords: job.Options.OverlapWords})

	profile := w.profileFor(job.Options.ExtractionProfile)

	var tokensIn, tokensOut int64
	for _, c := range chunks {
		tokensIn += int64(util.CountTokens(c.Text))
		tokensOut += perChunkExpectedOutputTokens
	}

	const million = 1_000_000.0
	usdExtraction := float64(tokensIn)/million*profile.InputPricePerMTok + float64(tokensOut)/million*profile.OutputPricePerMTok
	// Embedding cost can't be estimated pre-extraction: concept count isn't
	// known until chunks are actually processed.
	const usdEmbedding = 0

	modelIDs := []string{}
	if profile.ModelID != "" {
		modelIDs = []string{profile.ModelID}
	}

	return jobstore.CostEstimate{
		TokensIn:      tokensIn,
		TokensOut:     tokensOut,
		USDExtraction: usdExtraction,
		USDEmbedding:  usdEmbedding,
		USDTotal:      usdExtraction + usdEmbedding,
		ModelIDs:      modelIDs,
	}, nil
}
