package service

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/certfolio/verification-engine/internal/verification"
)

// BulkItem is the per-item result of a bulk verification
type BulkItem struct {
	ID      string  `json:"id"`
	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`
	Result  *Result `json:"result,omitempty"`
}

// BatchStats summarises a bulk verification
type BatchStats struct {
	Total            int                           `json:"total"`
	Succeeded        int                           `json:"succeeded"`
	Failed           int                           `json:"failed"`
	MeanConfidence   float64                       `json:"meanConfidence"`
	StdDevConfidence float64                       `json:"stdDevConfidence"`
	Decisions        map[verification.Decision]int `json:"decisions"`
}

// BulkResult is the outcome of a bulk verification
type BulkResult struct {
	Items []BulkItem `json:"items"`
	Stats BatchStats `json:"stats"`
}

// BulkVerify verifies every request with bounded parallelism. A failing item
// is reported in its slot and never aborts the rest of the batch.
func (s *Service) BulkVerify(ctx context.Context, reqs []Request) (*BulkResult, error) {
	if len(reqs) == 0 {
		return nil, ErrEmptyBatch
	}
	if s.bulk.MaxItems > 0 && len(reqs) > s.bulk.MaxItems {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(reqs), s.bulk.MaxItems)
	}

	s.metrics.BulkBatchSize.Observe(float64(len(reqs)))

	items := make([]BulkItem, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.bulk.Concurrency)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			items[i] = s.verifyItem(ctx, i, req)
			return nil
		})
	}
	_ = g.Wait()

	result := &BulkResult{Items: items, Stats: batchStats(items)}

	s.logger.Info("Bulk verification completed",
		zap.Int("total", result.Stats.Total),
		zap.Int("succeeded", result.Stats.Succeeded),
		zap.Int("failed", result.Stats.Failed))

	return result, nil
}

func (s *Service) verifyItem(ctx context.Context, index int, req Request) (item BulkItem) {
	item.ID = itemID(index, req)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Bulk item panicked", zap.String("id", item.ID), zap.Any("panic", r))
			item = BulkItem{ID: item.ID, Message: fmt.Sprintf("internal error: %v", r)}
		}
		if !item.Success {
			s.metrics.BulkItemFails.Inc()
		}
	}()

	if s.bulk.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.bulk.ItemTimeout)
		defer cancel()
	}

	result, err := s.Verify(ctx, req)
	if err != nil {
		item.Message = err.Error()
		return item
	}
	item.Success = true
	item.Result = result
	return item
}

func itemID(index int, req Request) string {
	if req.ID != "" {
		return req.ID
	}
	if req.CertificateID != "" {
		return req.CertificateID
	}
	return strconv.Itoa(index)
}

func batchStats(items []BulkItem) BatchStats {
	stats := BatchStats{
		Total:     len(items),
		Decisions: map[verification.Decision]int{},
	}

	scores := make([]float64, 0, len(items))
	for _, item := range items {
		if !item.Success {
			stats.Failed++
			continue
		}
		stats.Succeeded++
		stats.Decisions[item.Result.Outcome.AIDecision]++
		scores = append(scores, float64(item.Result.Outcome.ConfidenceScore))
	}

	switch len(scores) {
	case 0:
	case 1:
		stats.MeanConfidence = scores[0]
	default:
		mean, std := stat.MeanStdDev(scores, nil)
		stats.MeanConfidence = round2(mean)
		stats.StdDevConfidence = round2(std)
	}
	return stats
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
