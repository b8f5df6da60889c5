package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"go-receipt-forensics/pkg/models"
)

// MemoryRunRepository keeps terminal records in process. It backs
// deployments without a database and tests.
type MemoryRunRepository struct {
	mu   sync.RWMutex
	runs map[string]*models.RunStatus
}

func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{runs: make(map[string]*models.RunStatus)}
}

func (m *MemoryRunRepository) SaveResult(_ context.Context, result *models.VerificationResult) error {
	m.put(&models.RunStatus{
		RunID:     result.RunID,
		ReceiptID: result.ReceiptID,
		State:     stateComplete,
		UpdatedAt: result.Timestamp,
		Result:    result,
	})
	return nil
}

func (m *MemoryRunRepository) SaveFailure(_ context.Context, failure *models.FailureResult) error {
	m.put(&models.RunStatus{
		RunID:     failure.RunID,
		ReceiptID: failure.ReceiptID,
		State:     stateFailed,
		UpdatedAt: failure.Timestamp,
		Failure:   failure,
	})
	return nil
}

func (m *MemoryRunRepository) put(st *models.RunStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st.CreatedAt = time.Now().UTC()
	if prev, ok := m.runs[st.RunID]; ok {
		st.CreatedAt = prev.CreatedAt
	}
	m.runs[st.RunID] = st
}

func (m *MemoryRunRepository) Get(_ context.Context, runID string) (*models.RunStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *MemoryRunRepository) ListByReceipt(_ context.Context, receiptID string, limit int) ([]*models.RunStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.RunStatus
	for _, st := range m.runs {
		if st.ReceiptID == receiptID {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
