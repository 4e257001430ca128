package store

import (
	"context"
	"sync"

	"github.com/knakano/receipt-ocr-engine/dto"
)

// MemoryStore is an in-process template store used by tests and by the
// mock pipeline wiring.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]map[string]dto.Template // household -> family -> template
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{templates: make(map[string]map[string]dto.Template)}
}

func (m *MemoryStore) GetTemplates(_ context.Context, householdID string, docType dto.DocumentType) ([]dto.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []dto.Template
	for _, tmpl := range m.templates[householdID] {
		if docType != "" && tmpl.DocumentType != docType {
			continue
		}
		out = append(out, tmpl)
	}
	return out, nil
}

func (m *MemoryStore) GetTemplate(_ context.Context, householdID, familyID string) (*dto.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tmpl, ok := m.templates[householdID][familyID]
	if !ok {
		return nil, dto.ErrTemplateNotFound
	}
	return &tmpl, nil
}

func (m *MemoryStore) PutTemplate(_ context.Context, tmpl dto.Template) error {
	if err := ValidateTemplate(&tmpl); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.templates[tmpl.HouseholdID] == nil {
		m.templates[tmpl.HouseholdID] = make(map[string]dto.Template)
	}
	m.templates[tmpl.HouseholdID][tmpl.TemplateFamilyID] = tmpl
	return nil
}
