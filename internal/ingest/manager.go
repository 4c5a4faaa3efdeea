package ingest

import (
	"sync"

	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/extract"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/objstore"
)

// Manager hands out one pipeline per author. Each teacher reviews one
// batch at a time; a new upload into the same pipeline replaces it.
type Manager struct {
	extractor  extract.Extractor
	structurer Structurer
	store      ExamStore
	files      objstore.FileStore
	cfg        Config

	mu        sync.Mutex
	pipelines map[int64]*Pipeline
}

func NewManager(ex extract.Extractor, st Structurer, store ExamStore, files objstore.FileStore, cfg Config) *Manager {
	return &Manager{
		extractor:  ex,
		structurer: st,
		store:      store,
		files:      files,
		cfg:        cfg,
		pipelines:  make(map[int64]*Pipeline),
	}
}

// For returns the author's pipeline, creating it on first use.
func (m *Manager) For(userID int64) *Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pipelines[userID]
	if !ok {
		p = NewPipeline(m.extractor, m.structurer, m.store, m.files, m.cfg)
		m.pipelines[userID] = p
	}
	return p
}
