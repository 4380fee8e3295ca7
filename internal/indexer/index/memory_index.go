package index

import (
	"sort"
)

// perPostingOverhead approximates the in-memory cost of one posting entry.
const perPostingOverhead = 16

// MemoryIndex is the write buffer of the tiered path: one SpillingList per
// term, filled document by document in increasing DocID order. It is not
// safe for concurrent use.
type MemoryIndex struct {
	lists      map[string]*SpillingList
	spillDir   string
	spillCap   int
	docCount   int
	tokenCount int64
	size       int64
	minDoc     uint32
	maxDoc     uint32
}

func NewMemoryIndex(spillDir string, spillCap int) *MemoryIndex {
	return &MemoryIndex{
		lists:    make(map[string]*SpillingList),
		spillDir: spillDir,
		spillCap: spillCap,
	}
}

// AddDocument indexes the sorted tokens of one document. tokenCount is the
// document's full token count, which includes tokens too long to index.
func (m *MemoryIndex) AddDocument(docID uint32, tokens []string, tokenCount int) error {
	for i := 0; i < len(tokens); {
		j := i + 1
		for j < len(tokens) && tokens[j] == tokens[i] {
			j++
		}
		term := tokens[i]
		list, exists := m.lists[term]
		if !exists {
			list = NewSpillingList(m.spillDir, m.spillCap)
			m.lists[term] = list
			m.size += int64(len(term))
		}
		if err := list.Add(docID, uint32(j-i)); err != nil {
			return err
		}
		m.size += perPostingOverhead
		i = j
	}
	if m.docCount == 0 {
		m.minDoc = docID
	}
	m.maxDoc = docID
	m.docCount++
	m.tokenCount += int64(tokenCount)
	return nil
}

// Terms returns the buffered terms in sorted order.
func (m *MemoryIndex) Terms() []string {
	terms := make([]string, 0, len(m.lists))
	for term := range m.lists {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

// List returns the posting list buffered for term, or nil.
func (m *MemoryIndex) List(term string) *SpillingList {
	return m.lists[term]
}

// Size returns the approximate memory footprint in bytes.
func (m *MemoryIndex) Size() int64 {
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	return m.docCount
}

func (m *MemoryIndex) TokenCount() int64 {
	return m.tokenCount
}

// DocRange returns the smallest and largest buffered DocID.
func (m *MemoryIndex) DocRange() (uint32, uint32) {
	return m.minDoc, m.maxDoc
}

// Reset releases every list, removing any dump files, and empties the index.
func (m *MemoryIndex) Reset() error {
	var firstErr error
	for _, list := range m.lists {
		if err := list.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.lists = make(map[string]*SpillingList)
	m.docCount = 0
	m.tokenCount = 0
	m.size = 0
	m.minDoc = 0
	m.maxDoc = 0
	return firstErr
}
