package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/everydev1618/pmc/store"
)

// LexicalModel marks stored entries that carry no vector.
const LexicalModel = "lexical"

// Document is the text indexed for a lot.
func Document(l *store.Lot) string {
	if l.Location == "" {
		return l.Name
	}
	return l.Name + ". Ubicación: " + l.Location
}

// Index keeps lot embeddings in the store and answers similarity queries.
type Index struct {
	store    store.Store
	embedder Embedder
	logger   *slog.Logger

	mu      sync.RWMutex
	loaded  bool
	entries map[string]store.LotEmbedding
}

// NewIndex creates an index. embedder may be nil, in which case lexical
// scoring is used.
func NewIndex(st store.Store, embedder Embedder, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		store:    st,
		embedder: embedder,
		logger:   logger,
		entries:  make(map[string]store.LotEmbedding),
	}
}

func (ix *Index) model() string {
	if ix.embedder == nil {
		return LexicalModel
	}
	return ix.embedder.Name()
}

func (ix *Index) load(ctx context.Context) error {
	ix.mu.RLock()
	loaded := ix.loaded
	ix.mu.RUnlock()
	if loaded {
		return nil
	}

	all, err := ix.store.ListEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("load embeddings: %w", err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.loaded {
		return nil
	}
	for _, e := range all {
		ix.entries[e.LotID] = e
	}
	ix.loaded = true
	return nil
}

// Upsert indexes a lot. Unchanged documents are not embedded again.
func (ix *Index) Upsert(ctx context.Context, l *store.Lot) error {
	if err := ix.load(ctx); err != nil {
		return err
	}
	doc := Document(l)
	model := ix.model()

	ix.mu.RLock()
	cur, ok := ix.entries[l.ID]
	ix.mu.RUnlock()
	if ok && cur.Document == doc && cur.Model == model {
		return nil
	}

	entry := store.LotEmbedding{LotID: l.ID, Model: model, Document: doc, UpdatedAt: time.Now()}
	if ix.embedder != nil {
		vec, err := ix.embedder.Embed(ctx, doc)
		if err != nil {
			return fmt.Errorf("embed lot %s: %w", l.ID, err)
		}
		entry.Vector = vec
	}
	return ix.put(ctx, entry)
}

func (ix *Index) put(ctx context.Context, e store.LotEmbedding) error {
	if err := ix.store.UpsertEmbedding(ctx, &e); err != nil {
		return err
	}
	ix.mu.Lock()
	ix.entries[e.LotID] = e
	ix.mu.Unlock()
	return nil
}

// Remove drops a lot from the index.
func (ix *Index) Remove(ctx context.Context, lotID string) error {
	if err := ix.store.DeleteEmbedding(ctx, lotID); err != nil {
		return err
	}
	ix.mu.Lock()
	delete(ix.entries, lotID)
	ix.mu.Unlock()
	return nil
}

// Sync re-indexes every lot and drops entries of lots that no longer exist.
// It returns the number of lots indexed.
func (ix *Index) Sync(ctx context.Context) (int, error) {
	lots, err := ix.store.ListLots(ctx)
	if err != nil {
		return 0, err
	}
	if err := ix.load(ctx); err != nil {
		return 0, err
	}

	docs := make([]string, len(lots))
	for i := range lots {
		docs[i] = Document(&lots[i])
	}
	var vecs [][]float32
	if ix.embedder != nil && len(docs) > 0 {
		vecs, err = ix.embedder.EmbedBatch(ctx, docs)
		if err != nil {
			return 0, fmt.Errorf("embed lots: %w", err)
		}
	}

	keep := make(map[string]bool, len(lots))
	now := time.Now()
	for i, l := range lots {
		keep[l.ID] = true
		entry := store.LotEmbedding{LotID: l.ID, Model: ix.model(), Document: docs[i], UpdatedAt: now}
		if vecs != nil {
			entry.Vector = vecs[i]
		}
		if err := ix.put(ctx, entry); err != nil {
			return i, err
		}
	}

	ix.mu.RLock()
	var stale []string
	for id := range ix.entries {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	ix.mu.RUnlock()
	for _, id := range stale {
		if err := ix.Remove(ctx, id); err != nil {
			return len(lots), err
		}
	}

	ix.logger.Info("semantic index synced", "lots", len(lots), "removed", len(stale), "model", ix.model())
	return len(lots), nil
}

// Search returns up to limit lots ranked by similarity to query, with Score
// set. Lots are read fresh from the store so availability is current.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]store.Lot, error) {
	if limit <= 0 {
		limit = 5
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if err := ix.load(ctx); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	entries := make([]store.LotEmbedding, 0, len(ix.entries))
	for _, e := range ix.entries {
		entries = append(entries, e)
	}
	ix.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].LotID < entries[j].LotID })

	var matches []Match
	if ix.embedder != nil {
		var err error
		matches, err = ix.vectorMatches(ctx, query, entries, limit)
		if err != nil {
			ix.logger.Warn("semantic search failed, using lexical scoring", "error", err)
			matches = nil
		}
	}
	if matches == nil {
		matches = lexicalMatches(query, entries, limit)
	}

	lots := make([]store.Lot, 0, len(matches))
	for _, m := range matches {
		lot, err := ix.store.GetLot(ctx, entries[m.Index].LotID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		lot.Score = m.Similarity
		lots = append(lots, *lot)
	}
	return lots, nil
}

func (ix *Index) vectorMatches(ctx context.Context, query string, entries []store.LotEmbedding, limit int) ([]Match, error) {
	qvec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	model := ix.embedder.Name()
	corpus := make([][]float32, len(entries))
	for i, e := range entries {
		if e.Model == model {
			corpus[i] = e.Vector
		}
	}
	matches := FindTopK(qvec, corpus, limit)
	if len(matches) == 0 {
		return nil, errors.New("no vectors for current model")
	}
	for i := range matches {
		if matches[i].Similarity < 0 {
			matches[i].Similarity = 0
		}
	}
	return matches, nil
}

// lexicalMatches scores entries by the share of query tokens found in the
// document. Entries sharing no token are dropped.
func lexicalMatches(query string, entries []store.LotEmbedding, limit int) []Match {
	qtokens := Tokenize(query)
	if len(qtokens) == 0 {
		return []Match{}
	}
	var matches []Match
	for i, e := range entries {
		doc := make(map[string]bool)
		for _, t := range Tokenize(e.Document) {
			doc[t] = true
		}
		hits := 0
		for _, t := range qtokens {
			if doc[t] {
				hits++
			}
		}
		if hits > 0 {
			matches = append(matches, Match{Index: i, Similarity: float64(hits) / float64(len(qtokens))})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	if matches == nil {
		return []Match{}
	}
	return matches
}

var stopwords = map[string]bool{
	"el": true, "la": true, "los": true, "las": true, "de": true, "del": true,
	"en": true, "y": true, "a": true, "al": true, "un": true, "una": true,
	"por": true, "con": true, "que": true, "cerca": true, "parqueadero": true,
}

var foldAccents = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
)

// Tokenize lowercases, strips accents and splits text into search tokens.
func Tokenize(text string) []string {
	text = foldAccents.Replace(strings.ToLower(text))
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}
