package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/index/scorch/mergeplan"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"

	loupeerr "github.com/loupehq/loupe/internal/errors"
)

const (
	// FilenameTokenizerName is our custom file-name tokenizer.
	FilenameTokenizerName = "filename_tokenizer"
	// FilenameAnalyzerName analyzes the file_name field.
	FilenameAnalyzerName = "filename_analyzer"
	// ContentAnalyzerName analyzes content and title fields.
	ContentAnalyzerName = "content_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(FilenameTokenizerName, filenameTokenizerConstructor)
}

// DefaultBoosts are the per-field relevance boosts for lexical search.
var DefaultBoosts = map[string]float64{
	"title":     1.5,
	"file_name": 1.3,
	"content":   1.0,
}

// FullTextConfig tunes the bleve index.
type FullTextConfig struct {
	// UseCJKAnalyzer adds width normalization and bigram tokenization so
	// CJK text is searchable without word boundaries.
	UseCJKAnalyzer bool
}

// BleveIndex implements FullTextIndex on bleve's scorch backend with BM25
// scoring. Single writer; bleve searchers read concurrently.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	config FullTextConfig
	logger *slog.Logger
	closed bool
}

var _ FullTextIndex = (*BleveIndex)(nil)

// NewBleveIndex opens (or creates) the index directory at path. An empty
// path creates an in-memory index for tests. A corrupted directory is
// cleared and recreated with a warning; the index is rebuildable from the
// metadata store.
func NewBleveIndex(path string, cfg FullTextConfig, logger *slog.Logger) (*BleveIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}

	idx, err := openBleve(path, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &BleveIndex{index: idx, path: path, config: cfg, logger: logger}, nil
}

func openBleve(path string, cfg FullTextConfig, logger *slog.Logger) (bleve.Index, error) {
	im, err := buildIndexMapping(cfg)
	if err != nil {
		return nil, err
	}

	if path == "" {
		idx, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, loupeerr.IndexWrite("cannot create in-memory full-text index", err)
		}
		return idx, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, loupeerr.Fatal(loupeerr.ErrCodeDataRoot,
			fmt.Sprintf("cannot create full-text index directory %s", filepath.Dir(path)), err)
	}

	if validErr := validateBleveIntegrity(path); validErr != nil {
		logger.Warn("fulltext index corrupted, clearing",
			slog.String("path", path), slog.String("error", validErr.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, loupeerr.Fatal(loupeerr.ErrCodeCorruptIndex,
				fmt.Sprintf("full-text index corrupted at %s and cannot be removed", path), removeErr)
		}
		logger.Info("fulltext index cleared, reindex required", slog.String("path", path))
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, im)
	} else if err != nil && isBleveCorruption(err) {
		logger.Warn("fulltext index open failed, clearing",
			slog.String("path", path), slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, loupeerr.Fatal(loupeerr.ErrCodeCorruptIndex,
				fmt.Sprintf("full-text index corrupted at %s and cannot be removed", path), removeErr)
		}
		idx, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, loupeerr.Fatal(loupeerr.ErrCodeCorruptIndex,
			fmt.Sprintf("cannot open full-text index at %s", path), err)
	}
	return idx, nil
}

// validateBleveIntegrity probes index_meta.json before opening so a
// half-written directory is detected up front instead of surfacing as a
// confusing open error.
func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isBleveCorruption(err error) bool {
	if err == nil {
		return false
	}
	if err == bleve.ErrorIndexMetaCorrupt {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "unexpected end of JSON") ||
		strings.Contains(s, "error parsing mapping JSON") ||
		strings.Contains(s, "failed to load segment") ||
		strings.Contains(s, "no such file or directory")
}

func buildIndexMapping(cfg FullTextConfig) (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	contentFilters := []string{lowercase.Name}
	if cfg.UseCJKAnalyzer {
		contentFilters = []string{cjk.WidthName, lowercase.Name, cjk.BigramName}
	}
	if err := im.AddCustomAnalyzer(ContentAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": contentFilters,
	}); err != nil {
		return nil, fmt.Errorf("add content analyzer: %w", err)
	}
	if err := im.AddCustomAnalyzer(FilenameAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     FilenameTokenizerName,
		"token_filters": []string{lowercase.Name},
	}); err != nil {
		return nil, fmt.Errorf("add filename analyzer: %w", err)
	}
	im.DefaultAnalyzer = ContentAnalyzerName

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = ContentAnalyzerName
	contentField.Store = true
	contentField.IncludeTermVectors = true

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = ContentAnalyzerName
	titleField.Store = true
	titleField.IncludeTermVectors = true

	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = FilenameAnalyzerName
	nameField.Store = true
	nameField.IncludeTermVectors = true

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name
	keywordField.Store = true

	numField := bleve.NewNumericFieldMapping()
	numField.Store = true

	dateField := bleve.NewDateTimeFieldMapping()
	dateField.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", contentField)
	doc.AddFieldMappingsAt("title", titleField)
	doc.AddFieldMappingsAt("file_name", nameField)
	doc.AddFieldMappingsAt("file_path", keywordField)
	doc.AddFieldMappingsAt("file_type", keywordField)
	doc.AddFieldMappingsAt("chunk_id", numField)
	doc.AddFieldMappingsAt("file_id", numField)
	doc.AddFieldMappingsAt("chunk_index", numField)
	doc.AddFieldMappingsAt("start_position", numField)
	doc.AddFieldMappingsAt("end_position", numField)
	doc.AddFieldMappingsAt("content_length", numField)
	doc.AddFieldMappingsAt("modified_time", dateField)
	doc.AddFieldMappingsAt("created_at", dateField)
	im.DefaultMapping = doc

	return im, nil
}

func docFields(d *FullTextDoc) map[string]any {
	return map[string]any{
		"chunk_id":       d.ChunkID,
		"file_id":        d.FileID,
		"file_name":      d.FileName,
		"file_path":      d.FilePath,
		"file_type":      string(d.FileType),
		"title":          d.Title,
		"content":        d.Content,
		"chunk_index":    d.ChunkIndex,
		"start_position": d.StartPosition,
		"end_position":   d.EndPosition,
		"content_length": d.ContentLength,
		"modified_time":  d.ModifiedTime,
		"created_at":     d.CreatedAt,
	}
}

// AddDocuments upserts chunk documents in one batch.
func (f *BleveIndex) AddDocuments(ctx context.Context, docs []*FullTextDoc) error {
	if len(docs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("fulltext index is closed")
	}

	batch := f.index.NewBatch()
	for _, d := range docs {
		id := d.ID
		if id == "" {
			id = DocID(d.FileID, d.ChunkIndex)
		}
		if err := batch.Index(id, docFields(d)); err != nil {
			return loupeerr.IndexWrite(fmt.Sprintf("cannot stage document %s", id), err)
		}
	}
	if err := f.index.Batch(batch); err != nil {
		return loupeerr.IndexWrite("cannot commit full-text batch", err)
	}
	return nil
}

// DeleteByID removes one document.
func (f *BleveIndex) DeleteByID(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("fulltext index is closed")
	}
	if err := f.index.Delete(id); err != nil {
		return loupeerr.IndexWrite(fmt.Sprintf("cannot delete document %s", id), err)
	}
	return nil
}

// DeleteByFileID removes every document of a file and returns the count.
func (f *BleveIndex) DeleteByFileID(ctx context.Context, fileID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, fmt.Errorf("fulltext index is closed")
	}

	v := float64(fileID)
	truth := true
	q := bleve.NewNumericRangeInclusiveQuery(&v, &v, &truth, &truth)
	q.SetField("file_id")

	total, err := f.index.DocCount()
	if err != nil {
		return 0, loupeerr.IndexWrite("cannot count documents", err)
	}
	req := bleve.NewSearchRequest(q)
	req.Size = int(total)

	res, err := f.index.SearchInContext(ctx, req)
	if err != nil {
		return 0, loupeerr.IndexWrite(fmt.Sprintf("cannot find documents of file %d", fileID), err)
	}

	batch := f.index.NewBatch()
	for _, hit := range res.Hits {
		batch.Delete(hit.ID)
	}
	if err := f.index.Batch(batch); err != nil {
		return 0, loupeerr.IndexWrite("cannot commit full-text delete batch", err)
	}
	return len(res.Hits), nil
}

// Search runs a BM25-ranked query. Single-character queries fall back to
// a wildcard; longer queries combine exact phrase, per-field match, and
// wildcard forms under an OR with the configured boosts.
func (f *BleveIndex) Search(ctx context.Context, ftq FullTextQuery) ([]*FullTextHit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, fmt.Errorf("fulltext index is closed")
	}

	text := strings.TrimSpace(ftq.Text)
	if text == "" {
		return []*FullTextHit{}, nil
	}
	limit := ftq.Limit
	if limit <= 0 {
		limit = 10
	}

	q := buildSearchQuery(text, ftq)

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.From = ftq.Offset
	req.Fields = []string{"*"}
	req.IncludeLocations = true

	res, err := f.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, loupeerr.New(loupeerr.ErrCodeInvalidQuery,
			fmt.Sprintf("full-text search failed: %v", err), err)
	}

	hits := make([]*FullTextHit, 0, len(res.Hits))
	for i, hit := range res.Hits {
		h := &FullTextHit{
			ID:      hit.ID,
			ChunkID: fieldInt64(hit.Fields, "chunk_id"),
			FileID:  fieldInt64(hit.Fields, "file_id"),
			Score:   hit.Score,
			Rank:    ftq.Offset + i + 1,
			Fields:  hit.Fields,
		}
		seen := map[string]struct{}{}
		for field, terms := range hit.Locations {
			for term, locs := range terms {
				if _, ok := seen[term]; !ok {
					seen[term] = struct{}{}
					h.MatchedTerms = append(h.MatchedTerms, term)
				}
				for _, loc := range locs {
					h.Highlights = append(h.Highlights, HighlightSpan{
						Field: field,
						Start: int(loc.Start),
						End:   int(loc.End),
					})
				}
			}
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func buildSearchQuery(text string, ftq FullTextQuery) query.Query {
	fields := ftq.Fields
	if len(fields) == 0 {
		fields = []string{"content", "file_name", "title"}
	}
	boosts := ftq.Boosts
	if boosts == nil {
		boosts = DefaultBoosts
	}
	boostFor := func(field string) float64 {
		if b, ok := boosts[field]; ok {
			return b
		}
		return 1.0
	}

	var parts []query.Query
	switch {
	case ftq.Phrase:
		for _, field := range fields {
			mp := bleve.NewMatchPhraseQuery(text)
			mp.SetField(field)
			mp.SetBoost(boostFor(field))
			parts = append(parts, mp)
		}
	case utf8.RuneCountInString(text) == 1:
		// A single character produces no indexable term under the
		// bigram/length rules; match it as an infix wildcard.
		for _, field := range fields {
			w := bleve.NewWildcardQuery("*" + strings.ToLower(text) + "*")
			w.SetField(field)
			w.SetBoost(boostFor(field))
			parts = append(parts, w)
		}
	default:
		for _, field := range fields {
			mp := bleve.NewMatchPhraseQuery(text)
			mp.SetField(field)
			mp.SetBoost(boostFor(field) * 2)
			parts = append(parts, mp)

			m := bleve.NewMatchQuery(text)
			m.SetField(field)
			m.SetBoost(boostFor(field))
			parts = append(parts, m)

			w := bleve.NewWildcardQuery("*" + strings.ToLower(text) + "*")
			w.SetField(field)
			w.SetBoost(boostFor(field) * 0.5)
			parts = append(parts, w)
		}
	}
	main := bleve.NewDisjunctionQuery(parts...)

	if len(ftq.Filters) == 0 {
		return main
	}
	conj := []query.Query{main}
	for field, values := range ftq.Filters {
		var alts []query.Query
		for _, v := range values {
			if n, err := strconv.ParseFloat(v, 64); err == nil && isNumericField(field) {
				truth := true
				nq := bleve.NewNumericRangeInclusiveQuery(&n, &n, &truth, &truth)
				nq.SetField(field)
				alts = append(alts, nq)
				continue
			}
			tq := bleve.NewTermQuery(strings.ToLower(v))
			tq.SetField(field)
			alts = append(alts, tq)
		}
		if len(alts) > 0 {
			conj = append(conj, bleve.NewDisjunctionQuery(alts...))
		}
	}
	return bleve.NewConjunctionQuery(conj...)
}

func isNumericField(field string) bool {
	switch field {
	case "chunk_id", "file_id", "chunk_index", "start_position", "end_position", "content_length":
		return true
	}
	return false
}

func fieldInt64(fields map[string]any, name string) int64 {
	if v, ok := fields[name].(float64); ok {
		return int64(v)
	}
	return 0
}

// Suggest returns up to limit terms of field starting with prefix, from
// the index's term dictionary.
func (f *BleveIndex) Suggest(ctx context.Context, prefix, field string, limit int) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, fmt.Errorf("fulltext index is closed")
	}
	if prefix == "" || limit <= 0 {
		return []string{}, nil
	}
	if field == "" {
		field = "content"
	}

	dict, err := f.index.FieldDictPrefix(field, []byte(strings.ToLower(prefix)))
	if err != nil {
		return nil, fmt.Errorf("open field dictionary: %w", err)
	}
	defer dict.Close()

	var terms []string
	for len(terms) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var entry *index.DictEntry
		entry, err = dict.Next()
		if err != nil {
			return nil, fmt.Errorf("iterate field dictionary: %w", err)
		}
		if entry == nil {
			break
		}
		terms = append(terms, entry.Term)
	}
	return terms, nil
}

// Optimize force-merges scorch segments down to one.
func (f *BleveIndex) Optimize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("fulltext index is closed")
	}

	type forceMerger interface {
		ForceMerge(ctx context.Context, mo *mergeplan.MergePlanOptions) error
	}
	adv, err := f.index.Advanced()
	if err != nil {
		return loupeerr.IndexWrite("cannot access index internals", err)
	}
	if fm, ok := adv.(forceMerger); ok {
		if err := fm.ForceMerge(ctx, &mergeplan.SingleSegmentMergePlanOptions); err != nil {
			return loupeerr.IndexWrite("segment merge failed", err)
		}
	}
	return nil
}

// Rebuild builds a fresh index from docs and atomically swaps it in.
func (f *BleveIndex) Rebuild(ctx context.Context, docs []*FullTextDoc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("fulltext index is closed")
	}
	if f.path == "" {
		// In-memory: recreate in place.
		fresh, err := openBleve("", f.config, f.logger)
		if err != nil {
			return err
		}
		if err := addAll(ctx, fresh, docs); err != nil {
			_ = fresh.Close()
			return err
		}
		_ = f.index.Close()
		f.index = fresh
		return nil
	}

	buildPath := f.path + ".rebuild"
	if err := os.RemoveAll(buildPath); err != nil {
		return loupeerr.IndexWrite("cannot clear rebuild directory", err)
	}
	fresh, err := openBleve(buildPath, f.config, f.logger)
	if err != nil {
		return err
	}
	if err := addAll(ctx, fresh, docs); err != nil {
		_ = fresh.Close()
		_ = os.RemoveAll(buildPath)
		return err
	}
	if err := fresh.Close(); err != nil {
		return loupeerr.IndexWrite("cannot close rebuilt index", err)
	}

	if err := f.index.Close(); err != nil {
		f.logger.Warn("closing old fulltext index failed", slog.String("error", err.Error()))
	}
	if err := os.RemoveAll(f.path); err != nil {
		return loupeerr.IndexWrite("cannot remove old index directory", err)
	}
	if err := os.Rename(buildPath, f.path); err != nil {
		return loupeerr.IndexWrite("cannot install rebuilt index", err)
	}

	reopened, err := bleve.Open(f.path)
	if err != nil {
		return loupeerr.Fatal(loupeerr.ErrCodeCorruptIndex, "cannot reopen rebuilt index", err)
	}
	f.index = reopened
	return nil
}

func addAll(ctx context.Context, idx bleve.Index, docs []*FullTextDoc) error {
	const batchSize = 256
	batch := idx.NewBatch()
	for i, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := d.ID
		if id == "" {
			id = DocID(d.FileID, d.ChunkIndex)
		}
		if err := batch.Index(id, docFields(d)); err != nil {
			return loupeerr.IndexWrite(fmt.Sprintf("cannot stage document %s", id), err)
		}
		if (i+1)%batchSize == 0 {
			if err := idx.Batch(batch); err != nil {
				return loupeerr.IndexWrite("cannot commit rebuild batch", err)
			}
			batch = idx.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			return loupeerr.IndexWrite("cannot commit rebuild batch", err)
		}
	}
	return nil
}

// Count returns the number of documents.
func (f *BleveIndex) Count() (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return 0, fmt.Errorf("fulltext index is closed")
	}
	n, err := f.index.DocCount()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close closes the index.
func (f *BleveIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.index.Close()
}

// filenameTokenizerConstructor builds the bleve tokenizer for file names.
func filenameTokenizerConstructor(config map[string]any, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &filenameTokenizer{}, nil
}

type filenameTokenizer struct{}

// Tokenize splits file names on separators and camelCase boundaries,
// locating each token in the input for highlight support.
func (t *filenameTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := TokenizeFilename(text)

	stream := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)
		stream = append(stream, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return stream
}
