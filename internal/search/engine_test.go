package search

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loupehq/loupe/internal/embed"
	loupeerr "github.com/loupehq/loupe/internal/errors"
	"github.com/loupehq/loupe/internal/predict"
	"github.com/loupehq/loupe/internal/store"
)

const testDim = 64

type fixture struct {
	store    *store.SQLiteStore
	vector   *store.HNSWIndex
	fulltext *store.BleveIndex
	embedder embed.Embedder
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	meta, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	vec, err := store.NewHNSWIndex(filepath.Join(t.TempDir(), "file_index.bin"),
		store.VectorIndexConfig{Dim: testDim}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { vec.Close() })

	ft, err := store.NewBleveIndex("", store.FullTextConfig{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ft.Close() })

	emb := embed.NewStatic(testDim)
	eng, err := NewEngine(meta, vec, ft, emb, nil, nil, nil)
	require.NoError(t, err)

	return &fixture{store: meta, vector: vec, fulltext: ft, embedder: emb, engine: eng}
}

// seed indexes one file with the given chunk contents through the same
// transactional path the runner uses.
func (f *fixture) seed(t *testing.T, path string, fileType store.FileType, contents ...string) int64 {
	t.Helper()
	ctx := context.Background()

	now := time.Now()
	file := &store.File{
		Path:  path,
		Name:  filepath.Base(path),
		Ext:   filepath.Ext(path),
		Type:  fileType,
		Size:  int64(100 * len(contents)),
		MTime: now,
		CTime: now,
	}
	chunks := make([]*store.Chunk, len(contents))
	for i, content := range contents {
		chunks[i] = &store.Chunk{
			ChunkIndex:    i,
			Content:       content,
			ContentLength: len(content),
		}
	}

	fileID, err := f.store.IndexFileTx(ctx, file, chunks, func(fileID int64, chunkIDs []int64) error {
		vectors := make([][]float32, len(contents))
		meta := make([]store.VectorMeta, len(contents))
		docs := make([]*store.FullTextDoc, len(contents))
		for i, content := range contents {
			v, err := f.embedder.Embed(ctx, content)
			if err != nil {
				return err
			}
			vectors[i] = v
			meta[i] = store.VectorMeta{
				ChunkID:  chunkIDs[i],
				FileID:   fileID,
				FileName: file.Name,
				FilePath: file.Path,
				FileType: file.Type,
			}
			docs[i] = &store.FullTextDoc{
				ID:         store.DocID(fileID, i),
				ChunkID:    chunkIDs[i],
				FileID:     fileID,
				FileName:   file.Name,
				FilePath:   file.Path,
				FileType:   file.Type,
				Content:    content,
				ChunkIndex: i,
			}
		}
		if _, err := f.vector.Add(ctx, vectors, chunkIDs, meta); err != nil {
			return err
		}
		return f.fulltext.AddDocuments(ctx, docs)
	})
	require.NoError(t, err)
	return fileID
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	f := newFixture(t)

	_, err := NewEngine(nil, f.vector, f.fulltext, f.embedder, nil, nil, nil)
	require.Error(t, err)
	_, err = NewEngine(f.store, nil, f.fulltext, f.embedder, nil, nil, nil)
	require.Error(t, err)
	_, err = NewEngine(f.store, f.vector, nil, f.embedder, nil, nil, nil)
	require.Error(t, err)
	_, err = NewEngine(f.store, f.vector, f.fulltext, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Search(context.Background(), Request{Query: "   "})
	require.Error(t, err)
	assert.Equal(t, loupeerr.ErrCodeInvalidQuery, loupeerr.GetCode(err))
}

func TestSearchRejectsUnknownType(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Search(context.Background(), Request{Query: "x", Type: "fuzzy"})
	require.Error(t, err)
	assert.Equal(t, loupeerr.ErrCodeInvalidQuery, loupeerr.GetCode(err))
}

func TestFullTextSearchFindsKeyword(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/report.txt", store.FileTypeText,
		"The quarterly budget exceeded expectations this year.")
	f.seed(t, "/docs/recipe.txt", store.FileTypeText,
		"Mix flour and water until smooth.")

	resp, err := f.engine.Search(context.Background(), Request{
		Query: "budget", Type: TypeFullText,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "report.txt", resp.Results[0].FileName)
	assert.Equal(t, MatchFullText, resp.Results[0].MatchType)
	assert.Contains(t, resp.Results[0].PreviewText, "budget")
	assert.Empty(t, resp.Warning)
}

func TestSemanticSearchRanksSimilarContentFirst(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/plan.txt", store.FileTypeText,
		"annual financial planning and budget allocation")
	f.seed(t, "/docs/pets.txt", store.FileTypeText,
		"cats and dogs make wonderful companions")

	resp, err := f.engine.Search(context.Background(), Request{
		Query: "annual financial planning and budget allocation",
		Type:  TypeSemantic,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "plan.txt", resp.Results[0].FileName)
	assert.Equal(t, MatchSemantic, resp.Results[0].MatchType)
	// The identical text embeds to the identical vector.
	assert.InDelta(t, 1.0, resp.Results[0].RelevanceScore, 1e-3)
}

func TestHybridSearchBoostsDoubleMatches(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/notes.txt", store.FileTypeText,
		"team meeting notes about the launch schedule")

	resp, err := f.engine.Search(context.Background(), Request{
		Query: "meeting notes about the launch schedule",
		Type:  TypeHybrid,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, MatchHybrid, resp.Results[0].MatchType)
	// A normalized winner is clamped to 1.0 after the boost.
	assert.LessOrEqual(t, resp.Results[0].RelevanceScore, 1.0)
	assert.Greater(t, resp.Results[0].RelevanceScore, 0.0)
}

func TestHybridDegradesWhenEmbedderFails(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/report.txt", store.FileTypeText,
		"the zoning report covers three districts")

	eng, err := NewEngine(f.store, f.vector, f.fulltext, &failingEmbedder{}, nil, nil, nil)
	require.NoError(t, err)

	resp, err := eng.Search(context.Background(), Request{
		Query: "zoning report", Type: TypeHybrid,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, MatchFullText, resp.Results[0].MatchType)
	assert.NotEmpty(t, resp.Warning)
}

func TestSemanticSearchFailsWhenEmbedderFails(t *testing.T) {
	f := newFixture(t)

	eng, err := NewEngine(f.store, f.vector, f.fulltext, &failingEmbedder{}, nil, nil, nil)
	require.NoError(t, err)

	_, err = eng.Search(context.Background(), Request{Query: "x", Type: TypeSemantic})
	require.Error(t, err)
}

func TestSearchGroupsChunksByFile(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/long.txt", store.FileTypeText,
		"the migration plan covers the database servers",
		"a second migration phase moves the cache servers",
		"unrelated closing remarks and acknowledgements")

	resp, err := f.engine.Search(context.Background(), Request{
		Query: "migration servers", Type: TypeFullText,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1, resp.Total)
}

func TestSearchFileTypeFilter(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/spec.txt", store.FileTypeText, "the elephant walked across the savanna")
	f.seed(t, "/docs/spec.pdf", store.FileTypePDF, "the elephant walked across the savanna")

	resp, err := f.engine.Search(context.Background(), Request{
		Query: "elephant", Type: TypeFullText, FileTypes: []string{"pdf"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, store.FileTypePDF, resp.Results[0].FileType)
}

func TestSearchPagination(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		f.seed(t, "/docs/"+name+".txt", store.FileTypeText,
			"the keyword anchovy appears in "+name)
	}

	page1, err := f.engine.Search(context.Background(), Request{
		Query: "anchovy", Type: TypeFullText, Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, page1.Results, 2)
	assert.Equal(t, 5, page1.Total)

	page2, err := f.engine.Search(context.Background(), Request{
		Query: "anchovy", Type: TypeFullText, Limit: 2, Offset: 2,
	})
	require.NoError(t, err)
	require.Len(t, page2.Results, 2)
	assert.NotEqual(t, page1.Results[0].FileID, page2.Results[0].FileID)

	beyond, err := f.engine.Search(context.Background(), Request{
		Query: "anchovy", Type: TypeFullText, Limit: 2, Offset: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, beyond.Results)
	assert.Equal(t, 5, beyond.Total)
}

func TestSearchEmptyIndex(t *testing.T) {
	f := newFixture(t)

	resp, err := f.engine.Search(context.Background(), Request{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.Total)
}

func TestSemanticThresholdFiltersWeakMatches(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/pets.txt", store.FileTypeText,
		"cats and dogs make wonderful companions")

	resp, err := f.engine.Search(context.Background(), Request{
		Query:     "orbital mechanics of interplanetary transfer windows",
		Type:      TypeSemantic,
		Threshold: 0.95,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestMultimodalVoiceSearch(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/budget.txt", store.FileTypeText,
		"the quarterly budget exceeded expectations")

	eng, err := NewEngine(f.store, f.vector, f.fulltext, f.embedder,
		&fakeSpeech{text: "quarterly budget", confidence: 0.92}, nil, nil)
	require.NoError(t, err)

	resp, err := eng.MultimodalSearch(context.Background(), MultimodalRequest{
		InputType: InputVoice,
		Payload:   []byte("RIFF fake wav"),
		Type:      TypeFullText,
	})
	require.NoError(t, err)
	assert.Equal(t, "quarterly budget", resp.ConvertedText)
	assert.InDelta(t, 0.92, resp.Confidence, 1e-9)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "budget.txt", resp.Results[0].FileName)
}

func TestMultimodalImageSearchJoinsOCR(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/invoice.txt", store.FileTypeText,
		"invoice number 2024 for consulting services")

	eng, err := NewEngine(f.store, f.vector, f.fulltext, f.embedder, nil,
		&fakeVision{caption: "a printed invoice", ocr: []string{"invoice", "2024"}, confidence: 0.8}, nil)
	require.NoError(t, err)

	resp, err := eng.MultimodalSearch(context.Background(), MultimodalRequest{
		InputType: InputImage,
		Payload:   []byte{0x89, 'P', 'N', 'G'},
		Type:      TypeFullText,
	})
	require.NoError(t, err)
	assert.Equal(t, "a printed invoice invoice 2024", resp.ConvertedText)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "invoice.txt", resp.Results[0].FileName)
}

func TestMultimodalWithoutPredictorFails(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.MultimodalSearch(context.Background(), MultimodalRequest{
		InputType: InputVoice,
		Payload:   []byte("audio"),
	})
	require.Error(t, err)
	assert.Equal(t, loupeerr.ErrCodePredictorUnavailable, loupeerr.GetCode(err))

	_, err = f.engine.MultimodalSearch(context.Background(), MultimodalRequest{
		InputType: InputImage,
		Payload:   []byte("image"),
	})
	require.Error(t, err)
	assert.Equal(t, loupeerr.ErrCodePredictorUnavailable, loupeerr.GetCode(err))
}

func TestMultimodalEmptyPayload(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.MultimodalSearch(context.Background(), MultimodalRequest{
		InputType: InputVoice,
	})
	require.Error(t, err)
	assert.Equal(t, loupeerr.ErrCodeInvalidInput, loupeerr.GetCode(err))
}

func TestMultimodalEmptyTranscript(t *testing.T) {
	f := newFixture(t)

	eng, err := NewEngine(f.store, f.vector, f.fulltext, f.embedder,
		&fakeSpeech{text: "  "}, nil, nil)
	require.NoError(t, err)

	_, err = eng.MultimodalSearch(context.Background(), MultimodalRequest{
		InputType: InputVoice,
		Payload:   []byte("audio"),
	})
	require.Error(t, err)
	assert.Equal(t, loupeerr.ErrCodeInvalidQuery, loupeerr.GetCode(err))
}

func TestPreviewTruncation(t *testing.T) {
	long := strings.Repeat("word ", 100)
	p := preview(long, previewLength)
	assert.LessOrEqual(t, len([]rune(p)), previewLength+1)
	assert.True(t, strings.HasSuffix(p, "…"))

	short := "just a note"
	assert.Equal(t, short, preview(short, previewLength))
}

func TestHighlightCentersOnQuery(t *testing.T) {
	content := strings.Repeat("padding before the match ", 20) +
		"the elusive TARGET word" +
		strings.Repeat(" padding after the match", 20)

	h := highlight(content, "target", "")
	assert.Contains(t, h, "TARGET")
	assert.True(t, strings.HasPrefix(h, "…"))
	assert.True(t, strings.HasSuffix(h, "…"))
}

func TestHighlightFallsBackToMatchedTerm(t *testing.T) {
	content := strings.Repeat("filler text goes here ", 20) +
		"budgeting season opens" +
		strings.Repeat(" more filler text", 20)

	h := highlight(content, "fiscal budgeting", "budgeting")
	assert.Contains(t, h, "budgeting")
}

func TestHighlightCollapsesWhitespace(t *testing.T) {
	h := highlight("line one\n\n\tline   two", "line", "")
	assert.Equal(t, "line one line two", h)
}

// failingEmbedder always errors, standing in for a down embedding service.
type failingEmbedder struct{}

func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service down")
}

func (f *failingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embedding service down")
}

func (f *failingEmbedder) Dimensions() int             { return testDim }
func (f *failingEmbedder) ModelName() string           { return "failing" }
func (f *failingEmbedder) Available(context.Context) bool { return false }
func (f *failingEmbedder) Close() error                { return nil }

type fakeSpeech struct {
	text       string
	confidence float64
}

func (f *fakeSpeech) Transcribe(context.Context, []byte) (*predict.Transcript, error) {
	return &predict.Transcript{Text: f.text, Confidence: f.confidence}, nil
}
func (f *fakeSpeech) Available(context.Context) bool { return true }
func (f *fakeSpeech) Close() error                   { return nil }

type fakeVision struct {
	caption    string
	ocr        []string
	confidence float64
}

func (f *fakeVision) Describe(context.Context, []byte) (*predict.Description, error) {
	lines := make([]predict.OCRLine, len(f.ocr))
	for i, text := range f.ocr {
		lines[i] = predict.OCRLine{Text: text, Confidence: 0.9}
	}
	return &predict.Description{Caption: f.caption, Confidence: f.confidence, OCRLines: lines}, nil
}
func (f *fakeVision) Available(context.Context) bool { return true }
func (f *fakeVision) Close() error                   { return nil }
