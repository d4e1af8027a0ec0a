package index

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Taichi-iskw/transcript-index/internal/errors"
	"github.com/Taichi-iskw/transcript-index/internal/logger"
	"github.com/Taichi-iskw/transcript-index/internal/model"
)

const (
	dbFile      = "index.db"
	maxSources  = 3
	excerptSize = 240
	noAnswer    = "No relevant transcripts found."
)

// documentRecord is one indexed transcript
type documentRecord struct {
	ID        string `gorm:"primaryKey;size:255"`
	Text      string `gorm:"type:text;not null"`
	Metadata  string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (documentRecord) TableName() string { return "documents" }

// indexMeta is a single row describing the last persist
type indexMeta struct {
	ID            uint `gorm:"primaryKey"`
	DocumentCount int64
	PersistedAt   *time.Time
}

func (indexMeta) TableName() string { return "index_meta" }

const metaID = 1

// localEngine stores documents in <dir>/index.db and ranks them by term overlap.
// Ranking stands in for an embedding engine; callers only rely on the Engine contract.
type localEngine struct {
	log *logger.Logger
}

// NewLocalEngine creates the sqlite-backed engine
func NewLocalEngine(log *logger.Logger) Engine {
	if log == nil {
		log = logger.Discard()
	}
	return &localEngine{log: log.With("component", "index")}
}

func open(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
}

func (e *localEngine) Load(ctx context.Context, dir string) (Index, error) {
	path := filepath.Join(dir, dbFile)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, errors.CodeIndex, "failed to stat index")
	}

	db, err := open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIndex, "failed to open index")
	}
	idx := &localIndex{db: db, dir: filepath.Clean(dir)}

	if !db.Migrator().HasTable(&indexMeta{}) || !db.Migrator().HasTable(&documentRecord{}) {
		idx.Close()
		return nil, ErrNotFound
	}
	var meta indexMeta
	err = db.WithContext(ctx).Where("id = ? AND persisted_at IS NOT NULL", metaID).Take(&meta).Error
	if err != nil {
		idx.Close()
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, errors.CodeIndex, "failed to read index metadata")
	}

	e.log.WithField("documents", meta.DocumentCount).Debug("loaded index")
	return idx, nil
}

func (e *localEngine) BuildFromDocuments(ctx context.Context, docs []model.Document, dir string) (Index, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, errors.CodeIndex, "failed to create index directory")
	}
	db, err := open(filepath.Join(dir, dbFile))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIndex, "failed to open index")
	}
	idx := &localIndex{db: db, dir: filepath.Clean(dir)}

	if err := db.AutoMigrate(&documentRecord{}, &indexMeta{}); err != nil {
		idx.Close()
		return nil, errors.Wrap(err, errors.CodeIndex, "failed to migrate index")
	}

	records := make([]documentRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := toRecord(doc)
		if err != nil {
			idx.Close()
			return nil, err
		}
		records = append(records, rec)
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&documentRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&indexMeta{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(records, 100).Error
	})
	if err != nil {
		idx.Close()
		return nil, errors.Wrap(err, errors.CodeIndex, "failed to build index")
	}

	e.log.WithField("documents", len(records)).Info("built index from documents")
	return idx, nil
}

func toRecord(doc model.Document) (documentRecord, error) {
	if doc.ID == "" {
		return documentRecord{}, errors.New(errors.CodeInvalidArg, "document id is required")
	}
	meta := ""
	if len(doc.Metadata) > 0 {
		data, err := json.Marshal(doc.Metadata)
		if err != nil {
			return documentRecord{}, errors.Wrap(err, errors.CodeInternal, "failed to encode metadata")
		}
		meta = string(data)
	}
	return documentRecord{ID: doc.ID, Text: doc.Text, Metadata: meta}, nil
}

// localIndex is an open index.db. sqlite allows one writer, so writes hold mu.
type localIndex struct {
	mu  sync.Mutex
	db  *gorm.DB
	dir string
}

func (i *localIndex) Insert(ctx context.Context, doc model.Document) error {
	rec, err := toRecord(doc)
	if err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	err = i.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"text", "metadata", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return errors.Wrap(err, errors.CodeIndex, "failed to insert document "+doc.ID)
	}
	return nil
}

// Persist records the document count. Persisting to another dir writes a copy there.
func (i *localIndex) Persist(ctx context.Context, dir string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var count int64
	if err := i.db.WithContext(ctx).Model(&documentRecord{}).Count(&count).Error; err != nil {
		return errors.Wrap(err, errors.CodeIndex, "failed to count documents")
	}
	now := time.Now().UTC()
	meta := indexMeta{ID: metaID, DocumentCount: count, PersistedAt: &now}
	err := i.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"document_count", "persisted_at"}),
	}).Create(&meta).Error
	if err != nil {
		return errors.Wrap(err, errors.CodeIndex, "failed to persist index")
	}

	if filepath.Clean(dir) == i.dir {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, errors.CodeIndex, "failed to create index directory")
	}
	dest := filepath.Join(dir, dbFile)
	os.Remove(dest)
	if err := i.db.WithContext(ctx).Exec("VACUUM INTO ?", dest).Error; err != nil {
		return errors.Wrap(err, errors.CodeIndex, "failed to copy index to "+dir)
	}
	return nil
}

type scored struct {
	rec     documentRecord
	matched int
	hits    int
}

// Query ranks documents by how many distinct query terms they contain
func (i *localIndex) Query(ctx context.Context, text string) (model.Answer, error) {
	terms := tokenize(text)
	if len(terms) == 0 {
		return model.Answer{}, errors.New(errors.CodeInvalidArg, "query has no searchable terms")
	}

	var records []documentRecord
	if err := i.db.WithContext(ctx).Order("id").Find(&records).Error; err != nil {
		return model.Answer{}, errors.Wrap(err, errors.CodeIndex, "failed to read documents")
	}

	var ranked []scored
	for _, rec := range records {
		counts := termCounts(rec.Text)
		s := scored{rec: rec}
		for _, term := range terms {
			if n := counts[term]; n > 0 {
				s.matched++
				s.hits += n
			}
		}
		if s.matched > 0 {
			ranked = append(ranked, s)
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].matched != ranked[b].matched {
			return ranked[a].matched > ranked[b].matched
		}
		return ranked[a].hits > ranked[b].hits
	})
	if len(ranked) > maxSources {
		ranked = ranked[:maxSources]
	}

	answer := model.Answer{Sources: []model.AnswerSource{}}
	if len(ranked) == 0 {
		answer.Text = noAnswer
		return answer, nil
	}

	excerpts := make([]string, 0, len(ranked))
	for _, s := range ranked {
		ex := excerpt(s.rec.Text, terms)
		excerpts = append(excerpts, ex)
		answer.Sources = append(answer.Sources, model.AnswerSource{
			DocumentID: s.rec.ID,
			Score:      float64(s.matched) / float64(len(terms)),
			Excerpt:    ex,
		})
	}
	answer.Text = strings.Join(excerpts, "\n\n")
	return answer, nil
}

func (i *localIndex) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return errors.Wrap(err, errors.CodeIndex, "failed to close index")
	}
	return sqlDB.Close()
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"did": true, "do": true, "does": true, "for": true, "how": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "the": true, "to": true, "was": true,
	"we": true, "what": true, "when": true, "who": true, "why": true, "with": true,
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenize returns distinct non-stopword terms in order of appearance
func tokenize(text string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, w := range splitWords(text) {
		if len(w) < 2 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

func termCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, w := range splitWords(text) {
		counts[w]++
	}
	return counts
}

// firstMatch returns the byte offset in text of the first word equal to a term, or -1.
// Offsets come from text itself; lowercasing can change byte lengths.
func firstMatch(text string, terms []string) int {
	want := make(map[string]bool, len(terms))
	for _, term := range terms {
		want[term] = true
	}
	wordStart := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if wordStart < 0 {
				wordStart = i
			}
			continue
		}
		if wordStart >= 0 && want[strings.ToLower(text[wordStart:i])] {
			return wordStart
		}
		wordStart = -1
	}
	if wordStart >= 0 && want[strings.ToLower(text[wordStart:])] {
		return wordStart
	}
	return -1
}

// excerpt returns a window of text around the first matching term
func excerpt(text string, terms []string) string {
	pos := firstMatch(text, terms)
	if pos < 0 {
		pos = 0
	}

	start := pos - excerptSize/4
	if start < 0 {
		start = 0
	}
	if start > len(text) {
		start = len(text)
	}
	end := start + excerptSize
	if end > len(text) {
		end = len(text)
	}
	// keep rune boundaries
	for start > 0 && start < len(text) && !isRuneStart(text[start]) {
		start--
	}
	for end < len(text) && !isRuneStart(text[end]) {
		end++
	}

	ex := strings.TrimSpace(text[start:end])
	if start > 0 {
		ex = "..." + ex
	}
	if end < len(text) {
		ex += "..."
	}
	return ex
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
