package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/policygraph/clause"
)

func init() {
	sqlite_vec.Auto()
}

// ErrNotFound is returned when a version or node does not exist.
var ErrNotFound = errors.New("store: not found")

// Version represents a row in the versions table: one ingested edition of
// a policy product.
type Version struct {
	ID          string `json:"id"`
	ProductCode string `json:"product_code,omitempty"`
	ProductName string `json:"product_name,omitempty"`
	SourcePath  string `json:"source_path,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	Status      string `json:"status"`
	Stats       string `json:"stats,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Node is an Article, Paragraph or Item row. Title, ClauseType and
// SectionPath are only set for articles.
type Node struct {
	Row         int64      `json:"-"`
	VersionID   string     `json:"version_id"`
	Ref         clause.Ref `json:"ref"`
	Number      int        `json:"number"`
	Title       string     `json:"title,omitempty"`
	Text        string     `json:"text"`
	ClauseType  string     `json:"clause_type,omitempty"`
	SectionPath string     `json:"section_path,omitempty"`
}

// ScoredNode is a node with its similarity to a query vector.
type ScoredNode struct {
	Node
	Score float64 `json:"score"`
}

// Edge is a REFERS_TO edge with its target resolved to a node.
type Edge struct {
	Source clause.Ref `json:"source"`
	Target Node       `json:"target"`
}

// QueryLog represents a row in the query_log table.
type QueryLog struct {
	RequestID       string
	Query           string
	VersionID       string
	Found           bool
	SelectedArticle string
	Reason          string
	Rationale       string
	Fallback        bool
	Candidates      int
	Answer          string
	ModelUsed       string
	Elapsed         time.Duration
}

// Store wraps the SQLite database holding the policy graph.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec tables.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Readers run concurrently under WAL; writes serialise on the busy timeout.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Version operations ---

// UpsertVersion inserts or updates a version record.
func (s *Store) UpsertVersion(ctx context.Context, v Version) error {
	if v.Status == "" {
		v.Status = "pending"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO versions (id, product_code, product_name, source_path, content_hash, status, stats)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			product_code = excluded.product_code,
			product_name = excluded.product_name,
			source_path = excluded.source_path,
			content_hash = excluded.content_hash,
			status = excluded.status,
			stats = COALESCE(excluded.stats, versions.stats),
			updated_at = CURRENT_TIMESTAMP
	`, v.ID, v.ProductCode, v.ProductName, v.SourcePath, v.ContentHash, v.Status, nullString(v.Stats))
	if err != nil {
		return fmt.Errorf("store.UpsertVersion %s: %w", v.ID, err)
	}
	return nil
}

const versionColumns = `id, product_code, product_name, source_path, content_hash, status, stats, created_at, updated_at`

func scanVersion(sc interface{ Scan(...any) error }) (*Version, error) {
	v := &Version{}
	var stats sql.NullString
	if err := sc.Scan(&v.ID, &v.ProductCode, &v.ProductName, &v.SourcePath,
		&v.ContentHash, &v.Status, &stats, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.Stats = stats.String
	return v, nil
}

// GetVersion retrieves a version by id.
func (s *Store) GetVersion(ctx context.Context, id string) (*Version, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %s: %w", id, ErrNotFound)
	}
	return v, err
}

// GetVersionByPath retrieves the most recent version ingested from path.
func (s *Store) GetVersionByPath(ctx context.Context, path string) (*Version, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE source_path = ? ORDER BY updated_at DESC LIMIT 1", path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version for %s: %w", path, ErrNotFound)
	}
	return v, err
}

// ListVersions returns all versions, newest first.
func (s *Store) ListVersions(ctx context.Context) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+versionColumns+" FROM versions ORDER BY created_at DESC, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// UpdateVersionStatus sets the status and, when non-empty, the stats JSON.
func (s *Store) UpdateVersionStatus(ctx context.Context, id, status, stats string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE versions SET status = ?, stats = COALESCE(?, stats), updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, nullString(stats), id)
	return err
}

// DeleteVersion removes a version and every node, edge and vector it owns.
func (s *Store) DeleteVersion(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := clearVersion(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM versions WHERE id = ?", id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("version %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// ClearVersion removes the nodes, edges and vectors of a version but keeps
// the version row, ready for a forced re-ingest.
func (s *Store) ClearVersion(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return clearVersion(ctx, tx, id)
	})
}

func clearVersion(ctx context.Context, tx *sql.Tx, id string) error {
	// vec0 tables sit outside foreign-key cascades.
	for _, stmt := range []string{
		"DELETE FROM vec_items WHERE node_id IN (SELECT id FROM items WHERE version_id = ?)",
		"DELETE FROM vec_paragraphs WHERE node_id IN (SELECT id FROM paragraphs WHERE version_id = ?)",
		"DELETE FROM vec_articles WHERE node_id IN (SELECT id FROM articles WHERE version_id = ?)",
		"DELETE FROM refers_to WHERE version_id = ?",
		"DELETE FROM items WHERE version_id = ?",
		"DELETE FROM paragraphs WHERE version_id = ?",
		"DELETE FROM articles WHERE version_id = ?",
		"DELETE FROM special_sections WHERE version_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("clearing version %s: %w", id, err)
		}
	}
	return nil
}

// --- Node writes ---

// UpsertSpecialSection records a special section of a version and returns
// its row id.
func (s *Store) UpsertSpecialSection(ctx context.Context, versionID, name string) (int64, error) {
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO special_sections (version_id, name) VALUES (?, ?)",
		versionID, name); err != nil {
		return 0, fmt.Errorf("store.UpsertSpecialSection %s: %w", name, err)
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM special_sections WHERE version_id = ? AND name = ?",
		versionID, name).Scan(&id)
	return id, err
}

// ArticleRecord is the write shape of an article node.
type ArticleRecord struct {
	ID          string
	Number      int
	Title       string
	Text        string
	ClauseType  string
	SectionID   int64
	SectionPath string
	Position    int
}

// UpsertArticle writes an article node keyed by (version, article id) and
// returns its row id.
func (s *Store) UpsertArticle(ctx context.Context, versionID string, a ArticleRecord) (int64, error) {
	var section any
	if a.SectionID > 0 {
		section = a.SectionID
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO articles (version_id, article_id, number, title, text, clause_type, section_id, section_path, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(version_id, article_id) DO UPDATE SET
			number = excluded.number,
			title = excluded.title,
			text = excluded.text,
			clause_type = excluded.clause_type,
			section_id = excluded.section_id,
			section_path = excluded.section_path,
			position = excluded.position
		RETURNING id
	`, versionID, a.ID, a.Number, a.Title, a.Text, a.ClauseType, section, a.SectionPath, a.Position).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store.UpsertArticle %s: %w", a.ID, err)
	}
	return id, nil
}

// UpsertParagraph writes a paragraph node under its article row.
func (s *Store) UpsertParagraph(ctx context.Context, versionID string, articleRow int64, p clause.Paragraph) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO paragraphs (article_row, version_id, paragraph_id, number, text, synthetic)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(version_id, paragraph_id) DO UPDATE SET
			article_row = excluded.article_row,
			number = excluded.number,
			text = excluded.text,
			synthetic = excluded.synthetic
		RETURNING id
	`, articleRow, versionID, p.ID, p.Number, p.Text, p.Synthetic).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store.UpsertParagraph %s: %w", p.ID, err)
	}
	return id, nil
}

// UpsertItem writes an item node under its paragraph row.
func (s *Store) UpsertItem(ctx context.Context, versionID string, paragraphRow int64, it clause.Item) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO items (paragraph_row, version_id, item_id, number, text)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(version_id, item_id) DO UPDATE SET
			paragraph_row = excluded.paragraph_row,
			number = excluded.number,
			text = excluded.text
		RETURNING id
	`, paragraphRow, versionID, it.ID, it.Number, it.Text).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store.UpsertItem %s: %w", it.ID, err)
	}
	return id, nil
}

// InsertReference records a REFERS_TO edge. The edge is only created when
// both ends exist in the version; a repeated pair is a no-op. It reports
// whether a new edge was written.
func (s *Store) InsertReference(ctx context.Context, versionID string, source, target clause.Ref) (bool, error) {
	if source.Kind == clause.KindArticle {
		return false, fmt.Errorf("store.InsertReference: article %s cannot be a reference source", source.ID)
	}
	st, ok1 := nodeTables[source.Kind]
	tt, ok2 := nodeTables[target.Kind]
	if !ok1 || !ok2 {
		return false, fmt.Errorf("store.InsertReference: invalid kinds %s -> %s", source, target)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO refers_to (version_id, source_kind, source_id, target_kind, target_id)
		SELECT ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM `+st.table+` WHERE version_id = ? AND `+st.idCol+` = ?)
		  AND EXISTS (SELECT 1 FROM `+tt.table+` WHERE version_id = ? AND `+tt.idCol+` = ?)
	`, versionID, source.Kind.String(), source.ID, target.Kind.String(), target.ID,
		versionID, source.ID, versionID, target.ID)
	if err != nil {
		return false, fmt.Errorf("store.InsertReference %s -> %s: %w", source, target, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetEmbedding stores the vector of a node row.
func (s *Store) SetEmbedding(ctx context.Context, kind clause.Kind, row int64, embedding []float32) error {
	t, ok := nodeTables[kind]
	if !ok {
		return fmt.Errorf("store.SetEmbedding: invalid kind %d", kind)
	}
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("store.SetEmbedding: dimension %d, want %d", len(embedding), s.embeddingDim)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+t.vecTable+" WHERE node_id = ?", row); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO "+t.vecTable+" (node_id, embedding) VALUES (?, ?)",
			row, serializeFloat32(embedding))
		return err
	})
}

// --- Node reads ---

type nodeTable struct {
	table    string
	idCol    string
	vecTable string
	extra    string // title, clause_type, section_path
}

var nodeTables = map[clause.Kind]nodeTable{
	clause.KindArticle:   {"articles", "article_id", "vec_articles", "n.title, n.clause_type, n.section_path"},
	clause.KindParagraph: {"paragraphs", "paragraph_id", "vec_paragraphs", "'', '', ''"},
	clause.KindItem:      {"items", "item_id", "vec_items", "'', '', ''"},
}

func nodeColumns(kind clause.Kind) string {
	t := nodeTables[kind]
	return "n.id, n.version_id, n." + t.idCol + ", n.number, " + t.extra + ", n.text"
}

func nodeSelect(kind clause.Kind) string {
	return "SELECT " + nodeColumns(kind) + " FROM " + nodeTables[kind].table + " n"
}

func scanNode(kind clause.Kind, sc interface{ Scan(...any) error }, extra ...any) (Node, error) {
	n := Node{Ref: clause.Ref{Kind: kind}}
	dest := append([]any{&n.Row, &n.VersionID, &n.Ref.ID, &n.Number,
		&n.Title, &n.ClauseType, &n.SectionPath, &n.Text}, extra...)
	err := sc.Scan(dest...)
	return n, err
}

// GetNode loads one node of a version.
func (s *Store) GetNode(ctx context.Context, versionID string, ref clause.Ref) (*Node, error) {
	t, ok := nodeTables[ref.Kind]
	if !ok {
		return nil, fmt.Errorf("store.GetNode: invalid kind %d", ref.Kind)
	}
	n, err := scanNode(ref.Kind, s.db.QueryRowContext(ctx,
		nodeSelect(ref.Kind)+" WHERE n.version_id = ? AND n."+t.idCol+" = ?", versionID, ref.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s in %s: %w", ref, versionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetNode %s: %w", ref, err)
	}
	return &n, nil
}

// OwningArticle resolves the article a node belongs to: the node itself
// for an article, one hop up for a paragraph, two hops up for an item.
func (s *Store) OwningArticle(ctx context.Context, versionID string, ref clause.Ref) (*Node, error) {
	var query string
	switch ref.Kind {
	case clause.KindArticle:
		return s.GetNode(ctx, versionID, ref)
	case clause.KindParagraph:
		query = nodeSelect(clause.KindArticle) + `
			JOIN paragraphs p ON p.article_row = n.id
			WHERE p.version_id = ? AND p.paragraph_id = ?`
	case clause.KindItem:
		query = nodeSelect(clause.KindArticle) + `
			JOIN paragraphs p ON p.article_row = n.id
			JOIN items i ON i.paragraph_row = p.id
			WHERE i.version_id = ? AND i.item_id = ?`
	default:
		return nil, fmt.Errorf("store.OwningArticle: invalid kind %d", ref.Kind)
	}
	n, err := scanNode(clause.KindArticle, s.db.QueryRowContext(ctx, query, versionID, ref.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("owner of %s in %s: %w", ref, versionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store.OwningArticle %s: %w", ref, err)
	}
	return &n, nil
}

// ListArticles returns the articles of a version in document order.
func (s *Store) ListArticles(ctx context.Context, versionID string) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx,
		nodeSelect(clause.KindArticle)+" WHERE n.version_id = ? ORDER BY n.position, n.id", versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		n, err := scanNode(clause.KindArticle, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ScoreNodes scores every embedded node of one label against query with
// the dot product and returns the best k, highest first. An empty
// versionID scores across all versions.
func (s *Store) ScoreNodes(ctx context.Context, kind clause.Kind, query []float32, k int, versionID string) ([]ScoredNode, error) {
	t, ok := nodeTables[kind]
	if !ok {
		return nil, fmt.Errorf("store.ScoreNodes: invalid kind %d", kind)
	}
	if len(query) != s.embeddingDim {
		return nil, fmt.Errorf("store.ScoreNodes: query dimension %d, want %d", len(query), s.embeddingDim)
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+nodeColumns(kind)+", v.embedding FROM "+t.table+` n
		JOIN `+t.vecTable+` v ON v.node_id = n.id
		WHERE (? = '' OR n.version_id = ?)`, versionID, versionID)
	if err != nil {
		return nil, fmt.Errorf("store.ScoreNodes %s: %w", kind, err)
	}
	defer rows.Close()

	var scored []ScoredNode
	for rows.Next() {
		var blob []byte
		n, err := scanNode(kind, rows, &blob)
		if err != nil {
			return nil, err
		}
		scored = append(scored, ScoredNode{Node: n, Score: Dot(query, deserializeFloat32(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// ArticleReferences returns the REFERS_TO edges leaving the paragraphs and
// then the items of an article, each group in document order.
func (s *Store) ArticleReferences(ctx context.Context, versionID, articleID string) ([]Edge, error) {
	queries := []string{`
		SELECT r.source_kind, r.source_id, r.target_kind, r.target_id
		FROM refers_to r
		JOIN paragraphs p ON p.version_id = r.version_id AND p.paragraph_id = r.source_id
		JOIN articles a ON a.id = p.article_row
		WHERE r.source_kind = 'paragraph' AND a.version_id = ? AND a.article_id = ?
		ORDER BY p.id, r.rowid`, `
		SELECT r.source_kind, r.source_id, r.target_kind, r.target_id
		FROM refers_to r
		JOIN items i ON i.version_id = r.version_id AND i.item_id = r.source_id
		JOIN paragraphs p ON p.id = i.paragraph_row
		JOIN articles a ON a.id = p.article_row
		WHERE r.source_kind = 'item' AND a.version_id = ? AND a.article_id = ?
		ORDER BY i.id, r.rowid`,
	}

	var raw [][2]clause.Ref
	for _, q := range queries {
		rows, err := s.db.QueryContext(ctx, q, versionID, articleID)
		if err != nil {
			return nil, fmt.Errorf("store.ArticleReferences %s: %w", articleID, err)
		}
		for rows.Next() {
			var sk, sid, tk, tid string
			if err := rows.Scan(&sk, &sid, &tk, &tid); err != nil {
				rows.Close()
				return nil, err
			}
			src, err1 := clause.ParseKind(sk)
			dst, err2 := clause.ParseKind(tk)
			if err := errors.Join(err1, err2); err != nil {
				rows.Close()
				return nil, err
			}
			raw = append(raw, [2]clause.Ref{{Kind: src, ID: sid}, {Kind: dst, ID: tid}})
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	edges := make([]Edge, 0, len(raw))
	for _, r := range raw {
		target, err := s.GetNode(ctx, versionID, r[1])
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		edges = append(edges, Edge{Source: r[0], Target: *target})
	}
	return edges, nil
}

// --- Query log ---

// LogQuery records one retrieval.
func (s *Store) LogQuery(ctx context.Context, q QueryLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_log (request_id, query, version_id, found, selected_article, reason,
			rationale, fallback, candidates, answer, model_used, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.RequestID, q.Query, q.VersionID, q.Found, q.SelectedArticle, q.Reason,
		q.Rationale, q.Fallback, q.Candidates, q.Answer, q.ModelUsed, q.Elapsed.Milliseconds())
	return err
}

// --- Stats ---

// DBStats holds row counts of the graph tables.
type DBStats struct {
	Versions   int `json:"versions"`
	Articles   int `json:"articles"`
	Paragraphs int `json:"paragraphs"`
	Items      int `json:"items"`
	References int `json:"references"`
	Embeddings int `json:"embeddings"`
	Queries    int `json:"queries"`
}

// DBStats returns counts of versions, nodes, edges, embeddings and logged queries.
func (s *Store) DBStats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	var vecArticles, vecParagraphs, vecItems int
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM versions", &stats.Versions},
		{"SELECT COUNT(*) FROM articles", &stats.Articles},
		{"SELECT COUNT(*) FROM paragraphs", &stats.Paragraphs},
		{"SELECT COUNT(*) FROM items", &stats.Items},
		{"SELECT COUNT(*) FROM refers_to", &stats.References},
		{"SELECT COUNT(*) FROM vec_articles", &vecArticles},
		{"SELECT COUNT(*) FROM vec_paragraphs", &vecParagraphs},
		{"SELECT COUNT(*) FROM vec_items", &vecItems},
		{"SELECT COUNT(*) FROM query_log", &stats.Queries},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	stats.Embeddings = vecArticles + vecParagraphs + vecItems
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Dot returns the dot product of a and b over their common length.
func Dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 is the inverse of serializeFloat32.
func deserializeFloat32(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
