package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// dimension of the per-label vec0 virtual tables.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Policy versions with hash-based change detection
CREATE TABLE IF NOT EXISTS versions (
    id TEXT PRIMARY KEY,
    product_code TEXT NOT NULL DEFAULT '',
    product_name TEXT NOT NULL DEFAULT '',
    source_path TEXT NOT NULL DEFAULT '',
    content_hash TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    stats JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Special sections (riders) grouping articles of a version
CREATE TABLE IF NOT EXISTS special_sections (
    id INTEGER PRIMARY KEY,
    version_id TEXT NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    UNIQUE(version_id, name)
);

-- Article nodes (HAS_ARTICLE from the version)
CREATE TABLE IF NOT EXISTS articles (
    id INTEGER PRIMARY KEY,
    version_id TEXT NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
    article_id TEXT NOT NULL,
    number INTEGER NOT NULL,
    title TEXT NOT NULL,
    text TEXT NOT NULL,
    clause_type TEXT NOT NULL DEFAULT '',
    section_id INTEGER REFERENCES special_sections(id) ON DELETE SET NULL,
    section_path TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    UNIQUE(version_id, article_id)
);

-- Paragraph nodes (HAS_PARAGRAPH from the article)
CREATE TABLE IF NOT EXISTS paragraphs (
    id INTEGER PRIMARY KEY,
    article_row INTEGER NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
    version_id TEXT NOT NULL,
    paragraph_id TEXT NOT NULL,
    number INTEGER NOT NULL,
    text TEXT NOT NULL,
    synthetic INTEGER NOT NULL DEFAULT 0,
    UNIQUE(version_id, paragraph_id)
);

-- Item nodes (HAS_ITEM from the paragraph)
CREATE TABLE IF NOT EXISTS items (
    id INTEGER PRIMARY KEY,
    paragraph_row INTEGER NOT NULL REFERENCES paragraphs(id) ON DELETE CASCADE,
    version_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    number INTEGER NOT NULL,
    text TEXT NOT NULL,
    UNIQUE(version_id, item_id)
);

-- REFERS_TO edges, at most one per ordered pair
CREATE TABLE IF NOT EXISTS refers_to (
    version_id TEXT NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
    source_kind TEXT NOT NULL,
    source_id TEXT NOT NULL,
    target_kind TEXT NOT NULL,
    target_id TEXT NOT NULL,
    PRIMARY KEY (version_id, source_kind, source_id, target_kind, target_id)
);

-- Node embeddings via sqlite-vec, keyed by node row id
CREATE VIRTUAL TABLE IF NOT EXISTS vec_articles USING vec0(
    node_id INTEGER PRIMARY KEY,
    embedding float[%[1]d]
);
CREATE VIRTUAL TABLE IF NOT EXISTS vec_paragraphs USING vec0(
    node_id INTEGER PRIMARY KEY,
    embedding float[%[1]d]
);
CREATE VIRTUAL TABLE IF NOT EXISTS vec_items USING vec0(
    node_id INTEGER PRIMARY KEY,
    embedding float[%[1]d]
);

-- Query log
CREATE TABLE IF NOT EXISTS query_log (
    id INTEGER PRIMARY KEY,
    query TEXT NOT NULL,
    version_id TEXT,
    found INTEGER NOT NULL DEFAULT 0,
    selected_article TEXT,
    reason TEXT,
    candidates INTEGER DEFAULT 0,
    answer TEXT,
    model_used TEXT,
    elapsed_ms INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_articles_version ON articles(version_id);
CREATE INDEX IF NOT EXISTS idx_paragraphs_article ON paragraphs(article_row);
CREATE INDEX IF NOT EXISTS idx_items_paragraph ON items(paragraph_row);
CREATE INDEX IF NOT EXISTS idx_refers_source ON refers_to(version_id, source_kind, source_id);
CREATE INDEX IF NOT EXISTS idx_versions_product ON versions(product_code);
`, embeddingDim)
}
