package store

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/ejwhitmore/tweetvault/internal/types"
)

// UpsertSynthesis writes the per-category synthesis document.
func (s *Store) UpsertSynthesis(doc *types.SynthesisDoc) error {
	_, err := s.db.Exec(`
		INSERT INTO syntheses (category_slug, body, model, item_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(category_slug) DO UPDATE SET
			body = excluded.body,
			model = excluded.model,
			item_count = excluded.item_count,
			updated_at = excluded.updated_at
	`, doc.CategorySlug, doc.Body, doc.Model, doc.ItemCount, doc.UpdatedAt)
	return err
}

// GetSynthesis returns the synthesis document for a category slug, or nil.
func (s *Store) GetSynthesis(slug string) (*types.SynthesisDoc, error) {
	var doc types.SynthesisDoc
	err := s.db.QueryRow(`
		SELECT category_slug, body, model, item_count, updated_at
		FROM syntheses WHERE category_slug = ?
	`, slug).Scan(&doc.CategorySlug, &doc.Body, &doc.Model, &doc.ItemCount, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListSyntheses returns all synthesis documents.
func (s *Store) ListSyntheses() ([]types.SynthesisDoc, error) {
	rows, err := s.db.Query(`
		SELECT category_slug, body, model, item_count, updated_at
		FROM syntheses ORDER BY category_slug
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []types.SynthesisDoc
	for rows.Next() {
		var doc types.SynthesisDoc
		if err := rows.Scan(&doc.CategorySlug, &doc.Body, &doc.Model, &doc.ItemCount, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountSyntheses returns the number of stored synthesis documents.
func (s *Store) CountSyntheses() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM syntheses`).Scan(&n)
	return n, err
}

// UpsertEmbedding stores a vector for an item or synthesis document.
func (s *Store) UpsertEmbedding(e *types.Embedding) error {
	vecJSON, err := json.Marshal(e.Vector)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO embeddings (owner_kind, owner_id, vector, model, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_kind, owner_id) DO UPDATE SET
			vector = excluded.vector,
			model = excluded.model,
			updated_at = excluded.updated_at
	`, e.OwnerKind, e.OwnerID, string(vecJSON), e.Model, e.UpdatedAt)
	return err
}

// GetEmbedding returns the stored vector for an owner, or nil.
func (s *Store) GetEmbedding(kind types.EmbeddingOwner, ownerID string) (*types.Embedding, error) {
	var e types.Embedding
	var vecJSON string
	err := s.db.QueryRow(`
		SELECT owner_kind, owner_id, vector, model, updated_at
		FROM embeddings WHERE owner_kind = ? AND owner_id = ?
	`, kind, ownerID).Scan(&e.OwnerKind, &e.OwnerID, &vecJSON, &e.Model, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(vecJSON), &e.Vector); err != nil {
		return nil, err
	}
	return &e, nil
}

// CountEmbeddings returns the number of stored vectors of one owner kind.
func (s *Store) CountEmbeddings(kind types.EmbeddingOwner) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM embeddings WHERE owner_kind = ?`, kind).Scan(&n)
	return n, err
}
