package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/ejwhitmore/tweetvault/internal/types"
)

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts a category name to its stable slug form. Names with no
// ASCII alphanumerics at all (e.g. fully CJK names) would otherwise collapse
// to the empty slug and collide on the primary key, so those fall back to a
// hash of the lowercased name.
func Slugify(name string) string {
	slug := strings.Trim(slugNonAlnum.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(name))))
		slug = "cat-" + hex.EncodeToString(sum[:6])
	}
	return slug
}

// FindCategory looks a category up by name, case-insensitively.
// Returns nil when no category matches.
func (s *Store) FindCategory(name string) (*types.Category, error) {
	var c types.Category
	err := s.db.QueryRow(`
		SELECT slug, name, created_at FROM categories
		WHERE lower(name) = lower(?)
	`, name).Scan(&c.Slug, &c.Name, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCategory inserts a new taxonomy node. Slug collisions are treated as
// an already-existing category and returned as such.
func (s *Store) CreateCategory(name string) (*types.Category, error) {
	c := types.Category{
		Slug:      Slugify(name),
		Name:      name,
		CreatedAt: time.Now(),
	}
	_, err := s.db.Exec(`
		INSERT INTO categories (slug, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(slug) DO NOTHING
	`, c.Slug, c.Name, c.CreatedAt)
	if err != nil {
		return nil, err
	}

	var existing types.Category
	if err := s.db.QueryRow(`SELECT slug, name, created_at FROM categories WHERE slug = ?`, c.Slug).
		Scan(&existing.Slug, &existing.Name, &existing.CreatedAt); err != nil {
		return nil, err
	}
	return &existing, nil
}

// ListCategories returns the full taxonomy ordered by name.
func (s *Store) ListCategories() ([]types.Category, error) {
	rows, err := s.db.Query(`SELECT slug, name, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []types.Category
	for rows.Next() {
		var c types.Category
		if err := rows.Scan(&c.Slug, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// CategoryItemCounts returns the number of categorized items per category name.
func (s *Store) CategoryItemCounts() (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT main_category, COUNT(*) FROM items
		WHERE categorized = 1 AND main_category <> ''
		GROUP BY main_category
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, rows.Err()
}
