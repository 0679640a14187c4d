package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/lectern/internal/entity"
)

// SectionByHref returns the section ingested for (bookID, href).
// Returns entity.ErrNotFound if the renderer never reported it.
func (s *Store) SectionByHref(ctx context.Context, bookID, href string) (entity.Section, error) {
	var sec entity.Section
	err := s.db.QueryRowContext(ctx, `
		SELECT id, book_id, href FROM sections
		WHERE book_id = ? AND href = ?
	`, bookID, href).Scan(&sec.ID, &sec.BookID, &sec.Href)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Section{}, entity.ErrNotFound
	}
	if err != nil {
		return entity.Section{}, fmt.Errorf("read section: %w", err)
	}
	return sec, nil
}

// AddSection atomically creates a section and batch-inserts its elements.
//
// Uses ON CONFLICT(book_id, href) DO NOTHING: when the section already
// exists the transaction only reads it back and returns created=false.
// Element indexes are the positions in contents.
func (s *Store) AddSection(ctx context.Context, bookID, href string, contents []string) (entity.Section, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return entity.Section{}, false, fmt.Errorf("add section: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO sections (id, book_id, href)
		VALUES (?, ?, ?)
		ON CONFLICT(book_id, href) DO NOTHING
	`, s.ids.Generate(), bookID, href)
	if err != nil {
		return entity.Section{}, false, fmt.Errorf("add section: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return entity.Section{}, false, fmt.Errorf("add section: rows affected: %w", err)
	}

	var sec entity.Section
	err = tx.QueryRowContext(ctx, `
		SELECT id, book_id, href FROM sections
		WHERE book_id = ? AND href = ?
	`, bookID, href).Scan(&sec.ID, &sec.BookID, &sec.Href)
	if err != nil {
		return entity.Section{}, false, fmt.Errorf("add section: select: %w", err)
	}

	created := rowsAffected > 0
	if created && len(contents) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO text_elements (section_id, idx, content)
			VALUES (?, ?, ?)
		`)
		if err != nil {
			return entity.Section{}, false, fmt.Errorf("add section: prepare: %w", err)
		}
		defer stmt.Close()

		for i, content := range contents {
			if _, err := stmt.ExecContext(ctx, sec.ID, i, content); err != nil {
				return entity.Section{}, false, fmt.Errorf("add section: element %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return entity.Section{}, false, fmt.Errorf("add section: commit: %w", err)
	}
	return sec, created, nil
}

// TextElements returns every element of a section ordered by index.
// Returns an empty slice (not nil) for sections without text.
func (s *Store) TextElements(ctx context.Context, sectionID string) ([]entity.TextElement, error) {
	return s.queryElements(ctx, "read text elements", `
		SELECT section_id, idx, content, translated FROM text_elements
		WHERE section_id = ?
		ORDER BY idx ASC
	`, sectionID)
}

// ChangeContent overwrites an element with its translation and marks it.
func (s *Store) ChangeContent(ctx context.Context, sectionID string, index int, content string) error {
	return s.execIntent(ctx, "change content", `
		UPDATE text_elements SET content = ?, translated = 1
		WHERE section_id = ? AND idx = ?
	`, content, sectionID, index)
}

// LastTranslatedIndex returns the highest translated index, 0 if none.
func (s *Store) LastTranslatedIndex(ctx context.Context, sectionID string) (int, error) {
	var idx sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(idx) FROM text_elements
		WHERE section_id = ? AND translated = 1
	`, sectionID).Scan(&idx)
	if err != nil {
		return 0, fmt.Errorf("last translated index: %w", err)
	}
	if !idx.Valid {
		return 0, nil
	}
	return int(idx.Int64), nil
}

// NotTranslatedFrom returns untranslated elements with index >= from.
func (s *Store) NotTranslatedFrom(ctx context.Context, sectionID string, from int) ([]entity.TextElement, error) {
	return s.queryElements(ctx, "read untranslated elements", `
		SELECT section_id, idx, content, translated FROM text_elements
		WHERE section_id = ? AND translated = 0 AND idx >= ?
		ORDER BY idx ASC
	`, sectionID, from)
}

func (s *Store) queryElements(ctx context.Context, op, query string, args ...any) ([]entity.TextElement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	elements := []entity.TextElement{}
	for rows.Next() {
		var e entity.TextElement
		if err := rows.Scan(&e.SectionID, &e.Index, &e.Content, &e.Translated); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		elements = append(elements, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return elements, nil
}
