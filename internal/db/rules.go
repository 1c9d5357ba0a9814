package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/dcastillo/agil-radar/internal/models"
)

// GetAllKeywords returns every keyword rule, grouped-friendly ordering.
func (s *Store) GetAllKeywords(ctx context.Context) ([]models.Keyword, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, text, type, points FROM keywords ORDER BY type, text")
	if err != nil {
		return nil, fmt.Errorf("keywords query failed: %w", err)
	}
	defer rows.Close()

	var keywords []models.Keyword
	for rows.Next() {
		var k models.Keyword
		if err := rows.Scan(&k.ID, &k.Text, &k.Type, &k.Points); err != nil {
			return nil, fmt.Errorf("keyword scan failed: %w", err)
		}
		keywords = append(keywords, k)
	}
	return keywords, rows.Err()
}

// AddKeyword stores a new keyword rule. The text is normalized the same way
// the engine normalizes the text it matches against.
func (s *Store) AddKeyword(ctx context.Context, text, kwType string, points int) (*models.Keyword, error) {
	switch kwType {
	case models.KeywordTitlePositive, models.KeywordTitleNegative, models.KeywordProduct:
	default:
		return nil, fmt.Errorf("unknown keyword type %q", kwType)
	}

	k := models.Keyword{
		Text:   strings.ToLower(strings.TrimSpace(text)),
		Type:   kwType,
		Points: points,
	}
	if k.Text == "" {
		return nil, fmt.Errorf("keyword text is empty")
	}

	err := s.pool.QueryRow(ctx,
		"INSERT INTO keywords (text, type, points) VALUES ($1, $2, $3) RETURNING id",
		k.Text, k.Type, k.Points).Scan(&k.ID)
	if err != nil {
		return nil, fmt.Errorf("keyword insert failed: %w", err)
	}
	return &k, nil
}

func (s *Store) DeleteKeyword(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM keywords WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("keyword delete failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("keyword %d not found", id)
	}
	return nil
}

// GetAllOrganizationRules returns every organization rule with the
// organization name joined in for display.
func (s *Store) GetAllOrganizationRules(ctx context.Context) ([]models.OrganizationRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.organization_id, o.name, r.kind, r.points
		FROM organization_rules r
		JOIN organizations o ON o.id = r.organization_id
		ORDER BY o.name
	`)
	if err != nil {
		return nil, fmt.Errorf("org rules query failed: %w", err)
	}
	defer rows.Close()

	var rules []models.OrganizationRule
	for rows.Next() {
		var r models.OrganizationRule
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.OrganizationName, &r.Kind, &r.Points); err != nil {
			return nil, fmt.Errorf("org rule scan failed: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// SetOrganizationRule creates or replaces the single rule for an
// organization. Unwanted rules carry no points.
func (s *Store) SetOrganizationRule(ctx context.Context, organizationID int64, kind string, points int) (*models.OrganizationRule, error) {
	switch kind {
	case models.RuleKindPriority:
	case models.RuleKindUnwanted:
		points = 0
	default:
		return nil, fmt.Errorf("unknown rule kind %q", kind)
	}

	r := models.OrganizationRule{OrganizationID: organizationID, Kind: kind, Points: points}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO organization_rules (organization_id, kind, points)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			points = EXCLUDED.points
		RETURNING id
	`, organizationID, kind, points).Scan(&r.ID)
	if err != nil {
		return nil, fmt.Errorf("org rule upsert failed: %w", err)
	}
	return &r, nil
}

func (s *Store) DeleteOrganizationRule(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM organization_rules WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("org rule delete failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("organization rule %d not found", id)
	}
	return nil
}

func (s *Store) GetAllOrganizations(ctx context.Context) ([]models.Organization, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT o.id, o.name, s.name
		FROM organizations o
		JOIN sectors s ON s.id = o.sector_id
		ORDER BY o.name
	`)
	if err != nil {
		return nil, fmt.Errorf("organizations query failed: %w", err)
	}
	defer rows.Close()

	var orgs []models.Organization
	for rows.Next() {
		var o models.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Sector); err != nil {
			return nil, fmt.Errorf("organization scan failed: %w", err)
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}
