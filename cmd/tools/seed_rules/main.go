package main

import (
	"context"
	_ "embed"
	"log"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dcastillo/agil-radar/internal/config"
	"github.com/dcastillo/agil-radar/internal/db"
)

//go:embed rules.yaml
var rulesYAML []byte

type seedFile struct {
	Keywords []struct {
		Text   string `yaml:"text"`
		Type   string `yaml:"type"`
		Points int    `yaml:"points"`
	} `yaml:"keywords"`
	OrganizationRules []struct {
		Organization string `yaml:"organization"`
		Kind         string `yaml:"kind"`
		Points       int    `yaml:"points"`
	} `yaml:"organization_rules"`
}

// Populates the rule tables with the starter set. Keywords that already
// exist are skipped; organization rules need the organization to have been
// seen by the scraper first.
func main() {
	var seeds seedFile
	if err := yaml.Unmarshal(rulesYAML, &seeds); err != nil {
		log.Fatalf("Failed to parse embedded rules: %v", err)
	}

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	store := db.NewStore(pool)

	existing, err := store.GetAllKeywords(ctx)
	if err != nil {
		log.Fatal(err)
	}
	seen := make(map[string]bool)
	for _, kw := range existing {
		seen[kw.Text+"|"+kw.Type] = true
	}

	added := 0
	for _, kw := range seeds.Keywords {
		key := strings.ToLower(strings.TrimSpace(kw.Text)) + "|" + kw.Type
		if seen[key] {
			continue
		}
		if _, err := store.AddKeyword(ctx, kw.Text, kw.Type, kw.Points); err != nil {
			log.Printf("Skipping keyword %q: %v", kw.Text, err)
			continue
		}
		added++
	}
	log.Printf("Keywords added: %d", added)

	orgs, err := store.GetAllOrganizations(ctx)
	if err != nil {
		log.Fatal(err)
	}
	orgIDs := make(map[string]int64)
	for _, o := range orgs {
		orgIDs[o.Name] = o.ID
	}

	added = 0
	for _, rule := range seeds.OrganizationRules {
		name := strings.ToLower(strings.TrimSpace(rule.Organization))
		id, ok := orgIDs[name]
		if !ok {
			log.Printf("Organization %q not found yet; run the scraper first", name)
			continue
		}
		if _, err := store.SetOrganizationRule(ctx, id, rule.Kind, rule.Points); err != nil {
			log.Printf("Skipping rule for %q: %v", name, err)
			continue
		}
		added++
	}
	log.Printf("Organization rules added: %d", added)
}
