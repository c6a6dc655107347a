package products

import (
	"database/sql"
	"testing"

	"github.com/AgentCommerce/ucp/internal/config"
	"github.com/AgentCommerce/ucp/internal/money"
)

func testProduct(id, name, description, category string, priceCents int64, active bool) Product {
	return Product{
		ID:          id,
		SKU:         id,
		Name:        name,
		Description: description,
		Category:    category,
		Price:       money.FromMinorUnits("SGD", priceCents),
		Active:      active,
	}
}

func testCatalog() []Product {
	return []Product{
		testProduct("PROD-001", "Chocochip Cookies", "Crunchy cookies loaded with chocolate chips", "Bakery/Cookies", 499, true),
		testProduct("PROD-002", "Fresh Strawberries", "Sweet and juicy strawberries", "Produce/Fruits", 449, true),
		testProduct("PROD-003", "Classic Potato Chips", "Crispy salted potato chips", "Snacks/Chips", 379, true),
		testProduct("PROD-004", "Baked Sweet Potato Chips", "Lightly salted baked chips", "Snacks/Chips", 479, true),
		testProduct("PROD-005", "Discontinued Crackers", "No longer sold", "Snacks/Crackers", 299, false),
	}
}

func TestQueryNormalized(t *testing.T) {
	q := Query{}.Normalized()
	if q.Limit != DefaultSearchLimit {
		t.Errorf("expected default limit %d, got %d", DefaultSearchLimit, q.Limit)
	}

	q = Query{Limit: 3}.Normalized()
	if q.Limit != 3 {
		t.Errorf("explicit limit should be kept, got %d", q.Limit)
	}
}

func TestFilter(t *testing.T) {
	catalog := testCatalog()

	tests := []struct {
		name    string
		query   Query
		wantIDs []string
	}{
		{
			name:    "no filters returns all active",
			query:   Query{},
			wantIDs: []string{"PROD-001", "PROD-002", "PROD-003", "PROD-004"},
		},
		{
			name:    "text matches name case-insensitively",
			query:   Query{Text: "cookies"},
			wantIDs: []string{"PROD-001"},
		},
		{
			name:    "text matches description",
			query:   Query{Text: "juicy"},
			wantIDs: []string{"PROD-002"},
		},
		{
			name:    "text matches category",
			query:   Query{Text: "snacks"},
			wantIDs: []string{"PROD-003", "PROD-004"},
		},
		{
			name:    "category filter",
			query:   Query{Category: "chips"},
			wantIDs: []string{"PROD-003", "PROD-004"},
		},
		{
			name:    "text and category combine",
			query:   Query{Text: "baked", Category: "chips"},
			wantIDs: []string{"PROD-004"},
		},
		{
			name:    "limit truncates ordered results",
			query:   Query{Limit: 2},
			wantIDs: []string{"PROD-001", "PROD-002"},
		},
		{
			name:    "no match",
			query:   Query{Text: "durian"},
			wantIDs: []string{},
		},
		{
			name:    "inactive products never match",
			query:   Query{Text: "crackers"},
			wantIDs: []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Filter(catalog, tc.query)
			if len(got) != len(tc.wantIDs) {
				t.Fatalf("expected %d results, got %d", len(tc.wantIDs), len(got))
			}
			for i, want := range tc.wantIDs {
				if got[i].ID != want {
					t.Errorf("result %d: expected %s, got %s", i, want, got[i].ID)
				}
			}
		})
	}
}

func TestApplyListOptions(t *testing.T) {
	catalog := testCatalog()

	all := applyListOptions(catalog, ListOptions{IncludeInactive: true})
	if len(all) != 5 {
		t.Errorf("expected 5 products with inactive, got %d", len(all))
	}

	active := applyListOptions(catalog, ListOptions{})
	if len(active) != 4 {
		t.Errorf("expected 4 active products, got %d", len(active))
	}

	paged := applyListOptions(catalog, ListOptions{Offset: 1, Limit: 2})
	if len(paged) != 2 || paged[0].ID != "PROD-002" || paged[1].ID != "PROD-003" {
		t.Errorf("unexpected page: %+v", paged)
	}

	past := applyListOptions(catalog, ListOptions{Offset: 10})
	if len(past) != 0 {
		t.Errorf("offset past end should return empty, got %d", len(past))
	}
}

func TestNewRepositoryWithDB_PostgresTableName(t *testing.T) {
	db, err := sql.Open("postgres", "postgres://localhost/catalog?sslmode=disable")
	if err != nil {
		t.Fatalf("open stub connection: %v", err)
	}
	defer db.Close()

	repo, err := NewRepositoryWithDB(config.ProductsConfig{
		Source:            "postgres",
		PostgresURL:       "postgres://localhost/catalog?sslmode=disable",
		PostgresTableName: "catalog_items",
	}, db)
	if err != nil {
		t.Fatalf("NewRepositoryWithDB: %v", err)
	}

	pgRepo, ok := repo.(*PostgresRepository)
	if !ok {
		t.Fatalf("expected *PostgresRepository, got %T", repo)
	}
	if pgRepo.tableName != "catalog_items" {
		t.Errorf("expected configured table name 'catalog_items', got %q", pgRepo.tableName)
	}

	defaulted, err := NewRepositoryWithDB(config.ProductsConfig{
		Source:      "postgres",
		PostgresURL: "postgres://localhost/catalog?sslmode=disable",
	}, db)
	if err != nil {
		t.Fatalf("NewRepositoryWithDB without table name: %v", err)
	}
	if got := defaulted.(*PostgresRepository).tableName; got != "products" {
		t.Errorf("expected default table name 'products', got %q", got)
	}
}
