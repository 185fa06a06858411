package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-metrics/internal/model"
)

// ResolveProductAlias returns the product id registered for an alias, or
// nil when no alias matches.
func (s *PostgresStore) ResolveProductAlias(ctx context.Context, projectID, alias string) (*string, error) {
	var productID string
	err := s.pool.QueryRow(ctx, "resolve_product", projectID, alias).Scan(&productID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: resolve product alias")
	}
	return &productID, nil
}

// ResolveManagerAlias returns the manager id registered for an alias, or
// nil when no alias matches.
func (s *PostgresStore) ResolveManagerAlias(ctx context.Context, projectID, alias string) (*string, error) {
	var managerID string
	err := s.pool.QueryRow(ctx, "resolve_manager", projectID, alias).Scan(&managerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: resolve manager alias")
	}
	return &managerID, nil
}

// GetProduct fetches one product without its aliases. Returns (nil, nil)
// when the product does not exist in the project.
func (s *PostgresStore) GetProduct(ctx context.Context, projectID, productID string) (*model.Product, error) {
	var p model.Product
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, canonical_name, category, product_type, created_at
		 FROM dim_products WHERE id = $1 AND project_id = $2`,
		productID, projectID,
	).Scan(&p.ID, &p.ProjectID, &p.CanonicalName, &p.Category, &p.ProductType, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get product")
	}
	return &p, nil
}

// GetManager fetches one manager without its aliases. Returns (nil, nil)
// when the manager does not exist in the project.
func (s *PostgresStore) GetManager(ctx context.Context, projectID, managerID string) (*model.Manager, error) {
	var m model.Manager
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, canonical_name, created_at
		 FROM dim_managers WHERE id = $1 AND project_id = $2`,
		managerID, projectID,
	).Scan(&m.ID, &m.ProjectID, &m.CanonicalName, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get manager")
	}
	return &m, nil
}

// ListProducts returns the project's products newest first, each with
// its aliases sorted alphabetically.
func (s *PostgresStore) ListProducts(ctx context.Context, projectID string) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, canonical_name, category, product_type, created_at
		 FROM dim_products WHERE project_id = $1 ORDER BY created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list products")
	}
	defer rows.Close()

	products := make([]model.Product, 0)
	index := make(map[string]int)
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.CanonicalName, &p.Category, &p.ProductType, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		p.Aliases = []model.ProductAlias{}
		index[p.ID] = len(products)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list products")
	}

	aliasRows, err := s.pool.Query(ctx,
		`SELECT id, project_id, product_id, alias FROM dim_product_aliases
		 WHERE project_id = $1 ORDER BY alias ASC`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list product aliases")
	}
	defer aliasRows.Close()
	for aliasRows.Next() {
		var a model.ProductAlias
		if err := aliasRows.Scan(&a.ID, &a.ProjectID, &a.ProductID, &a.Alias); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product alias")
		}
		if i, ok := index[a.ProductID]; ok {
			products[i].Aliases = append(products[i].Aliases, a)
		}
	}
	if err := aliasRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list product aliases")
	}
	return products, nil
}

// ListManagers returns the project's managers newest first, each with
// its aliases sorted alphabetically.
func (s *PostgresStore) ListManagers(ctx context.Context, projectID string) ([]model.Manager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, canonical_name, created_at
		 FROM dim_managers WHERE project_id = $1 ORDER BY created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list managers")
	}
	defer rows.Close()

	managers := make([]model.Manager, 0)
	index := make(map[string]int)
	for rows.Next() {
		var m model.Manager
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.CanonicalName, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan manager")
		}
		m.Aliases = []model.ManagerAlias{}
		index[m.ID] = len(managers)
		managers = append(managers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list managers")
	}

	aliasRows, err := s.pool.Query(ctx,
		`SELECT id, project_id, manager_id, alias FROM dim_manager_aliases
		 WHERE project_id = $1 ORDER BY alias ASC`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list manager aliases")
	}
	defer aliasRows.Close()
	for aliasRows.Next() {
		var a model.ManagerAlias
		if err := aliasRows.Scan(&a.ID, &a.ProjectID, &a.ManagerID, &a.Alias); err != nil {
			return nil, eris.Wrap(err, "postgres: scan manager alias")
		}
		if i, ok := index[a.ManagerID]; ok {
			managers[i].Aliases = append(managers[i].Aliases, a)
		}
	}
	if err := aliasRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list manager aliases")
	}
	return managers, nil
}

// CreateProduct inserts a product and registers its canonical name as an
// alias so matching fact rows link up immediately.
func (s *PostgresStore) CreateProduct(ctx context.Context, projectID, canonicalName, category, productType string) (*model.Product, error) {
	p := &model.Product{
		ID:            uuid.New().String(),
		ProjectID:     projectID,
		CanonicalName: strings.TrimSpace(canonicalName),
		Category:      strings.TrimSpace(category),
		ProductType:   strings.TrimSpace(productType),
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin create product")
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO dim_products (id, project_id, canonical_name, category, product_type)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		p.ID, p.ProjectID, p.CanonicalName, p.Category, p.ProductType,
	).Scan(&p.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert product")
	}

	alias, err := applyProductAlias(ctx, tx, projectID, p.CanonicalName, p.ID, p.CanonicalName)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit create product")
	}
	p.Aliases = []model.ProductAlias{*alias}
	return p, nil
}

// CreateManager inserts a manager and registers its canonical name as an
// alias so matching fact rows link up immediately.
func (s *PostgresStore) CreateManager(ctx context.Context, projectID, canonicalName string) (*model.Manager, error) {
	m := &model.Manager{
		ID:            uuid.New().String(),
		ProjectID:     projectID,
		CanonicalName: strings.TrimSpace(canonicalName),
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin create manager")
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO dim_managers (id, project_id, canonical_name)
		 VALUES ($1, $2, $3) RETURNING created_at`,
		m.ID, m.ProjectID, m.CanonicalName,
	).Scan(&m.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert manager")
	}

	alias, err := applyManagerAlias(ctx, tx, projectID, m.CanonicalName, m.ID, m.CanonicalName)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit create manager")
	}
	m.Aliases = []model.ManagerAlias{*alias}
	return m, nil
}

// UpdateProduct renames a product, registers the new name as an alias
// and refreshes the normalized name on every fact row already linked to
// it. Returns (nil, nil) when the product does not exist.
func (s *PostgresStore) UpdateProduct(ctx context.Context, projectID, productID, canonicalName, category, productType string) (*model.Product, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin update product")
	}
	defer tx.Rollback(ctx)

	p := model.Product{
		ID:            productID,
		ProjectID:     projectID,
		CanonicalName: strings.TrimSpace(canonicalName),
		Category:      strings.TrimSpace(category),
		ProductType:   strings.TrimSpace(productType),
	}
	err = tx.QueryRow(ctx,
		`UPDATE dim_products SET canonical_name = $1, category = $2, product_type = $3
		 WHERE id = $4 AND project_id = $5 RETURNING created_at`,
		p.CanonicalName, p.Category, p.ProductType, productID, projectID,
	).Scan(&p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: update product")
	}

	if _, err := applyProductAlias(ctx, tx, projectID, p.CanonicalName, p.ID, p.CanonicalName); err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE fact_transactions SET product_name_norm = $1 WHERE project_id = $2 AND product_id = $3`,
		p.CanonicalName, projectID, productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: rename product facts")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit update product")
	}
	return &p, nil
}

// UpdateManager renames a manager, registers the new name as an alias
// and refreshes the normalized name on every fact row already linked to
// it. Returns (nil, nil) when the manager does not exist.
func (s *PostgresStore) UpdateManager(ctx context.Context, projectID, managerID, canonicalName string) (*model.Manager, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin update manager")
	}
	defer tx.Rollback(ctx)

	m := model.Manager{
		ID:            managerID,
		ProjectID:     projectID,
		CanonicalName: strings.TrimSpace(canonicalName),
	}
	err = tx.QueryRow(ctx,
		`UPDATE dim_managers SET canonical_name = $1
		 WHERE id = $2 AND project_id = $3 RETURNING created_at`,
		m.CanonicalName, managerID, projectID,
	).Scan(&m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: update manager")
	}

	if _, err := applyManagerAlias(ctx, tx, projectID, m.CanonicalName, m.ID, m.CanonicalName); err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE fact_transactions SET manager_norm = $1 WHERE project_id = $2 AND manager_id = $3`,
		m.CanonicalName, projectID, managerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: rename manager facts")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit update manager")
	}
	return &m, nil
}

// AddProductAlias binds an alias to a product and backfills fact rows
// whose normalized product name matches it.
func (s *PostgresStore) AddProductAlias(ctx context.Context, projectID, productID, canonicalName, alias string) (*model.ProductAlias, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin add product alias")
	}
	defer tx.Rollback(ctx)

	a, err := applyProductAlias(ctx, tx, projectID, alias, productID, canonicalName)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit add product alias")
	}
	return a, nil
}

// AddManagerAlias binds an alias to a manager and backfills fact rows
// whose normalized manager name matches it.
func (s *PostgresStore) AddManagerAlias(ctx context.Context, projectID, managerID, canonicalName, alias string) (*model.ManagerAlias, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin add manager alias")
	}
	defer tx.Rollback(ctx)

	a, err := applyManagerAlias(ctx, tx, projectID, alias, managerID, canonicalName)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit add manager alias")
	}
	return a, nil
}

// applyProductAlias upserts the alias row, re-pointing it when the alias
// already belongs to another product, then relinks fact rows whose
// normalized product name equals the alias.
func applyProductAlias(ctx context.Context, tx pgx.Tx, projectID, alias, productID, canonicalName string) (*model.ProductAlias, error) {
	a := model.ProductAlias{ProjectID: projectID, ProductID: productID, Alias: alias}
	err := tx.QueryRow(ctx,
		`INSERT INTO dim_product_aliases (id, project_id, product_id, alias)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (project_id, alias) DO UPDATE SET product_id = EXCLUDED.product_id
		 RETURNING id`,
		uuid.New().String(), projectID, productID, alias,
	).Scan(&a.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert product alias")
	}
	_, err = tx.Exec(ctx,
		`UPDATE fact_transactions SET product_id = $1, product_name_norm = $2
		 WHERE project_id = $3 AND product_name_norm = $4`,
		productID, canonicalName, projectID, alias,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: backfill product facts")
	}
	return &a, nil
}

// applyManagerAlias mirrors applyProductAlias for managers.
func applyManagerAlias(ctx context.Context, tx pgx.Tx, projectID, alias, managerID, canonicalName string) (*model.ManagerAlias, error) {
	a := model.ManagerAlias{ProjectID: projectID, ManagerID: managerID, Alias: alias}
	err := tx.QueryRow(ctx,
		`INSERT INTO dim_manager_aliases (id, project_id, manager_id, alias)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (project_id, alias) DO UPDATE SET manager_id = EXCLUDED.manager_id
		 RETURNING id`,
		uuid.New().String(), projectID, managerID, alias,
	).Scan(&a.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert manager alias")
	}
	_, err = tx.Exec(ctx,
		`UPDATE fact_transactions SET manager_id = $1, manager_norm = $2
		 WHERE project_id = $3 AND manager_norm = $4`,
		managerID, canonicalName, projectID, alias,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: backfill manager facts")
	}
	return &a, nil
}
