package model

import "time"

// Product is a canonical product dimension row. Raw product names from
// uploads resolve to a product through its aliases.
type Product struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	CanonicalName string         `json:"canonical_name"`
	Category      string         `json:"category"`
	ProductType   string         `json:"product_type"`
	CreatedAt     time.Time      `json:"created_at"`
	Aliases       []ProductAlias `json:"aliases,omitempty"`
}

// ProductAlias maps one raw spelling to a product. Unique per
// (project, alias).
type ProductAlias struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	ProductID string `json:"product_id"`
	Alias     string `json:"alias"`
}

// Manager is a canonical sales manager dimension row.
type Manager struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	CanonicalName string         `json:"canonical_name"`
	CreatedAt     time.Time      `json:"created_at"`
	Aliases       []ManagerAlias `json:"aliases,omitempty"`
}

// ManagerAlias maps one raw spelling to a manager. Unique per
// (project, alias).
type ManagerAlias struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	ManagerID string `json:"manager_id"`
	Alias     string `json:"alias"`
}
