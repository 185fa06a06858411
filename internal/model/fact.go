package model

import "time"

// OperationType is the post-validation transaction polarity. Every
// imported transaction row carries exactly one of the two values.
type OperationType string

const (
	OperationSale   OperationType = "sale"
	OperationRefund OperationType = "refund"
)

// Transaction is one canonical fact row. Optional columns are pointers;
// an absent cell imports as NULL, never as an empty string.
type Transaction struct {
	ID              string        `json:"id"`
	ProjectID       string        `json:"project_id"`
	TransactionID   *string       `json:"transaction_id"`
	OrderID         *string       `json:"order_id"`
	Date            time.Time     `json:"date"`
	OperationType   OperationType `json:"operation_type"`
	Amount          float64       `json:"amount"`
	ClientID        *string       `json:"client_id"`
	ProductNameRaw  *string       `json:"product_name_raw"`
	ProductNameNorm *string       `json:"product_name_norm"`
	ProductID       *string       `json:"product_id"`
	ProductCategory *string       `json:"product_category"`
	ManagerRaw      *string       `json:"manager_raw"`
	ManagerNorm     *string       `json:"manager_norm"`
	ManagerID       *string       `json:"manager_id"`
	PaymentMethod   *string       `json:"payment_method"`
	Group1          *string       `json:"group_1"`
	Group2          *string       `json:"group_2"`
	Group3          *string       `json:"group_3"`
	Group4          *string       `json:"group_4"`
	Group5          *string       `json:"group_5"`
	Fee1            float64       `json:"fee_1"`
	Fee2            float64       `json:"fee_2"`
	Fee3            float64       `json:"fee_3"`
	FeeTotal        float64       `json:"fee_total"`
	UTMSource       *string       `json:"utm_source"`
	UTMMedium       *string       `json:"utm_medium"`
	UTMCampaign     *string       `json:"utm_campaign"`
	UTMTerm         *string       `json:"utm_term"`
	UTMContent      *string       `json:"utm_content"`
	CreatedAt       time.Time     `json:"created_at"`
}

// MarketingSpend is one day of ad spend for a project.
type MarketingSpend struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Date        time.Time `json:"date"`
	SpendAmount float64   `json:"spend_amount"`
	ChannelRaw  *string   `json:"channel_raw"`
	ChannelNorm *string   `json:"channel_norm"`
	UTMSource   *string   `json:"utm_source"`
	UTMMedium   *string   `json:"utm_medium"`
	UTMCampaign *string   `json:"utm_campaign"`
	CreatedAt   time.Time `json:"created_at"`
}
