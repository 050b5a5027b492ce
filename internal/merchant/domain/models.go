package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/fee"
	"gorm.io/datatypes"
)

const (
	StatusPending    = "pending"
	StatusActive     = "active"
	StatusSuspended  = "suspended"
	StatusTerminated = "terminated"
)

type Merchant struct {
	ID               snowflake.ID                             `gorm:"primaryKey" json:"id"`
	BusinessName     string                                   `gorm:"not null" json:"business_name"`
	ContactEmail     string                                   `gorm:"not null" json:"contact_email"`
	Status           string                                   `gorm:"not null;index" json:"status"`
	DefaultCurrency  string                                   `gorm:"not null" json:"default_currency"`
	FeeStructure     datatypes.JSONType[fee.Structure]        `gorm:"not null" json:"fee_structure"`
	VolumeIncentives datatypes.JSONSlice[fee.VolumeIncentive] `json:"volume_incentives"`
	Bank             BankDetails                              `gorm:"embedded;embeddedPrefix:bank_" json:"bank_details"`
	TotalVolume      float64                                  `gorm:"not null;default:0" json:"total_volume"`
	MonthlyVolume    float64                                  `gorm:"not null;default:0" json:"monthly_volume"`
	TransactionCount int64                                    `gorm:"not null;default:0" json:"transaction_count"`
	Metadata         datatypes.JSONMap                        `json:"metadata,omitempty"`
	CreatedAt        time.Time                                `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time                                `gorm:"not null" json:"updated_at"`
}

func (Merchant) TableName() string { return "merchants" }

type BankDetails struct {
	Name          string `json:"bank_name,omitempty"`
	AccountNumber string `json:"-"`
	Currency      string `json:"currency,omitempty"`
}

// AccountLast4 is the only part of the account number that leaves the service.
func (b BankDetails) AccountLast4() string {
	if len(b.AccountNumber) <= 4 {
		return b.AccountNumber
	}
	return b.AccountNumber[len(b.AccountNumber)-4:]
}

func (m Merchant) IsActive() bool { return m.Status == StatusActive }

// FeeSchedule projects the merchant onto the fee calculator's input.
func (m Merchant) FeeSchedule() fee.Schedule {
	return fee.Schedule{
		Structure:        m.FeeStructure.Data(),
		VolumeIncentives: []fee.VolumeIncentive(m.VolumeIncentives),
		MonthlyVolume:    m.MonthlyVolume,
	}
}

// VolumeTotals is the recomputed view of a merchant's counters.
type VolumeTotals struct {
	MerchantID       snowflake.ID
	TotalVolume      float64
	MonthlyVolume    float64
	TransactionCount int64
}
