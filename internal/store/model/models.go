package model

import (
	"time"

	"gorm.io/datatypes"
)

// ExitRuleModel 活跃止损规则的持久化形式，进程重启后由此恢复。
type ExitRuleModel struct {
	Ticket          int64          `gorm:"column:ticket;primaryKey;autoIncrement:false"`
	Symbol          string         `gorm:"column:symbol;index"`
	Direction       string         `gorm:"column:direction"`
	EntryPrice      float64        `gorm:"column:entry_price"`
	InitialSL       float64        `gorm:"column:initial_sl"`
	InitialTP       float64        `gorm:"column:initial_tp"`
	Risk            float64        `gorm:"column:risk"`
	PotentialProfit float64        `gorm:"column:potential_profit"`
	ConfigJSON      datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	Phase           string         `gorm:"column:phase"`
	HybridApplied   bool           `gorm:"column:hybrid_applied"`
	PartialTaken    bool           `gorm:"column:partial_taken"`
	LastAppliedSL   float64        `gorm:"column:last_applied_sl"`
	GateFailures    int            `gorm:"column:gate_failures"`
	CreatedAtUnix   int64          `gorm:"column:created_at"`
	UpdatedAtUnix   int64          `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (ExitRuleModel) TableName() string { return "exit_rules" }
