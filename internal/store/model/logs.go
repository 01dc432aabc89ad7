package model

import "gorm.io/datatypes"

// ExitActionModel maps to 'exit_actions' table.
type ExitActionModel struct {
	ID          int64          `gorm:"column:id;primaryKey"`
	EntryID     string         `gorm:"column:entry_id;uniqueIndex"`
	CycleID     string         `gorm:"column:cycle_id;index"`
	Ticket      int64          `gorm:"column:ticket;index:idx_exit_actions_ticket,priority:1"`
	Symbol      string         `gorm:"column:symbol"`
	Action      string         `gorm:"column:action"`
	Status      string         `gorm:"column:status"`
	Phase       string         `gorm:"column:phase"`
	BeforeValue float64        `gorm:"column:before_value"`
	AfterValue  float64        `gorm:"column:after_value"`
	Reason      string         `gorm:"column:reason"`
	Market      datatypes.JSON `gorm:"column:market;type:TEXT"`
	Timestamp   int64          `gorm:"column:timestamp;index:idx_exit_actions_ticket,priority:2"`
}

func (ExitActionModel) TableName() string { return "exit_actions" }
