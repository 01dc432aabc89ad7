package exit

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRule          = errors.New("invalid exit rule")
	ErrRuleExists           = errors.New("exit rule already registered")
	ErrRuleNotFound         = errors.New("exit rule not found")
	ErrProviderTimeout      = errors.New("provider timeout")
	ErrBrokerUnavailable    = errors.New("broker unavailable")
	ErrPositionNotFound     = errors.New("position not found")
	ErrPartialCloseRejected = errors.New("partial close rejected")
	ErrStopLossRejected     = errors.New("stop loss modification rejected")
	ErrOwnershipDeferred    = errors.New("ticket owned by another manager")
)

// InvalidRuleError 注册阶段的校验失败，errors.Is(err, ErrInvalidRule) 成立。
type InvalidRuleError struct {
	Ticket int64
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid exit rule for ticket %d: %s", e.Ticket, e.Reason)
}

func (e *InvalidRuleError) Unwrap() error { return ErrInvalidRule }

// IsTerminal 持仓已不存在，规则应被移除。
func IsTerminal(err error) bool {
	return errors.Is(err, ErrPositionNotFound)
}

// IsTransient 可在下一个周期重试的失败。
func IsTransient(err error) bool {
	if err == nil || IsTerminal(err) {
		return false
	}
	return errors.Is(err, ErrProviderTimeout) ||
		errors.Is(err, ErrBrokerUnavailable) ||
		errors.Is(err, ErrStopLossRejected) ||
		errors.Is(err, ErrPartialCloseRejected) ||
		errors.Is(err, ErrOwnershipDeferred) ||
		errors.Is(err, context.DeadlineExceeded)
}

// classifyCallError 把外部调用的错误归入领域错误，已归类的原样返回。
func classifyCallError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrPositionNotFound),
		errors.Is(err, ErrProviderTimeout),
		errors.Is(err, ErrBrokerUnavailable),
		errors.Is(err, ErrStopLossRejected),
		errors.Is(err, ErrPartialCloseRejected):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %v", op, ErrProviderTimeout, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrBrokerUnavailable, err)
	}
}

// missingPositionMarkers 只匹配指向 ticket 本身的原因；"symbol not found" 之类仍可重试。
var missingPositionMarkers = []string{
	"position not found",
	"ticket not found",
	"no such position",
	"position does not exist",
	"position closed",
	"position_closed",
	"position_not_found",
	"invalid ticket",
	"unknown ticket",
}

// rejectionError broker 返回 ok=false 时的错误；原因表明持仓已消失时归为终止错误。
func rejectionError(base error, reason string) error {
	lower := strings.ToLower(reason)
	for _, marker := range missingPositionMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", ErrPositionNotFound, reason)
		}
	}
	if strings.TrimSpace(reason) == "" {
		reason = "no reason given"
	}
	return fmt.Errorf("%w: %s", base, reason)
}
