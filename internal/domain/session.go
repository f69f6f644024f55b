package domain

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of a bot session.
type SessionStatus string

const (
	SessionInitializing     SessionStatus = "initializing"
	SessionRunning          SessionStatus = "running"
	SessionRebalancing      SessionStatus = "rebalancing"
	SessionStopped          SessionStatus = "stopped"
	SessionEmergencyStopped SessionStatus = "emergency_stopped"
	SessionFailed           SessionStatus = "failed"
)

// Terminal reports whether the session has ended.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStopped, SessionEmergencyStopped, SessionFailed:
		return true
	}
	return false
}

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionInitializing: {SessionRunning, SessionStopped, SessionEmergencyStopped, SessionFailed},
	SessionRunning:      {SessionRebalancing, SessionStopped, SessionEmergencyStopped, SessionFailed},
	SessionRebalancing:  {SessionRunning, SessionStopped, SessionEmergencyStopped, SessionFailed},
}

// CanTransition reports whether from → to is a legal move.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	for _, next := range sessionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// StopCause says why a session is being stopped.
type StopCause string

const (
	StopUser      StopCause = "user"
	StopEmergency StopCause = "emergency"
	StopFailure   StopCause = "failure"
)

// TerminalStatus maps a stop cause to the session status it ends in.
func (c StopCause) TerminalStatus() SessionStatus {
	switch c {
	case StopEmergency:
		return SessionEmergencyStopped
	case StopFailure:
		return SessionFailed
	default:
		return SessionStopped
	}
}

// BotSession is one run of the grid on one symbol.
type BotSession struct {
	ID               string
	Symbol           string
	Capital          float64
	ActiveCapitalPct float64
	StepPercent      float64
	Levels           int
	CenterPrice      float64
	Status           SessionStatus
	Simulated        bool
	GrossProfit      float64
	RealizedProfit   float64
	TotalFees        float64
	TradeCount       int
	PeakEquity       float64
	StartedAt        time.Time
	LastRebalanceAt  time.Time
	LastCheckAt      time.Time
	StoppedAt        *time.Time
	StopReason       string
}

// Transition moves the session to a new status.
func (s *BotSession) Transition(to SessionStatus) error {
	if s.Status.Terminal() {
		return fmt.Errorf("session %s: %w: %s", s.ID, ErrTerminalStatus, s.Status)
	}
	if !s.Status.CanTransition(to) {
		return fmt.Errorf("session %s: %w: %s -> %s", s.ID, ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	return nil
}

// SessionSummary is the performance report produced on stop.
type SessionSummary struct {
	SessionID      string        `json:"session_id"`
	Symbol         string        `json:"symbol"`
	Status         SessionStatus `json:"status"`
	Reason         string        `json:"reason"`
	Simulated      bool          `json:"simulated"`
	StartedAt      time.Time     `json:"started_at"`
	StoppedAt      time.Time     `json:"stopped_at"`
	Duration       string        `json:"duration"`
	Trades         int           `json:"trades"`
	GrossProfit    float64       `json:"gross_profit"`
	Fees           float64       `json:"fees"`
	NetProfit      float64       `json:"net_profit"`
	FilledOrders   int           `json:"filled_orders"`
	CancelledOnEnd int           `json:"cancelled_on_end"`
	CancelErrors   int           `json:"cancel_errors"`
	ReturnPercent  float64       `json:"return_percent"`
}
