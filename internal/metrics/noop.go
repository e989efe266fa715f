package metrics

import "time"

// Noop игнорирует все метрики.
type Noop struct{}

// NewNoop возвращает Recorder, который ничего не делает.
func NewNoop() Noop { return Noop{} }

func (Noop) ObserveStoreOp(string, error, time.Duration) {}
func (Noop) SubscriptionOpened(string)                   {}
func (Noop) SubscriptionClosed(string)                   {}
func (Noop) IncSnapshot(string)                          {}
func (Noop) ObserveFeedRefresh(time.Duration)            {}
func (Noop) IncAuthorFallback()                          {}
func (Noop) IncAuthOutcome(string, error)                {}

var _ Recorder = Noop{}
