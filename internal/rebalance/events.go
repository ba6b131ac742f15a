package rebalance

import "time"

// Event is broadcast to subscribers on pass and attempt transitions.
type Event struct {
	Type      string    `json:"type"`
	Pair      string    `json:"pair,omitempty"`
	AmountSat int64     `json:"amount_sat,omitempty"`
	FeeSat    int64     `json:"fee_sat,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

func (w *Worker) Subscribe() chan Event {
	ch := make(chan Event, 50)
	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()
	return ch
}

func (w *Worker) Unsubscribe(ch chan Event) {
	w.mu.Lock()
	if _, ok := w.subs[ch]; ok {
		delete(w.subs, ch)
		close(ch)
	}
	w.mu.Unlock()
}

func (w *Worker) broadcast(evt Event) {
	evt.At = time.Now().UTC()
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
