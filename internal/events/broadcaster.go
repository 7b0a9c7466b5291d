package events

// Subscriber represents a channel that receives events as they are emitted.
type Subscriber chan Event

// Subscribe adds a new subscriber and returns its channel.
// The channel has a buffer to prevent blocking on slow clients.
func (l *Log) Subscribe() Subscriber {
	ch := make(Subscriber, 64)
	l.mu.Lock()
	l.subscribers[ch] = struct{}{}
	l.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (l *Log) Unsubscribe(sub Subscriber) {
	l.mu.Lock()
	if _, ok := l.subscribers[sub]; ok {
		delete(l.subscribers, sub)
		close(sub)
	}
	l.mu.Unlock()
}

// broadcast sends an event to all subscribers.
// Non-blocking: if a subscriber's buffer is full, the event is dropped for it.
func (l *Log) broadcast(e Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for sub := range l.subscribers {
		select {
		case sub <- e:
		default:
			// Buffer full, drop event for this slow subscriber.
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (l *Log) SubscriberCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subscribers)
}

// CloseAllSubscribers removes and closes every subscriber channel.
func (l *Log) CloseAllSubscribers() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for sub := range l.subscribers {
		delete(l.subscribers, sub)
		close(sub)
	}
}
