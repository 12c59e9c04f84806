// Package memory provides an in-process publisher for tests and
// single-node deployments.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// Message is one published payload, serialized the same way the real
// broker adapter serializes it.
type Message struct {
	Topic string
	Data  []byte
}

// Publisher collects published events in memory.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	nextID   int
}

// New constructs an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish implements report.Publisher.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.messages = append(p.messages, Message{Topic: topic, Data: data})
	return strconv.Itoa(p.nextID), nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
