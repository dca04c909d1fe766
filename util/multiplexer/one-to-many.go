// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package multiplexer

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var ErrReceiverExists = errors.New("receiver with that name already exists")

type OneToMany[T any] struct {
	inbound   chan T
	outbound  map[string]chan T // Use map here to give names to outbound channels
	buffer    int
	lock      sync.Mutex
	closeChan chan struct{}
	closeOnce sync.Once
	closed    bool
}

// NewOneToMany creates a plexer whose receivers buffer up to buffer messages each
func NewOneToMany[T any](buffer int) *OneToMany[T] {
	return &OneToMany[T]{
		inbound:   make(chan T),
		outbound:  make(map[string]chan T),
		buffer:    buffer,
		closeChan: make(chan struct{}),
	}
}

// Get the channel to send things into
func (o *OneToMany[T]) GetSender() chan<- T {
	return o.inbound
}

// Create a new receiver for the multiplexer to send messages to.
// Please do not close this manually, instead use the CloseReceiver func
func (o *OneToMany[T]) MakeReceiver(name string) (<-chan T, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if _, ok := o.outbound[name]; ok {
		return nil, ErrReceiverExists
	}
	rec := make(chan T, o.buffer)
	o.outbound[name] = rec
	return rec, nil
}

// Closes a receiver channel with the given name and removes it from the multiplexer
func (o *OneToMany[T]) CloseReceiver(name string) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if val, ok := o.outbound[name]; ok {
		close(val)
		delete(o.outbound, name)
	}
}

// Start this one to many multiplexer
// intended to run as a goroutine (`go plexer.StartPlexer()`)
// Runs until CloseSender is called
func (o *OneToMany[T]) StartPlexer() {
	for {
		select {
		// Message gotten from inbound channel
		case msg := <-o.inbound:
			o.lock.Lock()
			// Send it to all outbound channels
			// A receiver that fell a full buffer behind misses the message instead of stalling everyone
			for name, c := range o.outbound {
				select {
				case c <- msg:
				default:
					logrus.WithFields(logrus.Fields{
						"receiver": name,
						"message":  msg,
					}).Warnln("Receiver buffer full, message dropped")
				}
			}
			o.lock.Unlock()
		// Told to close the plexer
		case <-o.closeChan:
			o.lock.Lock()
			// No need to send any signal there as readers will just stop
			for name, c := range o.outbound {
				close(c)
				delete(o.outbound, name)
			}
			o.closed = true
			o.lock.Unlock()
			return
		}
	}
}

// Close all receiver channels, mark the plexer as closed and stop the distribution goroutine
func (o *OneToMany[T]) CloseSender() {
	o.closeOnce.Do(func() { close(o.closeChan) })
}
