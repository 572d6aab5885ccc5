// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := NewBroker[string]()
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel1()
	defer cancel2()

	b.Publish("hello")

	assert.Equal(t, "hello", <-ch1)
	assert.Equal(t, "hello", <-ch2)
}

func TestCancelStopsDeliveryAndClosesChannel(t *testing.T) {
	b := NewBroker[int]()
	ch, cancel := b.Subscribe()

	cancel()
	require.Equal(t, 0, b.SubscriberCount())

	b.Publish(42)
	_, open := <-ch
	assert.False(t, open)

	// Idempotent.
	cancel()
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroker[int]()
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < DefaultBufferSize+10; i++ {
		b.Publish(i)
	}

	// The buffer holds the first DefaultBufferSize events; the rest
	// were dropped rather than blocking the publisher.
	for i := 0; i < DefaultBufferSize; i++ {
		assert.Equal(t, i, <-ch)
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected buffered event %d", v)
	default:
	}
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	b := NewBroker[string]()
	ch, _ := b.Subscribe()

	b.Close()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())

	// Publish and Subscribe after Close are inert.
	b.Publish("late")
	late, cancel := b.Subscribe()
	defer cancel()
	_, open = <-late
	assert.False(t, open)
}
