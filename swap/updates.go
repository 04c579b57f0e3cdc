package swap

import (
	"context"

	"github.com/lightningnetwork/lnd/queue"
)

const (
	// defaultQueueSize is the initial buffer size of update
	// subscriptions.
	defaultQueueSize = 20
)

// SubscribeSwapUpdates returns a channel that receives a snapshot of every
// order created or updated from now on. Slow subscribers don't block the
// orchestrator, updates queue up until they are read. The channel is closed
// once the context is cancelled.
func (o *Orchestrator) SubscribeSwapUpdates(ctx context.Context) (
	<-chan *Order, error) {

	updateQueue := queue.NewConcurrentQueue(defaultQueueSize)
	updateQueue.Start()

	o.Lock()
	id := o.nextSubscriberID
	o.nextSubscriberID++
	o.subscribers[id] = updateQueue
	o.Unlock()

	updates := make(chan *Order)

	go func() {
		defer close(updates)
		defer func() {
			o.Lock()
			delete(o.subscribers, id)
			o.Unlock()

			updateQueue.Stop()
		}()

		for {
			select {
			case item := <-updateQueue.ChanOut():
				order, ok := item.(*Order)
				if !ok {
					continue
				}

				select {
				case updates <- order:

				case <-ctx.Done():
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return updates, nil
}

// publish hands a snapshot of the order to all subscribers.
func (o *Orchestrator) publish(order *Order) {
	o.Lock()
	defer o.Unlock()

	for _, updateQueue := range o.subscribers {
		updateQueue.ChanIn() <- order.Copy()
	}
}
