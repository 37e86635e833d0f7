package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe registers handler for filter, which must sit under TopicPrefix
// and may use + and # wildcards. Subscribing to a filter again replaces its
// handler. Subscriptions are restored after a reconnect.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := checkTopic(filter, true); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrSubscribeFailed, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	previous, had := c.subscriptions[filter]
	c.subscriptions[filter] = subscription{topic: filter, qos: qos, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(filter, qos, c.wrapHandler(handler))
	err := waitToken(token)
	if err == nil {
		return nil
	}

	c.subMu.Lock()
	if had {
		c.subscriptions[filter] = previous
	} else {
		delete(c.subscriptions, filter)
	}
	c.subMu.Unlock()
	return fmt.Errorf("%w: %q: %w", ErrSubscribeFailed, filter, err)
}

// Unsubscribe removes a subscription made with Subscribe.
func (c *Client) Unsubscribe(filter string) error {
	if err := checkTopic(filter, true); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	delete(c.subscriptions, filter)
	c.subMu.Unlock()

	if err := waitToken(c.client.Unsubscribe(filter)); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrUnsubscribeFailed, filter, err)
	}
	return nil
}

// HasSubscription reports whether filter, exactly as given to Subscribe, is
// tracked.
func (c *Client) HasSubscription(filter string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[filter]
	return ok
}

func waitToken(token pahomqtt.Token) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("timeout after %v", defaultPublishTimeout)
	}
	return token.Error()
}
