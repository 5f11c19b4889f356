// Package notifier fans notifications out to every subscribed channel of
// every running chat client.
//
// Publish resolves the target channels up front and queues one delivery per
// channel. A fixed pool of workers drains the queue through a shared rate
// limiter; sends a client reports as not attempted are retried with
// backoff. Delivery errors the platform reports are logged by the client
// and not retried.
package notifier
