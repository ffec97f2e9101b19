/*
Package hwclient drives a Trezor-class hardware wallet through its
request/reply protocol: unlocking an existing wallet, creating a new one,
reading deterministic public keys and ciphering values with device keys.

Every reply from the device, and every change of the connection, is
published as a MessageEvent to the subscribers of the client. Device
Failure replies are events, not Go errors; methods only return errors for
transport problems and for requests that are malformed before they reach
the device.

# Usage

	c, err := hwclient.New()
	if err != nil {
		...
	}
	defer c.Close()

	ch := make(chan types.MessageEvent, 16)
	sub := c.Subscribe(ch)
	defer sub.Unsubscribe()

	if c.Attach() {
		err = c.Connect()
		...
		err = c.Initialise(ctx)
	}

Only one request is outstanding at a time. Methods may be called from
several goroutines; they are serialized.

# Testing

The simulator package provides a scripted device that can be passed with
WithBus, so the whole protocol can be exercised without hardware.
*/
package hwclient
