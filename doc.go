// Package arbiter serializes request/response traffic over a serial link
// shared by many goroutines.
//
// An Arbiter owns the device and runs two workers: one drains a FIFO of
// write jobs to the wire, the other keeps reading so the device input
// buffer never overflows while a long write is in progress. Received bytes
// are cut into units (newline-terminated lines by default, or one unit per
// read in ModeRaw) and queued for Receive.
//
// Every blocking call takes an absolute deadline. A write that cannot
// finish before its deadline fails with ErrTimeout and the next job still
// runs. Receive returns ok == false with a nil error when nothing arrived
// in time; absence of data is not a failure.
//
// When the device goes away (unplugged, hung up, I/O error) the arbiter
// reopens it in the background with capped exponential backoff. The call
// that was in flight fails with ErrConnection; later calls work again once
// the device is back, without calling Open.
//
// Features:
//   - Raw termios and poll(2) on Linux, with a self-pipe so Close never hangs
//   - go.bug.st/serial opener for other platforms
//   - Line or raw segmentation with a bound on unit size
//   - Structured logging through zap
//
// Example usage:
//
//	arb := arbiter.New(arbiter.Config{Logger: logger})
//	err := arb.Open(arbiter.PortConfig{Device: "/dev/ttyUSB0", BaudRate: 115200})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer arb.Close()
//
//	if err := arb.TransmitString("C,INFO\n", time.Now().Add(time.Second)); err != nil {
//	    log.Println("write failed:", err)
//	}
//	line, ok, err := arb.ReceiveString(time.Now().Add(time.Second))
//	switch {
//	case errors.Is(err, arbiter.ErrConnection):
//	    log.Println("device lost, retry later:", err)
//	case err != nil:
//	    log.Println("receive failed:", err)
//	case !ok:
//	    log.Println("no reply")
//	default:
//	    fmt.Print("received: ", line)
//	}
package arbiter
