// Package gateway runs several ASTM links side by side.
//
// Each link has its own transport and link.Receiver and is served by its own
// goroutine. When the transport cannot be opened, or the receiver aborts, the
// link waits its reopen delay, opens the transport again and resets the
// receiver. All links hand their sessions to one shared sink.
//
//	gw, err := gateway.New([]gateway.LinkSpec{
//	    {
//	        Name: "esr-1",
//	        Open: func(ctx context.Context) (transport.Port, error) {
//	            return transport.DialTCP(ctx, "10.0.0.20:4001", 10*time.Second)
//	        },
//	    },
//	}, sink, logger.GetLogger())
//	if err != nil {
//	    return err
//	}
//
//	return gw.Run(ctx) // blocks until ctx is done
package gateway
