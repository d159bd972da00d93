// Package link implements the receiving side of an ASTM E1381 (CLSI LIS1-A)
// low-level link.
//
// A Receiver reads from a transport.Port, answers the sender's ENQ, frames and
// EOT with ACK or NAK, and turns the frame text into records and sessions:
//
//	Idle --ENQ/ACK--> AwaitingFirstFrame --frame/ACK--> ReceivingFrames
//	ReceivingFrames --EOT--> SessionClosed --> Idle
//	any session state --timeout, retry limit, port failure--> Aborted
//
// Invalid frames are answered with NAK up to the configured retry count.
// Records that cannot be decoded or arrive out of order are skipped and
// reported through the Observer, and the session continues. Every session,
// including a partial one cut short by an abort, is handed to a session.Sink.
//
// An aborted receiver stays Aborted until Reset is called with a reopened port.
//
// # Example
//
//	port := transport.NewStream("analyzer", conn)
//	cfg, err := link.NewConfig(link.WithName("analyzer"), link.WithAckOnEOT(true))
//	if err != nil {
//		return err
//	}
//	rx := link.NewReceiver(port, sink, cfg)
//	err = rx.Run(ctx)
package link
