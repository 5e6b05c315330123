package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CopyBidirectional relays bytes between client and upstream until either
// side closes, then closes both. Bytes read from upstream are also written to
// tap when it is non-nil; tap errors are ignored.
func CopyBidirectional(ctx context.Context, client, upstream net.Conn, tap io.Writer) error {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = upstream.Close()
		})
	}
	defer closeBoth()

	g, gctx := errgroup.WithContext(ctx)

	// Canceling the context, or the first copy failing, unblocks the other.
	stop := context.AfterFunc(gctx, closeBoth)
	defer stop()

	g.Go(func() error {
		defer closeBoth()
		return relay(upstream, client, nil, "client read")
	})

	g.Go(func() error {
		defer closeBoth()
		return relay(client, upstream, tap, "upstream read")
	})

	return g.Wait()
}

func relay(dst io.Writer, src io.Reader, tap io.Writer, op string) error {
	bp := relayBuffers.Get()
	defer relayBuffers.Put(bp)
	buf := *bp

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if tap != nil {
				_, _ = tap.Write(buf[:n])
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return ignoreClosed(&SocketError{Op: "relay write", Err: werr})
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return ignoreClosed(&SocketError{Op: op, Err: rerr})
		}
	}
}

// ignoreClosed drops errors caused by our own Close racing a blocked copy.
func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
