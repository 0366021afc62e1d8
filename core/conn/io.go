package conn

import (
	"io"
	"syscall"
	"time"

	"github.com/liteworker/litehttpd/core/pools"
)

// readBufferSize is the staging buffer size requested from pools for
// reads, matching connection_handle_read's fixed-size read(2) chunk. The
// pool caps it at its largest tier, so each read(2) uses a
// pools.LargeBufferSize (32 KiB) buffer.
const readBufferSize = 64 * 1024

// writeBatchMax caps how many bytes of raw_out are offered to a single
// syscall.Write/throttle check, the Go equivalent of the original's
// write(2) iovec batching in connection_cb.
const writeBatchMax = 256 * 1024

// OnReadable drains as much as is available on the socket into raw_in
// without blocking, then advances the state machine. Returns io.EOF if the
// peer closed its write side; any other non-nil error is a hard socket
// error and the connection must be torn down.
func (c *Connection) OnReadable() error {
	bufp := pools.AcquireBuffer(readBufferSize)
	defer pools.ReleaseBuffer(bufp)
	buf := (*bufp)[:cap(*bufp)]

	for {
		n, err := syscall.Read(c.fd, buf)
		if n > 0 {
			c.rawIn.Append(buf[:n])
			c.Stats.BytesIn += int64(n)
		}
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			break
		}
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			c.Progress()
			return io.EOF
		}
		if n < len(buf) {
			break
		}
	}

	if c.state == StateKeepAlive {
		c.Restart()
	} else {
		c.Progress()
	}
	return nil
}

// OnWritable writes as much of raw_out to the socket as the connection's
// throttle credit and the socket's send buffer allow, without blocking.
// Returns an error only on a hard socket error; a throttled or
// would-block write is not an error, it just means the caller should keep
// write-readiness armed and try again later.
func (c *Connection) OnWritable() error {
	c.Stats.Tick(time.Now())
	for c.rawOut.Length() > 0 {
		segs := c.rawOut.PeekSegments(writeBatchMax)
		var total int64
		for _, s := range segs {
			total += int64(len(s))
		}
		if total == 0 {
			break
		}

		allowed := total
		if c.mag != nil {
			allowed = c.mag.WriteMax(total)
			if allowed == 0 {
				return nil
			}
		}

		var written int64
		for _, seg := range segs {
			if written >= allowed {
				break
			}
			want := seg
			if remain := allowed - written; int64(len(want)) > remain {
				want = want[:remain]
			}
			n, err := syscall.Write(c.fd, want)
			if n > 0 {
				written += int64(n)
				c.Stats.BytesOut += int64(n)
			}
			if err == syscall.EINTR {
				continue
			}
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				break
			}
			if err != nil {
				return err
			}
			if n < len(want) {
				break
			}
		}

		if c.mag != nil && written < allowed {
			c.mag.Return(allowed - written)
		}
		c.rawOut.Consume(written)
		if written == 0 {
			return nil
		}
	}

	c.Progress()
	return nil
}
